// Package credential persists what an account needs to log in again
// without interaction: the session token and the device descriptor.
package credential

import (
	"context"
	"errors"

	"github.com/pmkol/ichika-x/pkg/engine"
)

var ErrUnavailable = errors.New("credential store temporarily unavailable")

// Store is keyed by account and protocol, since a token is only valid for
// the protocol it was issued to.
type Store interface {
	// GetToken returns nil, nil when no token was saved.
	GetToken(ctx context.Context, uin int64, protocol string) ([]byte, error)
	WriteToken(ctx context.Context, uin int64, protocol string, token []byte) error
	// GetDevice returns the saved descriptor, generating and saving one
	// the first time.
	GetDevice(ctx context.Context, uin int64, protocol string) (*engine.Device, error)
}
