package login

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pmkol/ichika-x/pkg/engine"
	"github.com/pmkol/ichika-x/pkg/pool"
)

// Flow is a resumable login handshake. Step performs the next exchange
// using answer, the reply to the previous Prompt, and reports where the
// handshake stands.
type Flow interface {
	Step(ctx context.Context, answer string) (Prompt, error)
}

// Resolver is consulted for every prompt. Its answer is only used for
// RequestSMS and NeedCaptcha; for the other prompts it is a notification.
type Resolver interface {
	Resolve(ctx context.Context, p Prompt) (string, error)
}

type ResolverFunc func(ctx context.Context, p Prompt) (string, error)

func (f ResolverFunc) Resolve(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}

// Drive runs flow until it succeeds or fails. Waiting on the resolver has
// no timeout; QR code polls are spaced interval apart, measured from the
// start of each poll.
func Drive(ctx context.Context, flow Flow, r Resolver, interval time.Duration) (*Success, error) {
	answer := ""
	for {
		start := time.Now()
		p, err := flow.Step(ctx, answer)
		if err != nil {
			return nil, err
		}
		answer, err = r.Resolve(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("resolver failed on %T: %w", p, err)
		}

		switch p := p.(type) {
		case *Success:
			return p, nil
		case *DisplayQRCode, *WaitingForScan, *WaitingForConfirm:
			if err := pool.Sleep(ctx, interval-time.Since(start)); err != nil {
				return nil, err
			}
		}
	}
}

// TokenStore reads persisted tokens.
type TokenStore interface {
	GetToken(ctx context.Context, uin int64, protocol string) ([]byte, error)
}

// TokenWriter persists tokens.
type TokenWriter interface {
	WriteToken(ctx context.Context, uin int64, protocol string, token []byte) error
}

// TryToken replays the persisted token of uin. It reports false with a nil
// error when there is no token or the server rejected it, and returns an
// error when the store or the transport failed.
func TryToken(ctx context.Context, auth engine.Authenticator, store TokenStore, uin int64, protocol string, logger *zap.Logger) (bool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	token, err := store.GetToken(ctx, uin, protocol)
	if err != nil {
		return false, fmt.Errorf("failed to read token: %w", err)
	}
	if len(token) == 0 {
		logger.Info("no saved token, login required", zap.Int64("uin", uin))
		return false, nil
	}
	resp, err := auth.TokenLogin(ctx, token)
	if err != nil {
		return false, fmt.Errorf("token login of %d: %w", uin, err)
	}
	if s, ok := resp.(*engine.LoginSuccess); ok {
		logger.Info("token login succeeded",
			zap.Int64("uin", uin),
			zap.String("nickname", s.AccountInfo.Nickname))
		return true, nil
	}
	logger.Warn("token rejected", zap.Int64("uin", uin), zap.String("response", fmt.Sprintf("%T", resp)))
	return false, nil
}

// SaveToken generates a token for the current session and persists it.
func SaveToken(ctx context.Context, auth engine.Authenticator, w TokenWriter, uin int64, protocol string) error {
	token, err := auth.GenToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}
	if err := w.WriteToken(ctx, uin, protocol, token); err != nil {
		return fmt.Errorf("failed to write token: %w", err)
	}
	return nil
}
