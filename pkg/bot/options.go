package bot

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pmkol/ichika-x/pkg/client_cache"
	"github.com/pmkol/ichika-x/pkg/connector"
	"github.com/pmkol/ichika-x/pkg/credential"
	"github.com/pmkol/ichika-x/pkg/login"
	"github.com/pmkol/ichika-x/pkg/retry"
)

const (
	MethodPassword = "password"
	MethodQRCode   = "qrcode"

	defaultQRCodeInterval = 5 * time.Second
)

type Options struct {
	Uin      int64
	Protocol string
	// Engine is the registered engine name.
	Engine     string
	EngineArgs map[string]any

	// Method is MethodPassword or MethodQRCode. It is used only when no
	// saved token is accepted.
	Method         string
	Credential     login.Credential
	UseSMS         bool
	QRCodeInterval time.Duration
	Resolver       login.Resolver

	// Store cannot be nil.
	Store credential.Store
	// Caches cannot be nil.
	Caches    *client_cache.Registry
	Connector connector.Options
	// Reconnect defaults to retry.ReconnectPolicy.
	Reconnect retry.Policy

	Logger *zap.Logger
	// Metrics, when set, receives the per account counters labeled with
	// the uin. An account can only be registered once.
	Metrics prometheus.Registerer
}

func (opts *Options) init() error {
	if opts.Uin <= 0 {
		return errors.New("invalid uin")
	}
	if opts.Store == nil {
		return errors.New("nil credential store")
	}
	if opts.Caches == nil {
		return errors.New("nil cache registry")
	}
	switch opts.Method {
	case "", MethodPassword:
		opts.Method = MethodPassword
		if len(opts.Credential.Password) == 0 && opts.Credential.PasswordMD5 == nil {
			return errors.New("password login without password")
		}
	case MethodQRCode:
	default:
		return fmt.Errorf("unknown login method %q", opts.Method)
	}
	if opts.Resolver == nil {
		return errors.New("nil login resolver")
	}
	if opts.QRCodeInterval <= 0 {
		opts.QRCodeInterval = defaultQRCodeInterval
	}
	if opts.Reconnect == (retry.Policy{}) {
		opts.Reconnect = retry.ReconnectPolicy
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	if opts.Connector.Logger == nil {
		opts.Connector.Logger = opts.Logger
	}
	return nil
}

func (opts *Options) flow(c *Client) login.Flow {
	if opts.Method == MethodQRCode {
		return login.NewQRCodeFlow(c.engine, opts.Uin)
	}
	return login.NewPasswordFlow(c.engine, opts.Uin, opts.Credential, opts.UseSMS)
}
