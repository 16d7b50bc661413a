// Package bot runs one logged in account: it owns the engine connection,
// the login handshake, reconnection and the cache backed client API.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pmkol/ichika-x/pkg/client_cache"
	"github.com/pmkol/ichika-x/pkg/connector"
	"github.com/pmkol/ichika-x/pkg/dispatch"
	"github.com/pmkol/ichika-x/pkg/engine"
	"github.com/pmkol/ichika-x/pkg/event"
	"github.com/pmkol/ichika-x/pkg/login"
	"github.com/pmkol/ichika-x/pkg/retry"
)

var nopLogger = zap.NewNop()

var (
	ErrClosed        = errors.New("client closed")
	ErrOffline       = errors.New("client offline")
	ErrTokenRejected = errors.New("saved token rejected")
)

type Client struct {
	opts    Options
	uin     int64
	engine  engine.Engine
	cache   *client_cache.ClientCache
	events  *dispatch.Dispatcher
	logger  *zap.Logger
	metrics *metrics

	online atomic.Bool

	mu       sync.Mutex
	loopDone <-chan struct{}
	addr     string

	// life ends on Close and bounds the heartbeat and Alive.
	life      context.Context
	closeLife context.CancelFunc
}

// Login connects uin and logs in, with the saved token when the server
// accepts it and with the configured interactive method otherwise.
func Login(ctx context.Context, opts Options) (*Client, error) {
	if err := opts.init(); err != nil {
		return nil, err
	}
	logger := opts.Logger.With(zap.Int64("uin", opts.Uin))

	dev, err := opts.Store.GetDevice(ctx, opts.Uin, opts.Protocol)
	if err != nil {
		return nil, fmt.Errorf("failed to load device: %w", err)
	}

	c := &Client{
		opts:    opts,
		uin:     opts.Uin,
		logger:  logger,
		metrics: newMetrics(),
	}
	c.life, c.closeLife = context.WithCancel(context.Background())

	eng, err := engine.New(opts.Engine, engine.Options{
		Uin:      opts.Uin,
		Protocol: opts.Protocol,
		Device:   dev,
		Handler:  engine.HandlerFunc(c.handle),
		Logger:   logger,
		Args:     opts.EngineArgs,
	})
	if err != nil {
		c.closeLife()
		return nil, err
	}
	c.engine = eng
	c.cache = opts.Caches.Cache(opts.Uin, eng)

	var reg prometheus.Registerer
	if opts.Metrics != nil {
		reg = prometheus.WrapRegistererWith(prometheus.Labels{"uin": strconv.FormatInt(opts.Uin, 10)}, opts.Metrics)
		c.metrics.register(reg)
	}
	c.events = dispatch.NewDispatcher(
		event.NewConverter(opts.Uin, c.cache, eng, logger),
		dispatch.Options{Logger: logger, Metrics: reg},
	)

	if err := c.login(ctx); err != nil {
		eng.Stop(engine.StatusStop)
		c.closeLife()
		return nil, err
	}
	return c, nil
}

// handle is the engine handler. Events never arrive before the first
// connect, by which time events is set.
func (c *Client) handle(ctx context.Context, ev engine.Event) {
	c.events.Handle(ctx, ev)
}

func (c *Client) connect(ctx context.Context) error {
	addrs, err := c.engine.Addresses(ctx)
	if err != nil {
		return fmt.Errorf("failed to get server addresses: %w", err)
	}
	conn, addr, err := connector.Dial(ctx, addrs, c.opts.Connector)
	if err != nil {
		return err
	}
	done := c.engine.Start(conn)
	c.mu.Lock()
	c.loopDone = done
	c.addr = addr
	c.mu.Unlock()
	c.logger.Info("connected", zap.String("addr", addr))
	return nil
}

func (c *Client) login(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}
	ok, err := login.TryToken(ctx, c.engine, c.opts.Store, c.uin, c.opts.Protocol, c.logger)
	if err != nil {
		c.logger.Warn("token login failed", zap.Error(err))
	}
	if !ok {
		s, err := login.Drive(ctx, c.opts.flow(c), c.opts.Resolver, c.opts.QRCodeInterval)
		if err != nil {
			return fmt.Errorf("login of %d: %w", c.uin, err)
		}
		c.logger.Info("login succeeded", zap.String("nickname", s.AccountInfo.Nickname))
	}
	return c.postLogin(ctx)
}

func (c *Client) postLogin(ctx context.Context) error {
	if err := c.engine.RegisterClient(ctx); err != nil {
		return fmt.Errorf("failed to register client: %w", err)
	}
	if !c.engine.HeartbeatEnabled() {
		go c.engine.Heartbeat(c.life)
	}
	if err := c.engine.RefreshStatus(ctx); err != nil {
		return fmt.Errorf("failed to refresh status: %w", err)
	}
	if err := login.SaveToken(ctx, c.engine, c.opts.Store, c.uin, c.opts.Protocol); err != nil {
		c.logger.Warn("token not saved", zap.Error(err))
	}
	c.setOnline(true)
	c.logger.Info("online")
	return nil
}

func (c *Client) setOnline(online bool) {
	c.online.Store(online)
	c.metrics.setOnline(online)
}

func (c *Client) currentLoop() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loopDone
}

// Alive blocks while the client is connected and reconnects after a
// network failure. It returns nil after Close, ctx.Err() when ctx ends, and
// an error when the connection ended for any other reason or reconnecting
// was given up.
func (c *Client) Alive(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.life, cancel)
	defer stop()

	for {
		select {
		case <-c.currentLoop():
		case <-ctx.Done():
			if c.life.Err() != nil {
				return nil
			}
			return ctx.Err()
		}
		c.setOnline(false)
		if c.life.Err() != nil {
			return nil
		}

		status := c.engine.Status()
		if status != engine.StatusNetworkOffline {
			c.logger.Warn("disconnected", zap.Stringer("status", status))
			return fmt.Errorf("%w: %s", ErrOffline, status)
		}
		c.logger.Warn("connection lost, reconnecting")
		if err := c.reconnect(ctx); err != nil {
			if c.life.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (c *Client) reconnect(ctx context.Context) error {
	attempt := func(ctx context.Context) (struct{}, error) {
		c.engine.Stop(engine.StatusNetworkOffline)
		if err := c.connect(ctx); err != nil {
			return struct{}{}, err
		}
		ok, err := login.TryToken(ctx, c.engine, c.opts.Store, c.uin, c.opts.Protocol, c.logger)
		if err != nil {
			return struct{}{}, err
		}
		if !ok {
			c.engine.Stop(engine.StatusStop)
			return struct{}{}, retry.Permanent(ErrTokenRejected)
		}
		return struct{}{}, c.postLogin(ctx)
	}
	notify := func(err error, next time.Duration) {
		c.metrics.reconnects.WithLabelValues("failure").Inc()
		c.logger.Warn("reconnect failed", zap.Error(err), zap.Duration("next_attempt", next))
	}

	if _, err := retry.Do(ctx, c.opts.Reconnect, attempt, notify); err != nil {
		c.metrics.reconnects.WithLabelValues("failure").Inc()
		return fmt.Errorf("reconnect of %d: %w", c.uin, err)
	}
	c.metrics.reconnects.WithLabelValues("success").Inc()
	c.logger.Info("reconnected")
	return nil
}

// Close stops the connection. Alive returns and pending retry waits end.
func (c *Client) Close() error {
	if c.life.Err() != nil {
		return nil
	}
	c.closeLife()
	c.setOnline(false)
	c.engine.Stop(engine.StatusStop)
	return nil
}

func (c *Client) Uin() int64 {
	return c.uin
}

func (c *Client) Protocol() string {
	return c.opts.Protocol
}

func (c *Client) IsOnline() bool {
	return c.online.Load()
}

// Addr is the server address of the current connection.
func (c *Client) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// Subscribe adds s to the event fan-out of this account.
func (c *Client) Subscribe(s dispatch.Subscriber) (unsubscribe func()) {
	return c.events.Subscribe(s)
}

func (c *Client) Cache() *client_cache.ClientCache {
	return c.cache
}

// wrap logs a failed engine operation and adds context to err.
func (c *Client) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	c.logger.Warn("operation failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s of %d: %w", op, c.uin, err)
}
