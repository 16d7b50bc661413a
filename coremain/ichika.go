package coremain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pmkol/ichika-x/mlog"
	"github.com/pmkol/ichika-x/pkg/bot"
	"github.com/pmkol/ichika-x/pkg/client_cache"
	"github.com/pmkol/ichika-x/pkg/connector"
	"github.com/pmkol/ichika-x/pkg/credential"
	"github.com/pmkol/ichika-x/pkg/dispatch"
	"github.com/pmkol/ichika-x/pkg/login"
	"github.com/pmkol/ichika-x/pkg/safe_close"
)

const defaultStoreDir = "bots"

type Ichika struct {
	logger *zap.Logger

	caches *client_cache.Registry
	store  credential.Store
	redis  redis.UniversalClient

	mu      sync.Mutex
	clients map[int64]*bot.Client

	httpAPIMux *http.ServeMux
	metricsReg *prometheus.Registry

	sc *safe_close.SafeClose
}

// RunIchika logs every account in and keeps them online until sc is closed
// or a fatal error happens. It always calls sc.Done.
func RunIchika(cfg *Config, sc *safe_close.SafeClose) error {
	defer sc.Done()

	lg, err := mlog.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	if len(cfg.Accounts) == 0 {
		return errors.New("no account is configured")
	}

	m := &Ichika{
		logger:     lg,
		clients:    make(map[int64]*bot.Client),
		httpAPIMux: http.NewServeMux(),
		metricsReg: newMetricsReg(),
		sc:         sc,
	}
	defer m.closeRedis()

	if err := m.initStorage(cfg); err != nil {
		return err
	}

	m.httpAPIMux.Handle("/metrics", promhttp.HandlerFor(m.metricsReg, promhttp.HandlerOpts{}))
	m.httpAPIMux.HandleFunc("/accounts", m.handleAccounts)
	m.httpAPIMux.HandleFunc("/debug/pprof/", pprof.Index)
	m.httpAPIMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	m.httpAPIMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	m.httpAPIMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	m.httpAPIMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	resolver := newConsoleResolver(lg)
	dupUin := make(map[int64]struct{})
	accounts := make([]bot.Options, 0, len(cfg.Accounts))
	for i := range cfg.Accounts {
		ac := &cfg.Accounts[i]
		if _, dup := dupUin[ac.Uin]; dup {
			return fmt.Errorf("duplicated account %d", ac.Uin)
		}
		dupUin[ac.Uin] = struct{}{}

		opts, err := m.botOptions(ac, resolver)
		if err != nil {
			return fmt.Errorf("invalid account #%d, %w", i, err)
		}
		accounts = append(accounts, opts)
	}
	for _, opts := range accounts {
		m.sc.AttachContext(func(ctx context.Context) error {
			return m.runAccount(ctx, opts, &cfg.Publish)
		})
	}

	m.startCacheCleaner(cfg.Cache.TTL)

	// Start http api server
	if httpAddr := cfg.API.HTTP; len(httpAddr) > 0 {
		httpServer := &http.Server{
			Addr:    httpAddr,
			Handler: m.httpAPIMux,
		}
		m.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
			defer done()
			errChan := make(chan error, 1)
			go func() {
				m.logger.Info("starting api http server", zap.String("addr", httpAddr))
				errChan <- httpServer.ListenAndServe()
			}()
			select {
			case err := <-errChan:
				m.sc.SendCloseSignal(err)
			case <-closeSignal:
				httpServer.Close()
			}
		})
	}

	<-m.sc.ReceiveCloseSignal()
	m.logger.Info("shutting down")
	m.sc.Done()
	m.sc.CloseWait()
	return m.sc.Err()
}

func (m *Ichika) initStorage(cfg *Config) error {
	if len(cfg.Redis.URL) > 0 {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url, %w", err)
		}
		m.redis = redis.NewClient(opt)
	}

	switch cfg.Store.Type {
	case "", "path":
		dir := cfg.Store.Dir
		if len(dir) == 0 {
			dir = defaultStoreDir
		}
		m.store = credential.NewPathStore(dir, m.logger)
	case "redis":
		if m.redis == nil {
			return errors.New("redis store requires redis.url")
		}
		s, err := credential.NewRedisStore(credential.RedisStoreOpts{
			Client:        m.redis,
			ClientTimeout: time.Duration(cfg.Redis.Timeout) * time.Millisecond,
			Logger:        m.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to init redis store, %w", err)
		}
		m.store = s
	default:
		return fmt.Errorf("unknown store type %q", cfg.Store.Type)
	}

	if len(cfg.Publish.Channel) > 0 && m.redis == nil {
		return errors.New("event publishing requires redis.url")
	}

	m.caches = client_cache.NewRegistry(client_cache.Options{
		TTL:        time.Duration(cfg.Cache.TTL) * time.Second,
		MaxGroups:  cfg.Cache.MaxGroups,
		MaxMembers: cfg.Cache.MaxMembers,
		Retry:      cfg.Cache.Retry,
		Logger:     m.logger,
		Metrics:    m.GetMetricsReg(),
	})
	return nil
}

func (m *Ichika) closeRedis() {
	if m.redis != nil {
		m.redis.Close()
	}
}

func (m *Ichika) botOptions(ac *AccountConfig, resolver login.Resolver) (bot.Options, error) {
	cred := login.Credential{Password: ac.Password}
	if len(ac.PasswordMD5) > 0 {
		b, err := hex.DecodeString(ac.PasswordMD5)
		if err != nil || len(b) != 16 {
			return bot.Options{}, errors.New("password_md5 must be 32 hex characters")
		}
		var sum [16]byte
		copy(sum[:], b)
		cred.PasswordMD5 = &sum
	}
	return bot.Options{
		Uin:            ac.Uin,
		Protocol:       ac.Protocol,
		Engine:         ac.Engine,
		EngineArgs:     ac.Args,
		Method:         ac.Login,
		Credential:     cred,
		UseSMS:         ac.UseSMS,
		QRCodeInterval: time.Duration(ac.QRCodeInterval) * time.Second,
		Resolver:       resolver,
		Store:          m.store,
		Caches:         m.caches,
		Connector: connector.Options{
			Socks5:     ac.Socks5.Addr,
			Socks5User: ac.Socks5.Username,
			Socks5Pass: ac.Socks5.Password,
		},
		Reconnect: ac.Reconnect,
		Logger:    m.logger,
		Metrics:   m.GetMetricsReg(),
	}, nil
}

func (m *Ichika) runAccount(ctx context.Context, opts bot.Options, pc *PublishConfig) error {
	m.logger.Info("logging in", zap.Int64("uin", opts.Uin), zap.String("protocol", opts.Protocol))
	c, err := bot.Login(ctx, opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("account %d, %w", opts.Uin, err)
	}
	defer c.Close()

	if pc.Log {
		defer c.Subscribe(dispatch.NewLogSubscriber(m.logger))()
	}
	if len(pc.Channel) > 0 {
		defer c.Subscribe(dispatch.NewRedisPublisher(m.redis, pc.Channel))()
	}

	m.mu.Lock()
	m.clients[c.Uin()] = c
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.clients, c.Uin())
		m.mu.Unlock()
		m.caches.Drop(c.Uin())
	}()

	if err := c.Alive(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("account %d, %w", opts.Uin, err)
	}
	return nil
}

func (m *Ichika) startCacheCleaner(ttl int) {
	interval := time.Duration(ttl) * time.Second
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	m.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := m.caches.Clean(); n > 0 {
					m.logger.Debug("expired cache entries removed", zap.Int("removed", n))
				}
			case <-closeSignal:
				return
			}
		}
	})
}

type accountStatus struct {
	Uin      int64              `json:"uin"`
	Protocol string             `json:"protocol"`
	Nickname string             `json:"nickname"`
	Online   bool               `json:"online"`
	Addr     string             `json:"addr"`
	Cache    client_cache.Stats `json:"cache"`
}

func (m *Ichika) accounts() []accountStatus {
	stats := m.caches.Stats()
	m.mu.Lock()
	out := make([]accountStatus, 0, len(m.clients))
	for uin, c := range m.clients {
		out = append(out, accountStatus{
			Uin:      uin,
			Protocol: c.Protocol(),
			Nickname: c.AccountInfo().Nickname,
			Online:   c.IsOnline(),
			Addr:     c.Addr(),
			Cache:    stats[uin],
		})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Uin < out[j].Uin })
	return out
}

func (m *Ichika) handleAccounts(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m.accounts()); err != nil {
		m.logger.Warn("failed to write accounts", zap.Error(err))
	}
}

func (m *Ichika) GetSafeClose() *safe_close.SafeClose {
	return m.sc
}

func (m *Ichika) GetMetricsReg() prometheus.Registerer {
	return prometheus.WrapRegistererWithPrefix("ichika_", m.metricsReg)
}

func (m *Ichika) GetHTTPAPIMux() *http.ServeMux {
	return m.httpAPIMux
}

func newMetricsReg() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}
