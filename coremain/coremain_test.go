package coremain

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pmkol/ichika-x/pkg/bot"
	"github.com/pmkol/ichika-x/pkg/client_cache"
	"github.com/pmkol/ichika-x/pkg/connector"
	"github.com/pmkol/ichika-x/pkg/credential"
	"github.com/pmkol/ichika-x/pkg/device"
	"github.com/pmkol/ichika-x/pkg/engine"
	"github.com/pmkol/ichika-x/pkg/engine/enginetest"
	"github.com/pmkol/ichika-x/pkg/entity"
	"github.com/pmkol/ichika-x/pkg/login"
	"github.com/pmkol/ichika-x/pkg/retry"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestGenConfig_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "config.yaml")
	cmd := newGenConfigCmd()
	cmd.SetArgs([]string{"-o", out})
	require.NoError(t, cmd.Execute())

	cfg, used, err := loadConfig(out)
	require.NoError(t, err)
	assert.Equal(t, out, used)
	assert.Equal(t, defaultConfig(), cfg)

	cmd = newGenConfigCmd()
	cmd.SetArgs([]string{"-o", out})
	assert.Error(t, cmd.Execute())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", `
log:
  level: debug
store:
  type: redis
redis:
  url: redis://127.0.0.1:6379/0
cache:
  ttl: "300"
  retry:
    factor: 2
    min_delay: 500ms
    max_delay: 2s
    max_times: 5
accounts:
  - uin: 10001
    protocol: android_watch
    engine: ricq
    login: password
    password_md5: 0123456789abcdef0123456789abcdef
    socks5:
      addr: 127.0.0.1:1080
    args:
      sign_server: http://127.0.0.1:8080
`)
	cfg, _, err := loadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 300, cfg.Cache.TTL)
	assert.Equal(t, retry.Policy{Factor: 2, MinDelay: 500 * time.Millisecond, MaxDelay: 2 * time.Second, MaxTimes: 5}, cfg.Cache.Retry)
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "127.0.0.1:1080", cfg.Accounts[0].Socks5.Addr)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.Accounts[0].Args["sign_server"])

	p = writeFile(t, dir, "bad.yaml", "accounts:\n  - uin: 1\n    passwd: x\n")
	_, _, err = loadConfig(p)
	assert.Error(t, err)
}

func TestMergeInclude(t *testing.T) {
	dir := t.TempDir()
	sub2 := writeFile(t, dir, "sub2.yaml", "accounts:\n  - uin: 3\n")
	sub1 := writeFile(t, dir, "sub1.yaml", "include: ["+sub2+"]\naccounts:\n  - uin: 2\n")
	main := writeFile(t, dir, "main.yaml", "include: ["+sub1+"]\naccounts:\n  - uin: 1\n")

	cfg, used, err := loadConfig(main)
	require.NoError(t, err)
	require.NoError(t, mergeInclude(cfg, 0, []string{used}))
	var uins []int64
	for _, a := range cfg.Accounts {
		uins = append(uins, a.Uin)
	}
	assert.Equal(t, []int64{3, 2, 1}, uins)

	loop := filepath.Join(dir, "loop.yaml")
	writeFile(t, dir, "loop.yaml", "include: ["+loop+"]\n")
	cfg, _, err = loadConfig(loop)
	require.NoError(t, err)
	assert.ErrorContains(t, mergeInclude(cfg, 0, []string{loop}), "maximum include depth")
}

func TestGenDevice(t *testing.T) {
	var buf bytes.Buffer
	cmd := newGenDeviceCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"-u", "10001", "-p", "ipad"})
	require.NoError(t, cmd.Execute())

	d := new(engine.Device)
	require.NoError(t, json.Unmarshal(buf.Bytes(), d))
	assert.Equal(t, device.ForAccount(10001, "ipad"), d)

	cmd = newGenDeviceCmd()
	cmd.SetArgs([]string{})
	assert.Error(t, cmd.Execute())
}

func TestBotOptions(t *testing.T) {
	m := &Ichika{store: credential.NewPathStore(t.TempDir(), nil)}
	opts, err := m.botOptions(&AccountConfig{
		Uin:            10001,
		PasswordMD5:    "0123456789abcdef0123456789abcdef",
		QRCodeInterval: 3,
		Socks5:         Socks5Config{Addr: "127.0.0.1:1080", Username: "u"},
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, opts.Credential.PasswordMD5)
	assert.Equal(t, byte(0x01), opts.Credential.PasswordMD5[0])
	assert.Equal(t, 3*time.Second, opts.QRCodeInterval)
	assert.Equal(t, "u", opts.Connector.Socks5User)

	_, err = m.botOptions(&AccountConfig{Uin: 1, PasswordMD5: "xyz"}, nil)
	assert.Error(t, err)
}

func newTestResolver(input string) (*consoleResolver, *bytes.Buffer) {
	out := new(bytes.Buffer)
	return &consoleResolver{
		logger: zap.NewNop(),
		in:     bufio.NewReader(strings.NewReader(input)),
		out:    out,
		lines:  make(chan lineResult, 1),
	}, out
}

func TestConsoleResolver(t *testing.T) {
	r, out := newTestResolver("123456\n\nticket-1")
	r.qrDir = t.TempDir()
	ctx := context.Background()

	a, err := r.Resolve(ctx, &login.RequestSMS{Message: "locked", Phone: "138"})
	require.NoError(t, err)
	assert.Equal(t, "123456", a)
	assert.Contains(t, out.String(), "138")

	a, err = r.Resolve(ctx, &login.DeviceLocked{VerifyURL: "https://verify"})
	require.NoError(t, err)
	assert.Empty(t, a)

	a, err = r.Resolve(ctx, &login.NeedCaptcha{VerifyURL: "https://captcha"})
	require.NoError(t, err)
	assert.Equal(t, "ticket-1", a)

	_, err = r.Resolve(ctx, &login.NeedCaptcha{VerifyURL: "https://captcha"})
	assert.Error(t, err)

	_, err = r.Resolve(ctx, &login.DisplayQRCode{Image: []byte("png")})
	require.NoError(t, err)
	files, err := filepath.Glob(filepath.Join(r.qrDir, "qrcode-*.png"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestConsoleResolver_ContextCanceled(t *testing.T) {
	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pw.Close()
	r := &consoleResolver{
		logger: zap.NewNop(),
		in:     bufio.NewReader(pr),
		out:    new(bytes.Buffer),
		lines:  make(chan lineResult, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Resolve(ctx, &login.NeedCaptcha{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandleAccounts(t *testing.T) {
	e := enginetest.New(10001)
	enginetest.RegisterFactory("coremain-accounts", e)
	e.PushLogin(&engine.LoginSuccess{})
	e.SetGroup(&entity.Group{Code: 1001})

	m := &Ichika{
		logger:  zap.NewNop(),
		caches:  client_cache.NewRegistry(client_cache.Options{}),
		clients: make(map[int64]*bot.Client),
	}
	c, err := bot.Login(context.Background(), bot.Options{
		Uin:        10001,
		Protocol:   "ipad",
		Engine:     "coremain-accounts",
		Credential: login.Credential{Password: "pw"},
		Resolver: login.ResolverFunc(func(context.Context, login.Prompt) (string, error) {
			return "", nil
		}),
		Store:     credential.NewPathStore(t.TempDir(), nil),
		Caches:    m.caches,
		Connector: connector.Options{Dialer: pipeDialer{}},
	})
	require.NoError(t, err)
	defer c.Close()
	m.clients[c.Uin()] = c
	_, err = c.GetGroup(context.Background(), 1001)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	m.handleAccounts(w, httptest.NewRequest("GET", "/accounts", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var got []accountStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(10001), got[0].Uin)
	assert.True(t, got[0].Online)
	assert.Equal(t, "fake", got[0].Nickname)
	assert.Equal(t, 1, got[0].Cache.Groups)
}

type pipeDialer struct{}

func (pipeDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	c, _ := net.Pipe()
	return c, nil
}
