package credential

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pmkol/ichika-x/pkg/device"
	"github.com/pmkol/ichika-x/pkg/engine"
	"github.com/pmkol/ichika-x/pkg/pool"
)

func TestPathStore(t *testing.T) {
	ctx := context.Background()
	s := NewPathStore(t.TempDir(), nil)

	tok, err := s.GetToken(ctx, 10001, "ipad")
	require.NoError(t, err)
	assert.Nil(t, tok)

	require.NoError(t, s.WriteToken(ctx, 10001, "ipad", []byte("t1")))
	require.NoError(t, s.WriteToken(ctx, 10001, "ipad", []byte("t2")))
	tok, err = s.GetToken(ctx, 10001, "ipad")
	require.NoError(t, err)
	assert.Equal(t, []byte("t2"), tok)

	tok, err = s.GetToken(ctx, 10001, "android_watch")
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestPathStore_Device(t *testing.T) {
	ctx := context.Background()
	s := NewPathStore(t.TempDir(), nil)

	d1, err := s.GetDevice(ctx, 10001, "ipad")
	require.NoError(t, err)
	assert.FileExists(t, s.DevicePath(10001, "ipad"))
	assert.Equal(t, device.ForAccount(10001, "ipad"), d1)

	// An edited file wins over regeneration.
	d1.IMEI = "860000000000006"
	require.NoError(t, s.writeFile(10001, s.DevicePath(10001, "ipad"), mustJSON(t, d1)))
	d2, err := s.GetDevice(ctx, 10001, "ipad")
	require.NoError(t, err)
	assert.Equal(t, "860000000000006", d2.IMEI)

	require.NoError(t, os.WriteFile(s.DevicePath(10001, "ipad"), []byte("{"), 0o600))
	_, err = s.GetDevice(ctx, 10001, "ipad")
	assert.Error(t, err)
}

func mustJSON(t *testing.T, d *engine.Device) []byte {
	t.Helper()
	b, err := json.Marshal(d)
	require.NoError(t, err)
	return b
}

type fakeRedis struct {
	redis.Cmdable

	mu    sync.Mutex
	kv    map[string][]byte
	err   error
	pings int
	sets  int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{kv: make(map[string][]byte)}
}

func (f *fakeRedis) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.kv[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.kv[key] = append([]byte(nil), value.([]byte)...)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return redis.NewStatusResult("PONG", f.err)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	f := newFakeRedis()
	s, err := NewRedisStore(RedisStoreOpts{Client: f})
	require.NoError(t, err)

	tok, err := s.GetToken(ctx, 10001, "ipad")
	require.NoError(t, err)
	assert.Nil(t, tok)

	require.NoError(t, s.WriteToken(ctx, 10001, "ipad", []byte("token")))
	tok, err = s.GetToken(ctx, 10001, "ipad")
	require.NoError(t, err)
	assert.Equal(t, []byte("token"), tok)
	assert.Contains(t, f.kv, "ichika:10001:ipad:token")

	d, err := s.GetDevice(ctx, 10001, "ipad")
	require.NoError(t, err)
	assert.Contains(t, f.kv, "ichika:10001:ipad:device")
	d2, err := s.GetDevice(ctx, 10001, "ipad")
	require.NoError(t, err)
	assert.Equal(t, d, d2)
}

func TestRedisStore_DisableAndRecover(t *testing.T) {
	ctx := context.Background()
	f := newFakeRedis()
	s, err := NewRedisStore(RedisStoreOpts{Client: f, PingBackoff: time.Millisecond})
	require.NoError(t, err)

	f.setErr(errors.New("connection refused"))
	_, err = s.GetToken(ctx, 10001, "ipad")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, s.disabled())

	// The deterministic device is still served.
	d, err := s.GetDevice(ctx, 10001, "ipad")
	require.NoError(t, err)
	assert.Equal(t, device.ForAccount(10001, "ipad"), d)
	f.mu.Lock()
	assert.Zero(t, f.sets, "no write is attempted while redis is down")
	f.mu.Unlock()

	f.setErr(nil)
	assert.Eventually(t, func() bool { return !s.disabled() }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, s.WriteToken(ctx, 10001, "ipad", []byte("token")))
}

func TestRedisStore_LogsStoredTime(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.DebugLevel)
	f := newFakeRedis()
	s, err := NewRedisStore(RedisStoreOpts{Client: f, Logger: zap.New(core)})
	require.NoError(t, err)

	stored := time.Unix(1700000000, 0)
	buf, data := packRedisData(stored, []byte("token"))
	f.kv[TokenKey(10001, "ipad")] = append([]byte(nil), data...)
	pool.ReleaseBuf(buf)

	tok, err := s.GetToken(ctx, 10001, "ipad")
	require.NoError(t, err)
	assert.Equal(t, []byte("token"), tok)

	entries := logs.FilterMessage("redis value loaded").All()
	require.Len(t, entries, 1)
	got, ok := entries[0].ContextMap()["stored_at"].(time.Time)
	require.True(t, ok)
	assert.True(t, stored.Equal(got))
}

func TestPackRedisData(t *testing.T) {
	now := time.Unix(1700000000, 0)
	buf, data := packRedisData(now, []byte("hello hello hello"))
	st, v, err := unpackRedisValue(data)
	require.NoError(t, err)
	assert.Equal(t, now, st)
	assert.Equal(t, []byte("hello hello hello"), v)
	pool.ReleaseBuf(buf)

	_, _, err = unpackRedisValue([]byte{1, 2})
	assert.Error(t, err)
}
