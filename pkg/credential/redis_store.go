/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of ichika-x.
 *
 * ichika-x is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * ichika-x is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package credential

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang/snappy"
	"go.uber.org/zap"

	"github.com/pmkol/ichika-x/pkg/device"
	"github.com/pmkol/ichika-x/pkg/engine"
	"github.com/pmkol/ichika-x/pkg/pool"
)

var nopLogger = zap.NewNop()

const keyPrefix = "ichika"

type RedisStoreOpts struct {
	// Client cannot be nil.
	Client redis.Cmdable

	// ClientCloser closes Client when RedisStore.Close is called.
	// Optional.
	ClientCloser io.Closer

	// ClientTimeout specifies the timeout for read and write operations.
	// Default is 1s.
	ClientTimeout time.Duration

	// PingBackoff is the first wait before pinging a failed client.
	// Default is 100ms.
	PingBackoff time.Duration

	// Logger is the *zap.Logger for this RedisStore.
	// A nil Logger will disable logging.
	Logger *zap.Logger
}

func (opts *RedisStoreOpts) Init() error {
	if opts.Client == nil {
		return errors.New("nil client")
	}
	if opts.ClientTimeout <= 0 {
		opts.ClientTimeout = time.Second
	}
	if opts.PingBackoff <= 0 {
		opts.PingBackoff = time.Millisecond * 100
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

// RedisStore keeps credentials in redis. After a client error it reports
// ErrUnavailable until a background ping succeeds again.
type RedisStore struct {
	opts           RedisStoreOpts
	clientDisabled uint32
}

func NewRedisStore(opts RedisStoreOpts) (*RedisStore, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &RedisStore{opts: opts}, nil
}

func TokenKey(uin int64, protocol string) string {
	return fmt.Sprintf("%s:%d:%s:token", keyPrefix, uin, protocol)
}

func DeviceKey(uin int64, protocol string) string {
	return fmt.Sprintf("%s:%d:%s:device", keyPrefix, uin, protocol)
}

func (r *RedisStore) disabled() bool {
	return atomic.LoadUint32(&r.clientDisabled) != 0
}

func (r *RedisStore) disableClient() {
	if atomic.CompareAndSwapUint32(&r.clientDisabled, 0, 1) {
		r.opts.Logger.Warn("redis temporarily disabled")
		go func() {
			const maxBackoff = time.Second * 30
			backoff := r.opts.PingBackoff
			for {
				time.Sleep(backoff)
				ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*500)
				err := r.opts.Client.Ping(ctx).Err()
				cancel()
				if err != nil {
					if backoff >= maxBackoff {
						backoff = maxBackoff
					} else {
						backoff += time.Duration(rand.Intn(1000))*time.Millisecond + time.Second
					}
					r.opts.Logger.Warn("redis ping failed", zap.Error(err), zap.Duration("next_ping", backoff))
					continue
				}
				atomic.StoreUint32(&r.clientDisabled, 0)
				r.opts.Logger.Info("redis enabled")
				return
			}
		}()
	}
}

func (r *RedisStore) get(ctx context.Context, key string) ([]byte, error) {
	if r.disabled() {
		return nil, ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.ClientTimeout)
	defer cancel()
	b, err := r.opts.Client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		r.opts.Logger.Warn("redis get", zap.String("key", key), zap.Error(err))
		r.disableClient()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	storedTime, v, err := unpackRedisValue(b)
	if err != nil {
		return nil, fmt.Errorf("invalid value of %s: %w", key, err)
	}
	r.opts.Logger.Debug("redis value loaded", zap.String("key", key), zap.Time("stored_at", storedTime))
	return v, nil
}

func (r *RedisStore) set(ctx context.Context, key string, v []byte) error {
	if r.disabled() {
		return ErrUnavailable
	}
	buf, data := packRedisData(time.Now(), v)
	defer pool.ReleaseBuf(buf)
	ctx, cancel := context.WithTimeout(ctx, r.opts.ClientTimeout)
	defer cancel()
	if err := r.opts.Client.Set(ctx, key, data, 0).Err(); err != nil {
		r.opts.Logger.Warn("redis set", zap.String("key", key), zap.Error(err))
		r.disableClient()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisStore) GetToken(ctx context.Context, uin int64, protocol string) ([]byte, error) {
	return r.get(ctx, TokenKey(uin, protocol))
}

func (r *RedisStore) WriteToken(ctx context.Context, uin int64, protocol string, token []byte) error {
	return r.set(ctx, TokenKey(uin, protocol), token)
}

// GetDevice falls back to the deterministic descriptor of the account when
// redis is unavailable, so a later save stores the same identity.
func (r *RedisStore) GetDevice(ctx context.Context, uin int64, protocol string) (*engine.Device, error) {
	key := DeviceKey(uin, protocol)
	b, err := r.get(ctx, key)
	unavailable := errors.Is(err, ErrUnavailable)
	if err != nil && !unavailable {
		return nil, err
	}
	if len(b) > 0 {
		d := new(engine.Device)
		if err := json.Unmarshal(b, d); err != nil {
			return nil, fmt.Errorf("invalid device of %d: %w", uin, err)
		}
		return d, nil
	}

	d := device.ForAccount(uin, protocol)
	if unavailable {
		return d, nil
	}
	b, err = json.Marshal(d)
	if err != nil {
		return nil, err
	}
	if err := r.set(ctx, key, b); err != nil {
		r.opts.Logger.Warn("device not saved", zap.Int64("uin", uin), zap.Error(err))
	}
	return d, nil
}

// Close closes the redis client.
func (r *RedisStore) Close() error {
	if f := r.opts.ClientCloser; f != nil {
		return f.Close()
	}
	return nil
}

// packRedisData packs storedTime and the snappy encoding of v into one byte
// slice. buf should be released by pool.ReleaseBuf() once data is unused.
func packRedisData(storedTime time.Time, v []byte) (buf *[]byte, data []byte) {
	buf = pool.GetBuf(8 + snappy.MaxEncodedLen(len(v)))
	b := (*buf)[:cap(*buf)]
	binary.BigEndian.PutUint64(b[:8], uint64(storedTime.Unix()))
	enc := snappy.Encode(b[8:], v)
	return buf, b[:8+len(enc)]
}

func unpackRedisValue(b []byte) (storedTime time.Time, v []byte, err error) {
	if len(b) < 8 {
		return time.Time{}, nil, errors.New("b is too short")
	}
	storedTime = time.Unix(int64(binary.BigEndian.Uint64(b[:8])), 0)
	v, err = snappy.Decode(nil, b[8:])
	if err != nil {
		return time.Time{}, nil, err
	}
	return storedTime, v, nil
}
