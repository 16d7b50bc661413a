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

// Package connector picks the fastest reachable server of an engine.
package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/proxy"
)

const defaultTimeout = 5 * time.Second

var (
	nopLogger    = zap.NewNop()
	ErrAllFailed = errors.New("all addresses failed")
)

// Dialer is satisfied by *net.Dialer and the dialers of x/net/proxy.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

type Options struct {
	// Timeout bounds each connection attempt. Default is 5s.
	Timeout time.Duration
	// Socks5 is an optional proxy address in host:port form.
	Socks5     string
	Socks5User string
	Socks5Pass string
	// Dialer overrides the dialer built from the fields above.
	Dialer Dialer
	Logger *zap.Logger
}

func (opts *Options) dialer() (Dialer, error) {
	if opts.Dialer != nil {
		return opts.Dialer, nil
	}
	direct := &net.Dialer{}
	if len(opts.Socks5) == 0 {
		return direct, nil
	}
	var auth *proxy.Auth
	if len(opts.Socks5User) > 0 {
		auth = &proxy.Auth{User: opts.Socks5User, Password: opts.Socks5Pass}
	}
	d, err := proxy.SOCKS5("tcp", opts.Socks5, auth, direct)
	if err != nil {
		return nil, fmt.Errorf("failed to init socks5 dialer, %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("socks5 dialer does not support context")
	}
	return cd, nil
}

type dialResult struct {
	conn net.Conn
	err  error
	addr string
}

// Dial connects to every address concurrently and returns the first
// connection established. Slower connections that still succeed are closed.
func Dial(ctx context.Context, addrs []string, opts Options) (net.Conn, string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if len(addrs) == 0 {
		return nil, "", ErrAllFailed
	}
	d, err := opts.dialer()
	if err != nil {
		return nil, "", err
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := make(chan *dialResult, len(addrs))
	for _, addr := range addrs {
		go func(addr string) {
			dialCtx, cancel := context.WithTimeout(raceCtx, timeout)
			defer cancel()
			conn, err := d.DialContext(dialCtx, "tcp", addr)
			c <- &dialResult{conn: conn, err: err, addr: addr}
		}(addr)
	}

	errMsgs := make([]string, 0, len(addrs))
	for i := 0; i < len(addrs); i++ {
		res := <-c
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				logger.Warn("connect timed out", zap.String("addr", res.addr))
			} else {
				logger.Warn("connect failed", zap.String("addr", res.addr), zap.Error(res.err))
			}
			errMsgs = append(errMsgs, fmt.Sprintf("[%s: %v]", res.addr, res.err))
			continue
		}

		logger.Info("connected", zap.String("addr", res.addr))
		if left := len(addrs) - i - 1; left > 0 {
			go closeLosers(c, left)
		}
		return res.conn, res.addr, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	detailedErr := fmt.Errorf("%w: %s", ErrAllFailed, strings.Join(errMsgs, ", "))
	logger.Error("failed to connect to any server", zap.Error(detailedErr))
	return nil, "", detailedErr
}

// closeLosers drains the remaining n results and closes every connection
// that made it anyway.
func closeLosers(c <-chan *dialResult, n int) {
	for i := 0; i < n; i++ {
		if res := <-c; res.conn != nil {
			res.conn.Close()
		}
	}
}
