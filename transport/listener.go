// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Listener serves HTTP on a TCP address.
type Listener struct {
	listener net.Listener
	server   *http.Server
}

// Listen binds address (e.g., "127.0.0.1:9464"). Use port 0 for a
// random available port.
func Listen(address string) (*Listener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &Listener{
		listener: listener,
		server: &http.Server{
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
	}, nil
}

// Serve dispatches connections to handler until ctx is cancelled or
// Close is called. Returns nil on clean shutdown.
func (l *Listener) Serve(ctx context.Context, handler http.Handler) error {
	l.server.Handler = handler
	stop := context.AfterFunc(ctx, func() {
		shutdownContext, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		l.server.Shutdown(shutdownContext)
	})
	defer stop()

	err := l.server.Serve(l.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Address returns the bound address in "host:port" format.
func (l *Listener) Address() string {
	return l.listener.Addr().String()
}

// Close shuts the listener down immediately. It is safe to call
// before Serve.
func (l *Listener) Close() error {
	err := l.server.Close()
	if closeErr := l.listener.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) && err == nil {
		err = closeErr
	}
	return err
}
