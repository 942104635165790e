// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventloop provides the single goroutine on which all sync
// state is mutated. Poll completions, push frames, upload results, and
// timer callbacks arrive on arbitrary goroutines and hand their work to
// the Loop as closures; the Loop runs them one at a time in arrival
// order, so the bus, the store, the message collections, and the push
// state machine never see concurrent access.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrStopped is returned by Call once the loop has exited.
var ErrStopped = errors.New("eventloop: stopped")

// DefaultCapacity is the inbox depth when New is given zero.
const DefaultCapacity = 256

// Loop serialises closures onto one goroutine.
type Loop struct {
	logger *slog.Logger
	inbox  chan func()
	done   chan struct{}
}

// New returns a loop with the given inbox depth. Run must be called
// for queued work to execute.
func New(capacity int, logger *slog.Logger) *Loop {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loop{
		logger: logger,
		inbox:  make(chan func(), capacity),
		done:   make(chan struct{}),
	}
}

// Run executes queued closures until ctx is cancelled. Work still
// queued at cancellation is discarded. Run must be called once.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.inbox:
			l.execute(fn)
		}
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Do queues fn and returns without waiting. It blocks while the inbox
// is full and reports false if the loop has stopped. Calling Do from
// inside a closure is allowed but must not fill the inbox.
func (l *Loop) Do(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.inbox <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call queues fn and waits for it to finish. It must not be called
// from inside a closure.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	queued := l.Do(func() {
		defer close(finished)
		fn()
	})
	if !queued {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// The closure may have run just before Run returned.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) execute(fn func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			l.logger.Error("event loop task panicked", "panic", fmt.Sprint(recovered))
		}
	}()
	fn()
}
