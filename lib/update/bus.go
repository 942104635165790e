// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Consumer receives posted updates. Consumers run on the posting
// goroutine, which in gmtsync is always the sync event loop.
type Consumer func(Update)

// SubscriptionID identifies one Subscribe call. IDs are random UUIDs
// and are never handed out twice.
type SubscriptionID string

// Observer is notified of bus activity. *metrics.Metrics implements it.
type Observer interface {
	UpdatePosted(kind string)
	ConsumerPanicked(kind string)
}

type subscription struct {
	id       SubscriptionID
	consumer Consumer
}

// Bus fans updates out to subscribers in registration order.
//
// Post delivers against a snapshot of the subscriber list taken when
// it starts, so consumers may Subscribe or Unsubscribe (themselves or
// others) during delivery without deadlocking or disturbing the
// in-flight Post. A consumer that panics is logged and skipped; the
// remaining consumers still see the update.
type Bus struct {
	logger   *slog.Logger
	observer Observer

	mu            sync.Mutex
	subscriptions []subscription
}

// NewBus returns an empty bus. A nil logger discards; a nil observer
// is ignored.
func NewBus(logger *slog.Logger, observer Observer) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{logger: logger, observer: observer}
}

// Subscribe registers consumer and returns its ID.
func (b *Bus) Subscribe(consumer Consumer) SubscriptionID {
	id := SubscriptionID(uuid.NewString())
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = append(b.subscriptions, subscription{id: id, consumer: consumer})
	return id
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = slices.DeleteFunc(b.subscriptions, func(entry subscription) bool {
		return entry.id == id
	})
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscriptions)
}

// Post delivers each update, in order, to every subscriber.
func (b *Bus) Post(updates ...Update) {
	if len(updates) == 0 {
		return
	}
	b.mu.Lock()
	snapshot := slices.Clone(b.subscriptions)
	b.mu.Unlock()

	for _, u := range updates {
		if b.observer != nil {
			b.observer.UpdatePosted(u.Kind())
		}
		for _, entry := range snapshot {
			b.deliver(entry, u)
		}
	}
}

func (b *Bus) deliver(entry subscription, u Update) {
	defer func() {
		if recovered := recover(); recovered != nil {
			b.logger.Error("update consumer panicked",
				"subscription", string(entry.id),
				"kind", u.Kind(),
				"panic", fmt.Sprint(recovered),
			)
			if b.observer != nil {
				b.observer.ConsumerPanicked(u.Kind())
			}
		}
	}()
	entry.consumer(u)
}
