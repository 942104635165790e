// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package poll is the periodic half of the sync engine. A slow cycle
// refreshes the user's profile and conversation memberships; a fast
// cycle fetches new messages for every known conversation. Results are
// converted to updates and posted on the sync event loop.
package poll

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gmtsync/gmtsync/lib/chat"
	"github.com/gmtsync/gmtsync/lib/clock"
	"github.com/gmtsync/gmtsync/lib/eventloop"
	"github.com/gmtsync/gmtsync/lib/profile"
	"github.com/gmtsync/gmtsync/lib/update"
)

const (
	DefaultSlowInterval         = 7 * time.Second
	DefaultFastInterval         = 3 * time.Second
	DefaultMaxConcurrentFetches = 4
	DefaultFetchTimeout         = 30 * time.Second
)

// REST is the part of the service API the poller calls.
type REST interface {
	FetchProfile(ctx context.Context) (chat.PersonPayload, error)
	FetchMemberships(ctx context.Context) ([]chat.GroupPayload, error)

	// FetchMessagesAfter returns messages newer than afterID, newest
	// first. An empty afterID fetches from the beginning.
	FetchMessagesAfter(ctx context.Context, conversationID, afterID string) ([]chat.MessagePayload, error)
}

// ConversationState is the read side of the conversation store the
// poller builds requests from. It is called only on the event loop.
type ConversationState interface {
	ConversationIDs() []string
	NewestMessageID(conversationID string) (string, bool)
}

// Observer is notified of fetch outcomes. *metrics.Metrics implements
// it.
type Observer interface {
	PollFetched(kind, result string)
	PayloadDropped(kind string)
}

// Config wires a Source. REST, State, Loop, Bus, and Profile are
// required.
type Config struct {
	REST    REST
	State   ConversationState
	Loop    *eventloop.Loop
	Bus     *update.Bus
	Profile *profile.Reconciler

	Clock    clock.Clock
	Logger   *slog.Logger
	Observer Observer

	SlowInterval         time.Duration
	FastInterval         time.Duration
	MaxConcurrentFetches int
	FetchTimeout         time.Duration
}

// Source runs the slow and fast polling cycles.
//
// Each cycle owns one timer slot. The slow slot is a single-shot timer
// rearmed when a cycle finishes, successful or not; the fast slot is a
// ticker. Starting a slot always retires the previous occupant first,
// so a slot never runs two cycles side by side.
type Source struct {
	config Config
	logger *slog.Logger

	mu        sync.Mutex
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	slowGen   uint64
	slowTimer *clock.Timer
	fast      *fastSlot
	inFlight  map[string]struct{}
}

type fastSlot struct {
	ticker *clock.Ticker
	stop   chan struct{}
}

// New returns a stopped Source.
func New(config Config) *Source {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Observer == nil {
		config.Observer = nopObserver{}
	}
	if config.SlowInterval <= 0 {
		config.SlowInterval = DefaultSlowInterval
	}
	if config.FastInterval <= 0 {
		config.FastInterval = DefaultFastInterval
	}
	if config.MaxConcurrentFetches <= 0 {
		config.MaxConcurrentFetches = DefaultMaxConcurrentFetches
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = DefaultFetchTimeout
	}
	return &Source{
		config:   config,
		logger:   config.Logger.With("component", "poll"),
		inFlight: map[string]struct{}{},
	}
}

// Start arms both cycles. The first slow cycle runs after one slow
// interval. Starting a running Source restarts it.
func (s *Source) Start(ctx context.Context) {
	s.start(ctx, false)
}

// StartNow is Start with an immediate first slow cycle.
func (s *Source) StartNow(ctx context.Context) {
	s.start(ctx, true)
}

func (s *Source) start(ctx context.Context, immediate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.startFastLocked()
	if immediate {
		s.slowGen++
		go s.slowCycle(s.ctx, s.slowGen)
		return
	}
	s.armSlowLocked()
}

// Stop cancels both timers and any fetch in flight.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Source) stopLocked() {
	if !s.running {
		return
	}
	s.running = false
	s.cancel()
	s.slowGen++
	if s.slowTimer != nil {
		s.slowTimer.Stop()
		s.slowTimer = nil
	}
	s.stopFastLocked()
}

// armSlowLocked retires any pending slow timer and schedules the next
// cycle under a fresh generation.
func (s *Source) armSlowLocked() {
	if s.slowTimer != nil {
		s.slowTimer.Stop()
	}
	s.slowGen++
	generation := s.slowGen
	ctx := s.ctx
	s.slowTimer = s.config.Clock.AfterFunc(s.config.SlowInterval, func() {
		s.mu.Lock()
		current := s.running && generation == s.slowGen
		s.mu.Unlock()
		if current {
			go s.slowCycle(ctx, generation)
		}
	})
}

// rearmSlow schedules the next slow cycle unless the cycle that just
// finished has been superseded.
func (s *Source) rearmSlow(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || generation != s.slowGen {
		return
	}
	s.armSlowLocked()
}

func (s *Source) startFastLocked() {
	s.stopFastLocked()
	slot := &fastSlot{
		ticker: s.config.Clock.NewTicker(s.config.FastInterval),
		stop:   make(chan struct{}),
	}
	s.fast = slot
	go s.fastLoop(s.ctx, slot)
}

func (s *Source) stopFastLocked() {
	if s.fast == nil {
		return
	}
	s.fast.ticker.Stop()
	close(s.fast.stop)
	s.fast = nil
}

// restartFast retires the fast slot and starts a new one.
func (s *Source) restartFast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.startFastLocked()
	}
}

func (s *Source) stopFast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopFastLocked()
}

func (s *Source) fastLoop(ctx context.Context, slot *fastSlot) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-slot.stop:
			return
		case <-slot.ticker.C:
			s.fastCycle(ctx)
		}
	}
}

// slowCycle refreshes the profile and memberships, then rearms.
func (s *Source) slowCycle(ctx context.Context, generation uint64) {
	defer s.rearmSlow(generation)

	s.refreshProfile(ctx)
	s.refreshMemberships(ctx)
}

func (s *Source) refreshProfile(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	defer cancel()
	payload, err := s.config.REST.FetchProfile(fetchCtx)
	if err != nil {
		s.fetchFailed("profile", err)
		return
	}
	person, err := chat.PersonFromPayload(payload)
	if err != nil {
		s.config.Observer.PayloadDropped("person")
		s.logger.Warn("dropping malformed profile", "error", err)
		return
	}
	s.config.Observer.PollFetched("profile", "ok")
	s.onLoop(ctx, func() {
		s.config.Bus.Post(s.config.Profile.Reconcile(person)...)
	})
}

func (s *Source) refreshMemberships(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	defer cancel()
	payloads, err := s.config.REST.FetchMemberships(fetchCtx)
	if err != nil {
		s.fetchFailed("memberships", err)
		return
	}
	s.config.Observer.PollFetched("memberships", "ok")

	fetched := make([]*chat.Conversation, 0, len(payloads))
	for _, payload := range payloads {
		conversation, err := chat.ConversationFromPayload(payload)
		if err != nil {
			s.config.Observer.PayloadDropped("conversation")
			s.logger.Warn("dropping malformed conversation", "error", err)
			continue
		}
		fetched = append(fetched, conversation)
	}
	s.onLoop(ctx, func() { s.applyMemberships(fetched) })
}

// applyMemberships diffs the fetched memberships against the store and
// posts the difference. Runs on the event loop.
func (s *Source) applyMemberships(fetched []*chat.Conversation) {
	cached := s.config.State.ConversationIDs()
	cachedSet := make(map[string]struct{}, len(cached))
	for _, id := range cached {
		cachedSet[id] = struct{}{}
	}

	fetchedSet := make(map[string]struct{}, len(fetched))
	var added []*chat.Conversation
	for _, conversation := range fetched {
		if _, seen := fetchedSet[conversation.ID]; seen {
			continue
		}
		fetchedSet[conversation.ID] = struct{}{}
		if _, known := cachedSet[conversation.ID]; !known {
			added = append(added, conversation)
		}
	}
	var removed []string
	for _, id := range cached {
		if _, still := fetchedSet[id]; !still {
			removed = append(removed, id)
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return
	}

	s.logger.Info("memberships changed", "joined", len(added), "left", len(removed))
	s.stopFast()
	if len(added) > 0 {
		s.config.Bus.Post(update.Joined{Conversations: added})
	}
	if len(removed) > 0 {
		s.config.Bus.Post(update.Left{ConversationIDs: removed})
	}
	s.restartFast()
}

type cursor struct {
	conversationID string
	afterID        string
}

// fastCycle snapshots the polling cursors on the loop and fans the
// fetches out. Conversations whose previous fetch is still running
// are skipped this tick.
func (s *Source) fastCycle(ctx context.Context) {
	var cursors []cursor
	err := s.config.Loop.Call(ctx, func() {
		for _, id := range s.config.State.ConversationIDs() {
			after, _ := s.config.State.NewestMessageID(id)
			cursors = append(cursors, cursor{conversationID: id, afterID: after})
		}
	})
	if err != nil {
		return
	}

	s.mu.Lock()
	ready := cursors[:0]
	for _, next := range cursors {
		if _, busy := s.inFlight[next.conversationID]; busy {
			s.logger.Debug("previous fetch still running", "conversation_id", next.conversationID)
			continue
		}
		s.inFlight[next.conversationID] = struct{}{}
		ready = append(ready, next)
	}
	s.mu.Unlock()
	if len(ready) == 0 {
		return
	}

	go func() {
		var group errgroup.Group
		group.SetLimit(s.config.MaxConcurrentFetches)
		for _, next := range ready {
			group.Go(func() error {
				defer s.release(next.conversationID)
				s.fetchMessages(ctx, next)
				return nil
			})
		}
		_ = group.Wait()
	}()
}

func (s *Source) release(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, conversationID)
}

func (s *Source) fetchMessages(ctx context.Context, next cursor) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	defer cancel()
	payloads, err := s.config.REST.FetchMessagesAfter(fetchCtx, next.conversationID, next.afterID)
	if err != nil {
		s.fetchFailed("messages", err, "conversation_id", next.conversationID)
		return
	}
	s.config.Observer.PollFetched("messages", "ok")

	messages, dropped := chat.MessagesFromPayloads(payloads)
	for _, err := range dropped {
		s.config.Observer.PayloadDropped("message")
		s.logger.Warn("dropping malformed message", "conversation_id", next.conversationID, "error", err)
	}
	if len(messages) == 0 {
		return
	}
	s.onLoop(ctx, func() {
		s.config.Bus.Post(update.NewMessages{ConversationID: next.conversationID, Messages: messages})
	})
}

// onLoop runs fn on the event loop and waits for it, so the slot that
// triggered it is not rearmed or released before its results land.
func (s *Source) onLoop(ctx context.Context, fn func()) {
	if err := s.config.Loop.Call(ctx, fn); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("event loop unavailable", "error", err)
	}
}

func (s *Source) fetchFailed(kind string, err error, attrs ...any) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.config.Observer.PollFetched(kind, "error")
	s.logger.Warn("poll fetch failed", append([]any{"kind", kind, "error", err}, attrs...)...)
}

type nopObserver struct{}

func (nopObserver) PollFetched(string, string) {}
func (nopObserver) PayloadDropped(string)      {}
