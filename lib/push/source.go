// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package push is the real-time half of the sync engine: a Bayeux
// client over a persistent socket that subscribes to the user's
// personal channel and each group channel, and turns channel messages
// into updates.
//
// The protocol is an explicit state machine (see the transitions table
// in fsm.go). All state lives on the sync event loop; socket callbacks
// are bound to the connection generation they were created for, so a
// closed socket's late callbacks are recognised and discarded.
package push

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gmtsync/gmtsync/lib/chat"
	"github.com/gmtsync/gmtsync/lib/clock"
	"github.com/gmtsync/gmtsync/lib/eventloop"
	"github.com/gmtsync/gmtsync/lib/netutil"
	"github.com/gmtsync/gmtsync/lib/update"
)

// Conn is an open message-oriented socket.
type Conn interface {
	// Send queues one message. It must not block on the network.
	Send(data []byte) error
	Close() error
}

// Handler receives socket events. Calls may come from any goroutine.
type Handler interface {
	OnOpen()
	OnMessage(data []byte)
	OnError(err error)
	OnClose()
}

// Dialer opens sockets. Dial blocks until the socket is established or
// fails; the handler's events may begin before Dial returns.
type Dialer interface {
	Dial(ctx context.Context, handler Handler) (Conn, error)
}

// SelfProvider supplies the signed-in user, whose personal channel is
// subscribed on connect. *profile.Reconciler implements it.
type SelfProvider interface {
	Self() (chat.Person, bool)
}

// Observer is notified of protocol activity. *metrics.Metrics
// implements it.
type Observer interface {
	FrameSent(channel string)
	FrameReceived(kind string)
	PushStateChanged(state string)
	ProtocolViolation(kind string)
	Reconnecting()
	PayloadDropped(kind string)
}

// ReconnectConfig controls automatic reconnection after an unexpected
// socket loss. Delays start at InitialBackoff and double up to
// MaxBackoff; a successful handshake resets them.
type ReconnectConfig struct {
	Enabled        bool
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Config wires a Source. Dialer, Loop, Bus, and Self are required.
type Config struct {
	Dialer Dialer
	Loop   *eventloop.Loop
	Bus    *update.Bus
	Self   SelfProvider

	// Token authenticates subscribe requests.
	Token string

	Reconnect ReconnectConfig

	Clock    clock.Clock
	Logger   *slog.Logger
	Observer Observer
}

// Source is the push client.
type Source struct {
	config Config
	logger *slog.Logger
	state  atomic.Int32

	// Everything below is owned by the event loop.

	ctx         context.Context
	generation  uint64
	conn        Conn
	openPending bool
	clientID    string
	sequence    uint64
	closed      bool
	backoff     time.Duration
	reconnect   *clock.Timer
	heartbeat   *clock.Timer

	// tracked survives reconnects; pending and subscribed are per
	// session.
	tracked    []string
	pending    map[string]struct{}
	subscribed map[string]struct{}
}

// New returns a disconnected Source.
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
	if config.Reconnect.InitialBackoff <= 0 {
		config.Reconnect.InitialBackoff = time.Second
	}
	if config.Reconnect.MaxBackoff < config.Reconnect.InitialBackoff {
		config.Reconnect.MaxBackoff = 60 * time.Second
	}
	return &Source{
		config:     config,
		logger:     config.Logger.With("component", "push"),
		ctx:        context.Background(),
		pending:    map[string]struct{}{},
		subscribed: map[string]struct{}{},
	}
}

// Attach subscribes the source to bus so that joined groups are
// subscribed and left groups unsubscribed.
func (s *Source) Attach(bus *update.Bus) update.SubscriptionID {
	return bus.Subscribe(s.apply)
}

func (s *Source) apply(u update.Update) {
	switch u := u.(type) {
	case update.Joined:
		for _, conversation := range u.Conversations {
			if conversation.Kind == chat.KindGroup {
				s.subscribe(GroupChannel(conversation.ID))
			}
		}
	case update.Left:
		for _, id := range u.ConversationIDs {
			s.unsubscribe(GroupChannel(id))
		}
	}
}

// State returns the current protocol state. Safe from any goroutine.
func (s *Source) State() State { return State(s.state.Load()) }

// Open starts a new connection, abandoning any current one. Tracked
// channels are subscribed again once the new session connects.
func (s *Source) Open(ctx context.Context) {
	s.config.Loop.Do(func() {
		s.closed = false
		s.ctx = ctx
		s.backoff = s.config.Reconnect.InitialBackoff
		s.dial()
	})
}

// Close tears the connection down and cancels reconnection. It is safe
// in any state.
func (s *Source) Close() {
	s.config.Loop.Do(s.shutdown)
}

// SubscribeToGroup tracks a group channel and subscribes when a
// session is up.
func (s *Source) SubscribeToGroup(groupID string) {
	s.config.Loop.Do(func() { s.subscribe(GroupChannel(groupID)) })
}

// SubscribeToUser tracks a user channel and subscribes when a session
// is up.
func (s *Source) SubscribeToUser(userID string) {
	s.config.Loop.Do(func() { s.subscribe(UserChannel(userID)) })
}

// UnsubscribeFromGroup stops tracking a group channel.
func (s *Source) UnsubscribeFromGroup(groupID string) {
	s.config.Loop.Do(func() { s.unsubscribe(GroupChannel(groupID)) })
}

// UnsubscribeFromUser stops tracking a user channel.
func (s *Source) UnsubscribeFromUser(userID string) {
	s.config.Loop.Do(func() { s.unsubscribe(UserChannel(userID)) })
}

func (s *Source) dial() {
	s.retire()
	generation := s.generation
	handler := &connHandler{source: s, generation: generation}
	ctx := s.ctx
	go func() {
		conn, err := s.config.Dialer.Dial(ctx, handler)
		s.config.Loop.Do(func() { s.dialed(generation, conn, err) })
	}()
}

func (s *Source) dialed(generation uint64, conn Conn, err error) {
	if generation != s.generation {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		s.logger.Warn("push dial failed", "error", err)
		s.scheduleReconnect()
		return
	}
	s.conn = conn
	if s.openPending {
		s.openPending = false
		s.onOpen()
	}
}

func (s *Source) onOpen() {
	if s.conn == nil {
		s.openPending = true
		return
	}
	s.sendHandshake()
	s.setState(StateHandshaking)
}

func (s *Source) receive(data []byte) {
	frames, err := DecodeFrames(data)
	if err != nil {
		s.config.Observer.PayloadDropped("frame")
		s.logger.Warn("dropping undecodable push message", "error", err)
		return
	}
	generation := s.generation
	for _, frame := range frames {
		if generation != s.generation {
			// An earlier frame in the batch ended the session.
			return
		}
		s.config.Observer.FrameReceived(frame.Kind().String())
		s.handle(frame)
	}
}

func (s *Source) connectionLost(err error) {
	switch {
	case err == nil, netutil.IsExpectedCloseError(err):
		s.logger.Info("push socket closed", "state", s.State().String())
	default:
		s.logger.Warn("push socket failed", "state", s.State().String(), "error", err)
	}
	s.retire()
	s.scheduleReconnect()
}

// retire abandons the current connection and session. Callbacks bound
// to the old generation become no-ops.
func (s *Source) retire() {
	s.generation++
	s.stopHeartbeat()
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && !netutil.IsExpectedCloseError(err) {
			s.logger.Debug("closing push socket", "error", err)
		}
		s.conn = nil
	}
	s.openPending = false
	s.clientID = ""
	s.sequence = 0
	clear(s.pending)
	clear(s.subscribed)
	s.setState(StateDisconnected)
}

func (s *Source) shutdown() {
	s.closed = true
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	s.retire()
}

func (s *Source) scheduleReconnect() {
	if s.closed || !s.config.Reconnect.Enabled {
		return
	}
	if s.reconnect != nil {
		s.reconnect.Stop()
	}
	delay := s.backoff
	s.backoff = min(2*s.backoff, s.config.Reconnect.MaxBackoff)
	s.config.Observer.Reconnecting()
	s.logger.Info("push reconnect scheduled", "backoff", delay)

	generation := s.generation
	s.reconnect = s.config.Clock.AfterFunc(delay, func() {
		s.config.Loop.Do(func() {
			if s.closed || generation != s.generation {
				return
			}
			s.reconnect = nil
			s.dial()
		})
	})
}

func (s *Source) stopHeartbeat() {
	if s.heartbeat != nil {
		s.heartbeat.Stop()
		s.heartbeat = nil
	}
}

func (s *Source) track(channel string) {
	if !slices.Contains(s.tracked, channel) {
		s.tracked = append(s.tracked, channel)
	}
}

func (s *Source) subscribe(channel string) {
	s.track(channel)
	if s.clientID == "" {
		s.logger.Info("no push session, subscription deferred", "channel", channel)
		return
	}
	switch s.State() {
	case StateSubscribing, StateSubscribed:
		if _, done := s.subscribed[channel]; done {
			return
		}
		if _, waiting := s.pending[channel]; waiting {
			return
		}
		s.sendSubscribe(channel)
		s.setState(StateSubscribing)
	default:
		// The first connect reply subscribes everything tracked.
		s.logger.Debug("subscription deferred until connected", "channel", channel)
	}
}

func (s *Source) unsubscribe(channel string) {
	s.tracked = slices.DeleteFunc(s.tracked, func(tracked string) bool { return tracked == channel })
	if s.clientID == "" {
		s.logger.Info("no push session, nothing to unsubscribe", "channel", channel)
		return
	}
	_, wasPending := s.pending[channel]
	_, wasSubscribed := s.subscribed[channel]
	if !wasPending && !wasSubscribed {
		return
	}
	delete(s.pending, channel)
	s.send(Frame{Channel: ChannelUnsubscribe, ClientID: s.clientID, Subscription: channel})
	if s.State() == StateSubscribing {
		s.settleSubscriptions()
	}
}

func (s *Source) sendHandshake() {
	s.send(Frame{
		Channel:                  ChannelHandshake,
		Version:                  BayeuxVersion,
		SupportedConnectionTypes: []string{ConnectionType},
	})
}

func (s *Source) sendConnect() {
	s.send(Frame{Channel: ChannelConnect, ClientID: s.clientID, ConnectionType: ConnectionType})
}

func (s *Source) sendSubscribe(channel string) {
	s.pending[channel] = struct{}{}
	s.send(Frame{
		Channel:      ChannelSubscribe,
		ClientID:     s.clientID,
		Subscription: channel,
		Ext:          &Ext{AccessToken: s.config.Token},
	})
}

// send stamps each frame with an ID unique within the connection and
// writes the batch.
func (s *Source) send(frames ...Frame) {
	if s.conn == nil {
		s.logger.Debug("no push socket, frame not sent")
		return
	}
	for index := range frames {
		s.sequence++
		frames[index].ID = fmt.Sprintf("msg_%d_%d", s.generation, s.sequence)
	}
	data, err := EncodeFrames(frames...)
	if err != nil {
		s.logger.Error("encoding push frames", "error", err)
		return
	}
	if err := s.conn.Send(data); err != nil {
		s.logger.Warn("push send failed", "error", err)
		return
	}
	for _, frame := range frames {
		s.config.Observer.FrameSent(frame.Channel)
	}
}

func (s *Source) setState(next State) {
	previous := State(s.state.Swap(int32(next)))
	if previous == next {
		return
	}
	s.logger.Debug("push state changed", "from", previous.String(), "to", next.String())
	s.config.Observer.PushStateChanged(next.String())
}

// connHandler binds socket events to the generation of the connection
// they belong to.
type connHandler struct {
	source     *Source
	generation uint64
}

func (h *connHandler) run(fn func()) {
	h.source.config.Loop.Do(func() {
		if h.generation != h.source.generation {
			return
		}
		fn()
	})
}

func (h *connHandler) OnOpen()               { h.run(h.source.onOpen) }
func (h *connHandler) OnMessage(data []byte) { h.run(func() { h.source.receive(data) }) }
func (h *connHandler) OnError(err error)     { h.run(func() { h.source.connectionLost(err) }) }
func (h *connHandler) OnClose()              { h.run(func() { h.source.connectionLost(nil) }) }

type nopObserver struct{}

func (nopObserver) FrameSent(string)         {}
func (nopObserver) FrameReceived(string)     {}
func (nopObserver) PushStateChanged(string)  {}
func (nopObserver) ProtocolViolation(string) {}
func (nopObserver) Reconnecting()            {}
func (nopObserver) PayloadDropped(string)    {}
