// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"errors"
	"time"
)

// State is the protocol state of the push connection.
type State int32

const (
	StateDisconnected State = iota
	StateHandshaking
	StateConnected
	StateSubscribing
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	}
	return "unknown"
}

type transitionKey struct {
	state State
	kind  FrameKind
}

type transition func(s *Source, frame Frame)

// transitions is the complete state machine. A frame whose (state,
// kind) pair is absent is a protocol violation: it is logged and has
// no effect.
var transitions = map[transitionKey]transition{
	{StateHandshaking, KindHandshakeReply}: (*Source).onHandshakeReply,

	{StateConnected, KindConnectReply}:   (*Source).onFirstConnectReply,
	{StateSubscribing, KindConnectReply}: (*Source).onConnectReply,
	{StateSubscribed, KindConnectReply}:  (*Source).onConnectReply,

	{StateSubscribing, KindSubscribeReply}: (*Source).onSubscribeReply,
	{StateSubscribed, KindSubscribeReply}:  (*Source).onSubscribeReply,

	{StateSubscribing, KindUnsubscribeReply}: (*Source).onUnsubscribeReply,
	{StateSubscribed, KindUnsubscribeReply}:  (*Source).onUnsubscribeReply,

	{StateSubscribing, KindPayload}: (*Source).onPayload,
	{StateSubscribed, KindPayload}:  (*Source).onPayload,
}

// handle routes one inbound frame through the transition table.
func (s *Source) handle(frame Frame) {
	kind := frame.Kind()
	if kind == KindOtherMeta {
		s.logger.Debug("ignoring meta frame", "channel", frame.Channel)
		return
	}
	next, ok := transitions[transitionKey{s.State(), kind}]
	if !ok {
		s.violation(kind, "unexpected frame on "+frame.Channel)
		return
	}
	next(s, frame)
}

func (s *Source) violation(kind FrameKind, reason string) {
	err := &ProtocolError{State: s.State(), Kind: kind, Reason: reason}
	s.config.Observer.ProtocolViolation(kind.String())
	s.logger.Warn("push protocol violation", "error", err)
}

// onHandshakeReply accepts any reply carrying a client ID unless the
// server explicitly marks it unsuccessful.
func (s *Source) onHandshakeReply(frame Frame) {
	if frame.Rejected() {
		s.logger.Warn("push handshake rejected", "error", frame.Error)
		s.retire()
		if !adviceForbidsReconnect(frame.Advice) {
			s.scheduleReconnect()
		}
		return
	}
	if frame.ClientID == "" {
		s.violation(KindHandshakeReply, "handshake reply without a client ID")
		return
	}
	s.clientID = frame.ClientID
	s.backoff = s.config.Reconnect.InitialBackoff
	s.sendConnect()
	s.setState(StateConnected)
}

// onFirstConnectReply completes the session: the personal channel and
// every tracked channel are subscribed, and the connect heartbeat
// starts.
func (s *Source) onFirstConnectReply(frame Frame) {
	if !frame.Succeeded() {
		s.rehandshake("connect rejected: " + frame.Error)
		return
	}
	if self, ok := s.config.Self.Self(); ok && self.ID != "" {
		s.track(UserChannel(self.ID))
	} else {
		s.logger.Warn("no profile yet, personal channel not subscribed")
	}
	s.setState(StateSubscribing)
	for _, channel := range s.tracked {
		s.sendSubscribe(channel)
	}
	s.settleSubscriptions()
	s.continueConnect(frame.Advice)
}

// onConnectReply handles the replies to heartbeat connects.
func (s *Source) onConnectReply(frame Frame) {
	if !frame.Succeeded() {
		s.rehandshake("connect rejected: " + frame.Error)
		return
	}
	s.continueConnect(frame.Advice)
}

// continueConnect follows the server's advice after a successful
// connect reply.
func (s *Source) continueConnect(advice *Advice) {
	if advice != nil {
		switch advice.Reconnect {
		case "none":
			s.logger.Info("push server advised against reconnecting")
			s.retire()
			return
		case "handshake":
			s.rehandshake("server advised a new handshake")
			return
		}
	}
	s.stopHeartbeat()
	var interval time.Duration
	if advice != nil && advice.Interval > 0 {
		interval = time.Duration(advice.Interval) * time.Millisecond
	}
	if interval == 0 {
		s.sendConnect()
		return
	}
	generation := s.generation
	s.heartbeat = s.config.Clock.AfterFunc(interval, func() {
		s.config.Loop.Do(func() {
			if generation == s.generation && s.clientID != "" {
				s.sendConnect()
			}
		})
	})
}

// rehandshake drops the session but keeps the socket and the tracked
// channels.
func (s *Source) rehandshake(reason string) {
	s.logger.Info("push session restarting", "reason", reason)
	s.stopHeartbeat()
	s.clientID = ""
	clear(s.pending)
	clear(s.subscribed)
	s.sendHandshake()
	s.setState(StateHandshaking)
}

func (s *Source) onSubscribeReply(frame Frame) {
	channel := frame.Subscription
	if _, ok := s.pending[channel]; !ok {
		s.violation(KindSubscribeReply, "acknowledgement for unrequested channel "+channel)
		return
	}
	delete(s.pending, channel)
	if frame.Succeeded() {
		s.subscribed[channel] = struct{}{}
		s.logger.Debug("push channel subscribed", "channel", channel)
	} else {
		s.logger.Warn("push subscription refused", "channel", channel, "error", frame.Error)
	}
	s.settleSubscriptions()
}

func (s *Source) onUnsubscribeReply(frame Frame) {
	delete(s.subscribed, frame.Subscription)
	if !frame.Succeeded() {
		s.logger.Debug("push unsubscribe refused", "channel", frame.Subscription, "error", frame.Error)
	}
}

func (s *Source) onPayload(frame Frame) {
	updates, err := DecodePayload(frame.Channel, frame.Data)
	switch {
	case errors.Is(err, ErrUnknownPayload):
		s.logger.Debug("ignoring push payload", "channel", frame.Channel, "error", err)
		return
	case err != nil:
		s.config.Observer.PayloadDropped("push")
		s.logger.Warn("dropping malformed push payload", "channel", frame.Channel, "error", err)
		return
	}
	s.config.Bus.Post(updates...)
}

// settleSubscriptions moves to Subscribed once no acknowledgement is
// outstanding.
func (s *Source) settleSubscriptions() {
	if len(s.pending) == 0 {
		s.setState(StateSubscribed)
	} else {
		s.setState(StateSubscribing)
	}
}

func adviceForbidsReconnect(advice *Advice) bool {
	return advice != nil && advice.Reconnect == "none"
}
