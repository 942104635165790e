// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Reserved Bayeux channels.
const (
	ChannelHandshake   = "/meta/handshake"
	ChannelConnect     = "/meta/connect"
	ChannelSubscribe   = "/meta/subscribe"
	ChannelUnsubscribe = "/meta/unsubscribe"
)

// BayeuxVersion is the protocol version sent in the handshake.
const BayeuxVersion = "1.0"

// ConnectionType is the only transport the source negotiates.
const ConnectionType = "websocket"

// GroupChannel names the push channel for a group conversation.
func GroupChannel(groupID string) string { return "/group/" + groupID }

// UserChannel names the personal push channel of a user. Direct
// messages and membership events for the user arrive here.
func UserChannel(userID string) string { return "/user/" + userID }

// Advice is the server's reconnect guidance.
type Advice struct {
	// Reconnect is "retry", "handshake", or "none".
	Reconnect string `json:"reconnect,omitempty"`

	// Interval is the delay in milliseconds before the next connect.
	Interval int64 `json:"interval,omitempty"`

	// Timeout is how long the server holds a connect, in milliseconds.
	Timeout int64 `json:"timeout,omitempty"`
}

// Ext carries extension fields. Subscribe requests authenticate
// through AccessToken.
type Ext struct {
	AccessToken string `json:"access_token,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// Frame is one Bayeux message. The wire form of a batch is a JSON
// array of frames.
type Frame struct {
	ID                       string          `json:"id,omitempty"`
	Channel                  string          `json:"channel"`
	ClientID                 string          `json:"clientId,omitempty"`
	Version                  string          `json:"version,omitempty"`
	SupportedConnectionTypes []string        `json:"supportedConnectionTypes,omitempty"`
	ConnectionType           string          `json:"connectionType,omitempty"`
	Subscription             string          `json:"subscription,omitempty"`
	Successful               *bool           `json:"successful,omitempty"`
	Error                    string          `json:"error,omitempty"`
	Advice                   *Advice         `json:"advice,omitempty"`
	Ext                      *Ext            `json:"ext,omitempty"`
	Data                     json.RawMessage `json:"data,omitempty"`

	// success is the spelling some servers use instead of
	// successful. It is read, never written.
	success *bool
}

// UnmarshalJSON accepts both "successful" and "success".
func (f *Frame) UnmarshalJSON(data []byte) error {
	type plain Frame
	var decoded struct {
		plain
		Success *bool `json:"success,omitempty"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*f = Frame(decoded.plain)
	f.success = decoded.Success
	return nil
}

// Succeeded reports the reply's success flag. A reply carrying
// neither spelling counts as a failure.
func (f Frame) Succeeded() bool {
	switch {
	case f.Successful != nil:
		return *f.Successful
	case f.success != nil:
		return *f.success
	}
	return false
}

// Rejected reports whether the reply carries an explicit false success
// flag. A reply without a flag is not rejected.
func (f Frame) Rejected() bool {
	switch {
	case f.Successful != nil:
		return !*f.Successful
	case f.success != nil:
		return !*f.success
	}
	return false
}

// FrameKind classifies inbound frames for the state machine.
type FrameKind int

const (
	KindHandshakeReply FrameKind = iota
	KindConnectReply
	KindSubscribeReply
	KindUnsubscribeReply
	KindPayload
	KindOtherMeta
)

func (k FrameKind) String() string {
	switch k {
	case KindHandshakeReply:
		return "handshake_reply"
	case KindConnectReply:
		return "connect_reply"
	case KindSubscribeReply:
		return "subscribe_reply"
	case KindUnsubscribeReply:
		return "unsubscribe_reply"
	case KindPayload:
		return "payload"
	}
	return "other_meta"
}

// Kind classifies f by channel. Anything outside /meta/ is a payload.
func (f Frame) Kind() FrameKind {
	switch f.Channel {
	case ChannelHandshake:
		return KindHandshakeReply
	case ChannelConnect:
		return KindConnectReply
	case ChannelSubscribe:
		return KindSubscribeReply
	case ChannelUnsubscribe:
		return KindUnsubscribeReply
	}
	if strings.HasPrefix(f.Channel, "/meta/") {
		return KindOtherMeta
	}
	return KindPayload
}

// EncodeFrames renders frames as a JSON array.
func EncodeFrames(frames ...Frame) ([]byte, error) {
	data, err := json.Marshal(frames)
	if err != nil {
		return nil, fmt.Errorf("push: encoding frames: %w", err)
	}
	return data, nil
}

// DecodeFrames parses an inbound message: a JSON array of frames or,
// from lenient servers, a single frame object.
func DecodeFrames(data []byte) ([]Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var frame Frame
		if err := json.Unmarshal(trimmed, &frame); err != nil {
			return nil, fmt.Errorf("push: decoding frame: %w", err)
		}
		return []Frame{frame}, nil
	}
	var frames []Frame
	if err := json.Unmarshal(trimmed, &frames); err != nil {
		return nil, fmt.Errorf("push: decoding frames: %w", err)
	}
	return frames, nil
}
