// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gmtsync/gmtsync/lib/chat"
	"github.com/gmtsync/gmtsync/lib/update"
)

// ErrUnknownPayload is returned by DecodePayload for payload types it
// does not translate.
var ErrUnknownPayload = errors.New("push: unknown payload type")

// Payload types carried in the data block of channel messages.
const (
	PayloadLineCreate          = "line.create"
	PayloadDirectMessageCreate = "direct_message.create"
	PayloadLikeCreate          = "like.create"
	PayloadMembershipCreate    = "membership.create"
	PayloadTyping              = "typing"
	PayloadPing                = "ping"
)

type payloadEnvelope struct {
	Type    string          `json:"type"`
	Subject json.RawMessage `json:"subject,omitempty"`
	Alert   string          `json:"alert,omitempty"`

	// Typing notifications put the typer at the top level.
	UserID string `json:"user_id,omitempty"`
}

type likeSubject struct {
	Line   chat.MessagePayload `json:"line"`
	UserID string              `json:"user_id,omitempty"`
}

// DecodePayload translates the data block of a message on a
// subscription channel into updates. Pings decode to no updates. An
// unrecognised type returns ErrUnknownPayload; a recognised type with
// a malformed subject returns the *chat.PayloadError.
func DecodePayload(channel string, data json.RawMessage) ([]update.Update, error) {
	if len(data) == 0 {
		return nil, &chat.PayloadError{Kind: "push", Field: "data", Reason: "empty"}
	}
	var envelope payloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &chat.PayloadError{Kind: "push", Reason: err.Error()}
	}

	switch envelope.Type {
	case PayloadPing:
		return nil, nil

	case PayloadLineCreate, PayloadDirectMessageCreate:
		message, err := decodeMessageSubject(envelope.Subject)
		if err != nil {
			return nil, err
		}
		conversationID := message.ConversationID
		if conversationID == "" {
			conversationID = channelConversation(channel)
		}
		if conversationID == "" {
			return nil, &chat.PayloadError{Kind: "message", Field: "group_id", Reason: "no conversation for " + envelope.Type}
		}
		return []update.Update{update.NewMessages{ConversationID: conversationID, Messages: []*chat.Message{message}}}, nil

	case PayloadLikeCreate:
		var subject likeSubject
		if err := json.Unmarshal(envelope.Subject, &subject); err != nil {
			return nil, &chat.PayloadError{Kind: "message", Field: "subject", Reason: err.Error()}
		}
		message, err := chat.MessageFromPayload(subject.Line)
		if err != nil {
			return nil, err
		}
		return []update.Update{update.HeartMessages{ConversationID: message.ConversationID, Messages: []*chat.Message{message}}}, nil

	case PayloadMembershipCreate:
		var group chat.GroupPayload
		if err := json.Unmarshal(envelope.Subject, &group); err != nil {
			return nil, &chat.PayloadError{Kind: "conversation", Field: "subject", Reason: err.Error()}
		}
		conversation, err := chat.ConversationFromPayload(group)
		if err != nil {
			return nil, err
		}
		return []update.Update{update.Joined{Conversations: []*chat.Conversation{conversation}}}, nil

	case PayloadTyping:
		conversationID := channelConversation(channel)
		if conversationID == "" || envelope.UserID == "" {
			return nil, &chat.PayloadError{Kind: "push", Field: "user_id", Reason: "typing outside a group channel"}
		}
		return []update.Update{update.Typers{ConversationID: conversationID, People: []chat.Person{{ID: envelope.UserID}}}}, nil
	}
	return nil, fmt.Errorf("%w: %q on %s", ErrUnknownPayload, envelope.Type, channel)
}

func decodeMessageSubject(subject json.RawMessage) (*chat.Message, error) {
	var payload chat.MessagePayload
	if err := json.Unmarshal(subject, &payload); err != nil {
		return nil, &chat.PayloadError{Kind: "message", Field: "subject", Reason: err.Error()}
	}
	return chat.MessageFromPayload(payload)
}

// channelConversation returns the group ID of a /group/ channel.
func channelConversation(channel string) string {
	groupID, ok := strings.CutPrefix(channel, "/group/")
	if !ok {
		return ""
	}
	return groupID
}
