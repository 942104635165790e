// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is a chat message, confirmed by the server or tentative.
//
// Identity fields are fixed at construction. Attachment slots and the
// favourite set are guarded by the message's lock: readers get copies,
// and ResolveAttachment rewrites a slot in place so every holder of
// the *Message sees the uploaded URL.
type Message struct {
	// ID is the server identifier. Empty while the message is
	// tentative.
	ID string

	// SourceGUID is chosen by the sending client and survives the
	// tentative to confirmed transition.
	SourceGUID string

	CreatedAt time.Time

	// ConversationID is the group ID for group messages and the
	// direct conversation ID for direct messages.
	ConversationID string

	SenderID        string
	SenderName      string
	SenderAvatarURL string
	Text            string

	// System marks service-generated notices.
	System bool

	tentative bool

	mu          sync.Mutex
	attachments []Attachment
	favoritedBy []string
}

// IsTentative reports whether the server has yet to confirm m.
func (m *Message) IsTentative() bool { return m.tentative }

// Attachments returns a copy of m's attachment slots.
func (m *Message) Attachments() []Attachment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.attachments)
}

// ResolveAttachment replaces slot index, typically a tentative image
// with its hosted URL once the upload completes.
func (m *Message) ResolveAttachment(index int, attachment Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.attachments) {
		return fmt.Errorf("chat: attachment index %d out of range for message with %d attachments", index, len(m.attachments))
	}
	m.attachments[index] = attachment
	return nil
}

// FavoritedBy returns a copy of the IDs of people who hearted m.
func (m *Message) FavoritedBy() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.favoritedBy)
}

// SetFavoritedBy replaces the favourite set.
func (m *Message) SetFavoritedBy(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.favoritedBy = slices.Clone(ids)
}

// MessagePayload is the wire shape of a message. Group messages carry
// group_id; direct messages carry conversation_id and recipient_id.
type MessagePayload struct {
	ID             string              `json:"id" validate:"required"`
	SourceGUID     string              `json:"source_guid" validate:"required"`
	CreatedAt      int64               `json:"created_at,omitempty"`
	GroupID        string              `json:"group_id,omitempty"`
	ConversationID string              `json:"conversation_id,omitempty"`
	RecipientID    string              `json:"recipient_id,omitempty"`
	UserID         string              `json:"user_id,omitempty"`
	Name           string              `json:"name,omitempty"`
	AvatarURL      string              `json:"avatar_url,omitempty"`
	Text           string              `json:"text,omitempty"`
	System         bool                `json:"system,omitempty"`
	FavoritedBy    []string            `json:"favorited_by,omitempty"`
	Attachments    []AttachmentPayload `json:"attachments,omitempty"`
}

// MessageFromPayload validates payload and converts it. Attachments
// that fail to convert are left off the message rather than failing
// it.
func MessageFromPayload(payload MessagePayload) (*Message, error) {
	if err := validatePayload("message", payload); err != nil {
		return nil, err
	}
	conversationID := payload.GroupID
	if conversationID == "" {
		conversationID = payload.ConversationID
	}
	message := &Message{
		ID:              payload.ID,
		SourceGUID:      payload.SourceGUID,
		CreatedAt:       fromUnix(payload.CreatedAt),
		ConversationID:  conversationID,
		SenderID:        payload.UserID,
		SenderName:      payload.Name,
		SenderAvatarURL: payload.AvatarURL,
		Text:            payload.Text,
		System:          payload.System,
		favoritedBy:     slices.Clone(payload.FavoritedBy),
	}
	for _, attachmentPayload := range payload.Attachments {
		attachment, err := AttachmentFromPayload(attachmentPayload)
		if err != nil {
			continue
		}
		message.attachments = append(message.attachments, attachment)
	}
	return message, nil
}

// MessagesFromPayloads converts a batch, keeping order and dropping
// malformed entries. The returned errors describe each dropped entry.
func MessagesFromPayloads(payloads []MessagePayload) ([]*Message, []error) {
	messages := make([]*Message, 0, len(payloads))
	var dropped []error
	for _, payload := range payloads {
		message, err := MessageFromPayload(payload)
		if err != nil {
			dropped = append(dropped, err)
			continue
		}
		messages = append(messages, message)
	}
	return messages, dropped
}

// Payload converts m back to its wire shape.
func (m *Message) Payload() MessagePayload {
	payload := MessagePayload{
		ID:          m.ID,
		SourceGUID:  m.SourceGUID,
		CreatedAt:   toUnix(m.CreatedAt),
		GroupID:     m.ConversationID,
		UserID:      m.SenderID,
		Name:        m.SenderName,
		AvatarURL:   m.SenderAvatarURL,
		Text:        m.Text,
		System:      m.System,
		FavoritedBy: m.FavoritedBy(),
	}
	for _, attachment := range m.Attachments() {
		payload.Attachments = append(payload.Attachments, attachment.Payload())
	}
	return payload
}

// NewTentativeMessage builds a locally originated message awaiting
// server confirmation, with a fresh source GUID and the sender fields
// taken from self.
func NewTentativeMessage(conversationID string, self Person, text string, attachments []Attachment, now time.Time) *Message {
	return &Message{
		SourceGUID:      uuid.NewString(),
		CreatedAt:       now,
		ConversationID:  conversationID,
		SenderID:        self.ID,
		SenderName:      self.Name,
		SenderAvatarURL: self.AvatarURL,
		Text:            text,
		tentative:       true,
		attachments:     slices.Clone(attachments),
	}
}

// OutgoingMessage is the request body for posting a message.
type OutgoingMessage struct {
	Message OutgoingMessageBody `json:"message"`
}

// OutgoingMessageBody carries the fields the service accepts on send.
type OutgoingMessageBody struct {
	SourceGUID  string              `json:"source_guid"`
	Text        string              `json:"text,omitempty"`
	Attachments []AttachmentPayload `json:"attachments,omitempty"`
}

// Outgoing returns the send request for m. It fails while any
// attachment is still awaiting upload.
func (m *Message) Outgoing() (OutgoingMessage, error) {
	body := OutgoingMessageBody{SourceGUID: m.SourceGUID, Text: m.Text}
	for index, attachment := range m.Attachments() {
		if attachment.IsTentative() {
			return OutgoingMessage{}, fmt.Errorf("chat: attachment %d of message %s has not been uploaded", index, m.SourceGUID)
		}
		body.Attachments = append(body.Attachments, attachment.Payload())
	}
	return OutgoingMessage{Message: body}, nil
}
