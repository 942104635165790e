// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"slices"
	"strings"
	"time"
)

// ConversationKind separates groups from one-to-one chats.
type ConversationKind int

const (
	KindGroup ConversationKind = iota
	KindDirect
)

func (k ConversationKind) String() string {
	if k == KindDirect {
		return "direct"
	}
	return "group"
}

// Member is one entry in a group's roster.
type Member struct {
	UserID    string
	Nickname  string
	AvatarURL string
	Muted     bool
}

// Person returns the member as a Person with the fields a roster
// carries.
func (m Member) Person() Person {
	return Person{ID: m.UserID, Name: m.Nickname, AvatarURL: m.AvatarURL}
}

// Preview summarises the newest message of a conversation as listed
// by the memberships endpoint.
type Preview struct {
	Nickname    string
	Text        string
	AvatarURL   string
	Attachments []Attachment
}

// Summary renders the preview as "nickname: text", or whichever half
// is present.
func (p Preview) Summary() string {
	switch {
	case p.Nickname == "":
		return p.Text
	case p.Text == "":
		return p.Nickname
	}
	return p.Nickname + ": " + p.Text
}

// Conversation is a group or direct chat the user belongs to. ID is
// fixed; the store keeps at most one Conversation per ID. All fields
// are mutated only on the sync event loop.
type Conversation struct {
	ID          string
	Kind        ConversationKind
	Name        string
	Description string
	AvatarURL   string
	ShareURL    string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Members is nil when the roster is unknown.
	Members []Member

	Preview Preview

	// Typers are the people currently typing, as last reported.
	Typers []Person

	messages *MessageCollection
}

// NewConversation returns an empty conversation with its own message
// collection.
func NewConversation(id string, kind ConversationKind) *Conversation {
	return &Conversation{ID: id, Kind: kind, messages: NewMessageCollection()}
}

// Messages returns the conversation's collection.
func (c *Conversation) Messages() *MessageCollection { return c.messages }

// AddMembers appends people not already on the roster and returns how
// many were added. An unknown roster becomes known.
func (c *Conversation) AddMembers(people []Person) int {
	added := 0
	for _, person := range people {
		if c.memberIndex(person.ID) >= 0 {
			continue
		}
		c.Members = append(c.Members, Member{UserID: person.ID, Nickname: person.Name, AvatarURL: person.AvatarURL})
		added++
	}
	if c.Members == nil {
		c.Members = []Member{}
	}
	return added
}

// RemoveMembers drops people from the roster and returns how many
// were removed.
func (c *Conversation) RemoveMembers(people []Person) int {
	before := len(c.Members)
	c.Members = slices.DeleteFunc(c.Members, func(member Member) bool {
		return slices.ContainsFunc(people, func(person Person) bool { return person.ID == member.UserID })
	})
	return before - len(c.Members)
}

func (c *Conversation) memberIndex(userID string) int {
	return slices.IndexFunc(c.Members, func(member Member) bool { return member.UserID == userID })
}

// MemberPayload is the wire shape of a roster entry.
type MemberPayload struct {
	UserID   string `json:"user_id" validate:"required"`
	Nickname string `json:"nickname,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Muted    bool   `json:"muted,omitempty"`
}

// PreviewPayload is the wire shape of a conversation preview.
type PreviewPayload struct {
	Nickname    string              `json:"nickname,omitempty"`
	Text        string              `json:"text,omitempty"`
	ImageURL    string              `json:"image_url,omitempty"`
	Attachments []AttachmentPayload `json:"attachments,omitempty"`
}

// GroupMessagesPayload is the "messages" summary of a group listing.
type GroupMessagesPayload struct {
	Count         int            `json:"count,omitempty"`
	LastMessageID string         `json:"last_message_id,omitempty"`
	Preview       PreviewPayload `json:"preview"`
}

// GroupPayload is the wire shape of a group membership. Type
// "direct" marks a direct conversation re-encoded as a group, which
// is how the update journal stores them.
type GroupPayload struct {
	ID          string               `json:"id" validate:"required"`
	Type        string               `json:"type,omitempty"`
	Name        string               `json:"name,omitempty"`
	Description string               `json:"description,omitempty"`
	ImageURL    string               `json:"image_url,omitempty"`
	ShareURL    string               `json:"share_url,omitempty"`
	CreatedAt   int64                `json:"created_at,omitempty"`
	UpdatedAt   int64                `json:"updated_at,omitempty"`
	Members     []MemberPayload      `json:"members,omitempty"`
	Messages    GroupMessagesPayload `json:"messages"`
}

// DirectPayload is the wire shape of a direct conversation listing.
type DirectPayload struct {
	OtherUser   PersonPayload   `json:"other_user"`
	LastMessage *MessagePayload `json:"last_message,omitempty"`
	CreatedAt   int64           `json:"created_at,omitempty"`
	UpdatedAt   int64           `json:"updated_at,omitempty"`
}

// ConversationFromPayload validates a group listing and converts it.
// Roster entries without a user ID are skipped.
func ConversationFromPayload(payload GroupPayload) (*Conversation, error) {
	if err := validatePayload("conversation", payload); err != nil {
		return nil, err
	}
	kind := KindGroup
	if payload.Type == "direct" {
		kind = KindDirect
	}
	conversation := NewConversation(payload.ID, kind)
	conversation.Name = payload.Name
	conversation.Description = payload.Description
	conversation.AvatarURL = payload.ImageURL
	conversation.ShareURL = payload.ShareURL
	conversation.CreatedAt = fromUnix(payload.CreatedAt)
	conversation.UpdatedAt = fromUnix(payload.UpdatedAt)
	if payload.Members != nil {
		conversation.Members = make([]Member, 0, len(payload.Members))
		for _, member := range payload.Members {
			if member.UserID == "" {
				continue
			}
			conversation.Members = append(conversation.Members, Member{
				UserID:    member.UserID,
				Nickname:  member.Nickname,
				AvatarURL: member.ImageURL,
				Muted:     member.Muted,
			})
		}
	}
	preview := payload.Messages.Preview
	conversation.Preview = Preview{Nickname: preview.Nickname, Text: preview.Text, AvatarURL: preview.ImageURL}
	for _, attachmentPayload := range preview.Attachments {
		if attachment, err := AttachmentFromPayload(attachmentPayload); err == nil {
			conversation.Preview.Attachments = append(conversation.Preview.Attachments, attachment)
		}
	}
	return conversation, nil
}

// DirectConversationID is the identifier the service gives the direct
// conversation between two users: both IDs, ordered, joined by "+".
func DirectConversationID(first, second string) string {
	if second < first {
		first, second = second, first
	}
	return first + "+" + second
}

// ConversationFromDirectPayload converts a direct conversation listing
// for the signed-in user selfID.
func ConversationFromDirectPayload(selfID string, payload DirectPayload) (*Conversation, error) {
	other, err := PersonFromPayload(payload.OtherUser)
	if err != nil {
		return nil, &PayloadError{Kind: "conversation", Field: "other_user", Reason: err.Error()}
	}
	id := DirectConversationID(selfID, other.ID)
	if payload.LastMessage != nil && payload.LastMessage.ConversationID != "" {
		id = payload.LastMessage.ConversationID
	}
	conversation := NewConversation(id, KindDirect)
	conversation.Name = other.Name
	conversation.AvatarURL = other.AvatarURL
	conversation.CreatedAt = fromUnix(payload.CreatedAt)
	conversation.UpdatedAt = fromUnix(payload.UpdatedAt)
	conversation.Members = []Member{{UserID: other.ID, Nickname: other.Name, AvatarURL: other.AvatarURL}}
	if payload.LastMessage != nil {
		conversation.Preview = Preview{Nickname: payload.LastMessage.Name, Text: payload.LastMessage.Text}
	}
	return conversation, nil
}

// OtherUserID returns the peer of a direct conversation, or "" for
// groups and unparseable IDs.
func (c *Conversation) OtherUserID(selfID string) string {
	if c.Kind != KindDirect {
		return ""
	}
	first, second, ok := strings.Cut(c.ID, "+")
	if !ok {
		if len(c.Members) == 1 {
			return c.Members[0].UserID
		}
		return ""
	}
	if first == selfID {
		return second
	}
	return first
}

// Payload converts c to a GroupPayload. The message collection is not
// included.
func (c *Conversation) Payload() GroupPayload {
	payload := GroupPayload{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		ImageURL:    c.AvatarURL,
		ShareURL:    c.ShareURL,
		CreatedAt:   toUnix(c.CreatedAt),
		UpdatedAt:   toUnix(c.UpdatedAt),
		Messages: GroupMessagesPayload{Preview: PreviewPayload{
			Nickname: c.Preview.Nickname,
			Text:     c.Preview.Text,
			ImageURL: c.Preview.AvatarURL,
		}},
	}
	if c.Kind == KindDirect {
		payload.Type = "direct"
	}
	if c.Members != nil {
		payload.Members = make([]MemberPayload, 0, len(c.Members))
		for _, member := range c.Members {
			payload.Members = append(payload.Members, MemberPayload{
				UserID: member.UserID, Nickname: member.Nickname, ImageURL: member.AvatarURL, Muted: member.Muted,
			})
		}
	}
	for _, attachment := range c.Preview.Attachments {
		payload.Messages.Preview.Attachments = append(payload.Messages.Preview.Attachments, attachment.Payload())
	}
	return payload
}
