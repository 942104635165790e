// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package update defines the changes that flow from the sync sources
// to the conversation store, and the Bus that carries them.
package update

import "github.com/gmtsync/gmtsync/lib/chat"

// Category groups update variants.
type Category int

const (
	CategoryMembership Category = iota
	CategoryMessage
	CategoryParticipant
)

func (c Category) String() string {
	switch c {
	case CategoryMembership:
		return "membership"
	case CategoryMessage:
		return "message"
	case CategoryParticipant:
		return "participant"
	}
	return "unknown"
}

// Update is one change to the local model. The set of implementations
// is closed; consumers switch on the concrete type.
type Update interface {
	Category() Category

	// Kind is a stable snake_case name for logs, metrics, and the
	// journal.
	Kind() string

	sealed()
}

// Joined reports conversations the user now belongs to, in the order
// the service listed them.
type Joined struct {
	Conversations []*chat.Conversation
}

// Left reports conversations the user no longer belongs to.
type Left struct {
	ConversationIDs []string
}

// ParticipantsJoined reports people added to a conversation.
type ParticipantsJoined struct {
	ConversationID string
	People         []chat.Person
}

// ParticipantsLeft reports people removed from a conversation.
type ParticipantsLeft struct {
	ConversationID string
	People         []chat.Person
}

// Typers reports who is currently typing in a conversation.
type Typers struct {
	ConversationID string
	People         []chat.Person
}

// NewMessages carries confirmed messages for one conversation, newest
// first.
type NewMessages struct {
	ConversationID string
	Messages       []*chat.Message
}

// HeartMessages carries messages whose favourite sets changed.
type HeartMessages struct {
	ConversationID string
	Messages       []*chat.Message
}

// NameChanged reports a new display name for a person.
type NameChanged struct {
	PersonID string
	Name     string
}

// AvatarChanged reports a new avatar URL for a person.
type AvatarChanged struct {
	PersonID  string
	AvatarURL string
}

func (Joined) Category() Category             { return CategoryMembership }
func (Left) Category() Category               { return CategoryMembership }
func (ParticipantsJoined) Category() Category { return CategoryMembership }
func (ParticipantsLeft) Category() Category   { return CategoryMembership }
func (Typers) Category() Category             { return CategoryMembership }
func (NewMessages) Category() Category        { return CategoryMessage }
func (HeartMessages) Category() Category      { return CategoryMessage }
func (NameChanged) Category() Category        { return CategoryParticipant }
func (AvatarChanged) Category() Category      { return CategoryParticipant }

func (Joined) Kind() string             { return "joined" }
func (Left) Kind() string               { return "left" }
func (ParticipantsJoined) Kind() string { return "participants_joined" }
func (ParticipantsLeft) Kind() string   { return "participants_left" }
func (Typers) Kind() string             { return "typers" }
func (NewMessages) Kind() string        { return "new_messages" }
func (HeartMessages) Kind() string      { return "heart_messages" }
func (NameChanged) Kind() string        { return "name_changed" }
func (AvatarChanged) Kind() string      { return "avatar_changed" }

func (Joined) sealed()             {}
func (Left) sealed()               {}
func (ParticipantsJoined) sealed() {}
func (ParticipantsLeft) sealed()   {}
func (Typers) sealed()             {}
func (NewMessages) sealed()        {}
func (HeartMessages) sealed()      {}
func (NameChanged) sealed()        {}
func (AvatarChanged) sealed()      {}

// ConversationID returns the conversation an update is scoped to, or
// "" for updates that span conversations or concern people.
func ConversationID(u Update) string {
	switch u := u.(type) {
	case ParticipantsJoined:
		return u.ConversationID
	case ParticipantsLeft:
		return u.ConversationID
	case Typers:
		return u.ConversationID
	case NewMessages:
		return u.ConversationID
	case HeartMessages:
		return u.ConversationID
	}
	return ""
}
