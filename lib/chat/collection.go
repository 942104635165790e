// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import "slices"

// MessageCollection is a conversation's messages, oldest first, with
// tentative sends held at the tail until the server confirms them.
//
// The collection is owned by the sync event loop and is not safe for
// concurrent use.
type MessageCollection struct {
	messages []*Message

	// lastSeen is the index of the first message the user has not
	// seen.
	lastSeen int
}

// NewMessageCollection returns an empty collection.
func NewMessageCollection() *MessageCollection {
	return &MessageCollection{}
}

// Len returns the number of messages, tentative ones included.
func (c *MessageCollection) Len() int { return len(c.messages) }

// At returns the message at index, oldest first.
func (c *MessageCollection) At(index int) *Message { return c.messages[index] }

// Messages returns a copy of the ordered message list.
func (c *MessageCollection) Messages() []*Message { return slices.Clone(c.messages) }

// Tentative returns the messages still awaiting confirmation.
func (c *MessageCollection) Tentative() []*Message {
	var tentative []*Message
	for _, message := range c.messages {
		if message.IsTentative() {
			tentative = append(tentative, message)
		}
	}
	return tentative
}

// Append merges a batch of confirmed messages, newest first as the
// service delivers them, and returns how many were added.
//
// A tentative message is replaced by the confirmed message sharing
// its source GUID. Messages already held, or repeated within the
// batch, are skipped, so delivering the same batch from both the
// poller and the push socket leaves one copy. When the collection was
// non-empty before the call and the batch added anything, everything
// from the old length onwards counts as unread; a batch that adds
// nothing leaves the cursor alone.
func (c *MessageCollection) Append(newestFirst []*Message) int {
	before := len(c.messages)

	incomingGUIDs := make(map[string]struct{}, len(newestFirst))
	incomingIDs := make(map[string]struct{}, len(newestFirst))
	for _, message := range newestFirst {
		incomingGUIDs[message.SourceGUID] = struct{}{}
		if message.ID != "" {
			incomingIDs[message.ID] = struct{}{}
		}
	}

	held := make(map[string]struct{}, len(c.messages))
	c.messages = slices.DeleteFunc(c.messages, func(message *Message) bool {
		if !message.IsTentative() {
			held[message.ID] = struct{}{}
			return false
		}
		if _, ok := incomingGUIDs[message.SourceGUID]; ok {
			return true
		}
		_, ok := incomingIDs[message.ID]
		return message.ID != "" && ok
	})
	// Removing confirmed tentatives must not leave the cursor past
	// the end.
	c.lastSeen = min(c.lastSeen, len(c.messages))
	afterReconcile := len(c.messages)

	for index := len(newestFirst) - 1; index >= 0; index-- {
		message := newestFirst[index]
		if message.ID != "" {
			if _, ok := held[message.ID]; ok {
				continue
			}
			held[message.ID] = struct{}{}
		}
		c.messages = append(c.messages, message)
	}

	appended := len(c.messages) - afterReconcile
	if before > 0 && appended > 0 {
		c.lastSeen = min(before, len(c.messages))
	}
	return appended
}

// AppendTentative adds a locally originated message at the tail.
func (c *MessageCollection) AppendTentative(message *Message) {
	c.messages = append(c.messages, message)
}

// ApplyHearts replaces the favourite set of each held message that
// matches an incoming message by ID, and returns how many matched.
func (c *MessageCollection) ApplyHearts(messages []*Message) int {
	byID := make(map[string]*Message, len(messages))
	for _, message := range messages {
		if message.ID != "" {
			byID[message.ID] = message
		}
	}
	matched := 0
	for _, held := range c.messages {
		if held.IsTentative() {
			continue
		}
		if update, ok := byID[held.ID]; ok {
			held.SetFavoritedBy(update.FavoritedBy())
			matched++
		}
	}
	return matched
}

// NewestMessageID returns the ID of the newest confirmed message.
func (c *MessageCollection) NewestMessageID() (string, bool) {
	for index := len(c.messages) - 1; index >= 0; index-- {
		if !c.messages[index].IsTentative() {
			return c.messages[index].ID, true
		}
	}
	return "", false
}

// UnreadCount is the number of messages past the last-seen cursor.
func (c *MessageCollection) UnreadCount() int {
	return max(0, len(c.messages)-c.lastSeen)
}

// MarkSeen moves the last-seen cursor to the end.
func (c *MessageCollection) MarkSeen() {
	c.lastSeen = len(c.messages)
}
