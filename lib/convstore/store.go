// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package convstore holds the ordered set of conversations the user
// belongs to and routes updates from the bus into them.
package convstore

import (
	"log/slog"
	"slices"

	"github.com/gmtsync/gmtsync/lib/chat"
	"github.com/gmtsync/gmtsync/lib/update"
)

// Store is the ordered conversation list plus an ID index derived from
// it. The index is rebuilt from the order after every membership
// change and is never edited on its own, so the store can never hold
// two conversations with the same ID.
//
// Store is a pure bus consumer and, like everything else it touches,
// is used only on the sync event loop.
type Store struct {
	logger *slog.Logger

	ordered []*chat.Conversation
	index   map[string]*chat.Conversation
}

// New returns an empty store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{logger: logger, index: map[string]*chat.Conversation{}}
}

// Attach subscribes the store to bus.
func (s *Store) Attach(bus *update.Bus) update.SubscriptionID {
	return bus.Subscribe(s.Apply)
}

// Apply folds one update into the store.
func (s *Store) Apply(u update.Update) {
	switch u := u.(type) {
	case update.Joined:
		s.join(u.Conversations)
	case update.Left:
		s.leave(u.ConversationIDs)
	case update.ParticipantsJoined:
		if conversation := s.routed(u); conversation != nil {
			conversation.AddMembers(u.People)
		}
	case update.ParticipantsLeft:
		if conversation := s.routed(u); conversation != nil {
			conversation.RemoveMembers(u.People)
		}
	case update.Typers:
		if conversation := s.routed(u); conversation != nil {
			conversation.Typers = slices.Clone(u.People)
		}
	case update.NewMessages:
		if conversation := s.routed(u); conversation != nil {
			added := conversation.Messages().Append(u.Messages)
			s.logger.Debug("messages appended",
				"conversation_id", u.ConversationID,
				"received", len(u.Messages),
				"added", added,
			)
		}
	case update.HeartMessages:
		if conversation := s.routed(u); conversation != nil {
			conversation.Messages().ApplyHearts(u.Messages)
		}
	case update.NameChanged, update.AvatarChanged:
		// Profile changes concern people, not conversations.
	default:
		s.logger.Warn("store ignoring unknown update", "kind", u.Kind())
	}
}

// routed returns the conversation a scoped update targets, logging
// and returning nil when it is not in the store. Updates for unknown
// conversations are dropped, not buffered.
func (s *Store) routed(u update.Update) *chat.Conversation {
	id := update.ConversationID(u)
	conversation, ok := s.index[id]
	if !ok {
		s.logger.Warn("dropping update for unknown conversation",
			"kind", u.Kind(),
			"conversation_id", id,
		)
		return nil
	}
	return conversation
}

func (s *Store) join(conversations []*chat.Conversation) {
	changed := false
	for _, conversation := range conversations {
		if conversation == nil {
			continue
		}
		if _, exists := s.index[conversation.ID]; exists {
			s.logger.Debug("conversation already joined", "conversation_id", conversation.ID)
			continue
		}
		s.ordered = append(s.ordered, conversation)
		// Keep the index current within the batch so a repeated ID
		// in the same Joined is also skipped.
		s.index[conversation.ID] = conversation
		changed = true
	}
	if changed {
		s.rebuildIndex()
	}
}

func (s *Store) leave(ids []string) {
	if len(ids) == 0 {
		return
	}
	removed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		removed[id] = struct{}{}
	}
	before := len(s.ordered)
	s.ordered = slices.DeleteFunc(s.ordered, func(conversation *chat.Conversation) bool {
		_, gone := removed[conversation.ID]
		return gone
	})
	if len(s.ordered) != before {
		s.rebuildIndex()
	}
}

func (s *Store) rebuildIndex() {
	index := make(map[string]*chat.Conversation, len(s.ordered))
	for _, conversation := range s.ordered {
		index[conversation.ID] = conversation
	}
	s.index = index
}

// Lookup returns the conversation with id.
func (s *Store) Lookup(id string) (*chat.Conversation, bool) {
	conversation, ok := s.index[id]
	return conversation, ok
}

// At returns the conversation at position index in join order.
func (s *Store) At(index int) *chat.Conversation { return s.ordered[index] }

// Len returns the number of conversations.
func (s *Store) Len() int { return len(s.ordered) }

// Conversations returns a copy of the ordered list.
func (s *Store) Conversations() []*chat.Conversation { return slices.Clone(s.ordered) }

// ConversationIDs returns the IDs in order.
func (s *Store) ConversationIDs() []string {
	ids := make([]string, len(s.ordered))
	for position, conversation := range s.ordered {
		ids[position] = conversation.ID
	}
	return ids
}

// NewestMessageID returns the polling cursor for a conversation: the
// ID of its newest confirmed message.
func (s *Store) NewestMessageID(id string) (string, bool) {
	conversation, ok := s.index[id]
	if !ok {
		return "", false
	}
	return conversation.Messages().NewestMessageID()
}

// Summary is a read-only digest of one conversation.
type Summary struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	Name            string `json:"name"`
	Preview         string `json:"preview,omitempty"`
	Members         int    `json:"members"`
	Messages        int    `json:"messages"`
	Tentative       int    `json:"tentative"`
	Unread          int    `json:"unread"`
	NewestMessageID string `json:"newest_message_id,omitempty"`
}

// Summaries digests every conversation in order.
func (s *Store) Summaries() []Summary {
	summaries := make([]Summary, 0, len(s.ordered))
	for _, conversation := range s.ordered {
		messages := conversation.Messages()
		newest, _ := messages.NewestMessageID()
		summaries = append(summaries, Summary{
			ID:              conversation.ID,
			Kind:            conversation.Kind.String(),
			Name:            conversation.Name,
			Preview:         conversation.Preview.Summary(),
			Members:         len(conversation.Members),
			Messages:        messages.Len(),
			Tentative:       len(messages.Tentative()),
			Unread:          messages.UnreadCount(),
			NewestMessageID: newest,
		})
	}
	return summaries
}
