// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"errors"
	"fmt"

	"github.com/gmtsync/gmtsync/lib/chat"
	"github.com/gmtsync/gmtsync/lib/update"
)

// body is the stored form of an update. Which fields are set depends
// on the update kind.
type body struct {
	ConversationID  string                `cbor:"conversation_id,omitempty"`
	ConversationIDs []string              `cbor:"conversation_ids,omitempty"`
	Conversations   []chat.GroupPayload   `cbor:"conversations,omitempty"`
	People          []chat.PersonPayload  `cbor:"people,omitempty"`
	Messages        []chat.MessagePayload `cbor:"messages,omitempty"`
	PersonID        string                `cbor:"person_id,omitempty"`
	Name            string                `cbor:"name,omitempty"`
	AvatarURL       string                `cbor:"avatar_url,omitempty"`
}

func encodeUpdate(u update.Update) (body, error) {
	switch u := u.(type) {
	case update.Joined:
		var b body
		for _, conversation := range u.Conversations {
			b.Conversations = append(b.Conversations, conversation.Payload())
		}
		return b, nil
	case update.Left:
		return body{ConversationIDs: u.ConversationIDs}, nil
	case update.ParticipantsJoined:
		return body{ConversationID: u.ConversationID, People: peoplePayloads(u.People)}, nil
	case update.ParticipantsLeft:
		return body{ConversationID: u.ConversationID, People: peoplePayloads(u.People)}, nil
	case update.Typers:
		return body{ConversationID: u.ConversationID, People: peoplePayloads(u.People)}, nil
	case update.NewMessages:
		return body{ConversationID: u.ConversationID, Messages: messagePayloads(u.Messages)}, nil
	case update.HeartMessages:
		return body{ConversationID: u.ConversationID, Messages: messagePayloads(u.Messages)}, nil
	case update.NameChanged:
		return body{PersonID: u.PersonID, Name: u.Name}, nil
	case update.AvatarChanged:
		return body{PersonID: u.PersonID, AvatarURL: u.AvatarURL}, nil
	}
	return body{}, fmt.Errorf("journal: no record form for %T", u)
}

// decodeUpdate rebuilds an update. Items that no longer validate are
// skipped and reported in the joined error alongside the update.
func decodeUpdate(kind string, b body) (update.Update, error) {
	switch kind {
	case "joined":
		var (
			conversations []*chat.Conversation
			errs          []error
		)
		for _, payload := range b.Conversations {
			conversation, err := chat.ConversationFromPayload(payload)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			conversations = append(conversations, conversation)
		}
		return update.Joined{Conversations: conversations}, errors.Join(errs...)
	case "left":
		return update.Left{ConversationIDs: b.ConversationIDs}, nil
	case "participants_joined":
		people, err := decodePeople(b.People)
		return update.ParticipantsJoined{ConversationID: b.ConversationID, People: people}, err
	case "participants_left":
		people, err := decodePeople(b.People)
		return update.ParticipantsLeft{ConversationID: b.ConversationID, People: people}, err
	case "typers":
		people, err := decodePeople(b.People)
		return update.Typers{ConversationID: b.ConversationID, People: people}, err
	case "new_messages":
		messages, errs := chat.MessagesFromPayloads(b.Messages)
		return update.NewMessages{ConversationID: b.ConversationID, Messages: messages}, errors.Join(errs...)
	case "heart_messages":
		messages, errs := chat.MessagesFromPayloads(b.Messages)
		return update.HeartMessages{ConversationID: b.ConversationID, Messages: messages}, errors.Join(errs...)
	case "name_changed":
		return update.NameChanged{PersonID: b.PersonID, Name: b.Name}, nil
	case "avatar_changed":
		return update.AvatarChanged{PersonID: b.PersonID, AvatarURL: b.AvatarURL}, nil
	}
	return nil, fmt.Errorf("journal: unknown record kind %q", kind)
}

func peoplePayloads(people []chat.Person) []chat.PersonPayload {
	payloads := make([]chat.PersonPayload, 0, len(people))
	for _, person := range people {
		payloads = append(payloads, person.Payload())
	}
	return payloads
}

func messagePayloads(messages []*chat.Message) []chat.MessagePayload {
	payloads := make([]chat.MessagePayload, 0, len(messages))
	for _, message := range messages {
		payloads = append(payloads, message.Payload())
	}
	return payloads
}

func decodePeople(payloads []chat.PersonPayload) ([]chat.Person, error) {
	var (
		people []chat.Person
		errs   []error
	)
	for _, payload := range payloads {
		person, err := chat.PersonFromPayload(payload)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		people = append(people, person)
	}
	return people, errors.Join(errs...)
}
