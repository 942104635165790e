// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package outbox sends messages composed locally. Each send appears in
// its conversation at once as a tentative message; images are uploaded,
// the message is posted, and the server's confirmation replaces the
// tentative entry through the ordinary NewMessages path.
//
// A send that fails leaves its tentative message in place. There is no
// retry or rollback.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gmtsync/gmtsync/lib/chat"
	"github.com/gmtsync/gmtsync/lib/clock"
	"github.com/gmtsync/gmtsync/lib/eventloop"
	"github.com/gmtsync/gmtsync/lib/update"
)

// DefaultSendTimeout bounds one delivery, uploads included.
const DefaultSendTimeout = 60 * time.Second

var (
	// ErrEmptyMessage is returned for a send with neither text nor
	// attachments.
	ErrEmptyMessage = errors.New("outbox: message has no text and no attachments")

	// ErrUnknownConversation is returned when the target conversation
	// is not in the store.
	ErrUnknownConversation = errors.New("outbox: unknown conversation")

	// ErrNoProfile is returned before the user's profile has been
	// fetched.
	ErrNoProfile = errors.New("outbox: profile not yet known")
)

// REST is the part of the service API the sender calls.
type REST interface {
	// SendMessage posts message to the conversation and returns the
	// server's copy.
	SendMessage(ctx context.Context, conversationID string, message chat.OutgoingMessage) (chat.MessagePayload, error)

	// UploadImage stores image bytes and returns the hosted URL.
	UploadImage(ctx context.Context, image []byte) (string, error)
}

// Conversations looks up conversations by ID. *convstore.Store
// implements it. It is called only on the event loop.
type Conversations interface {
	Lookup(id string) (*chat.Conversation, bool)
}

// SelfProvider supplies the signed-in user. *profile.Reconciler
// implements it.
type SelfProvider interface {
	Self() (chat.Person, bool)
}

// Observer is notified when a delivery finishes. *metrics.Metrics
// implements it.
type Observer interface {
	SendFinished(result string)
}

// Config wires a Sender. REST, Conversations, Self, Loop, and Bus are
// required.
type Config struct {
	REST          REST
	Conversations Conversations
	Self          SelfProvider
	Loop          *eventloop.Loop
	Bus           *update.Bus

	Clock       clock.Clock
	Logger      *slog.Logger
	Observer    Observer
	SendTimeout time.Duration
}

// Sender composes and delivers outgoing messages.
type Sender struct {
	config Config
	logger *slog.Logger
	flight sync.WaitGroup
}

// New returns a Sender.
func New(config Config) *Sender {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultSendTimeout
	}
	return &Sender{config: config, logger: config.Logger.With("component", "outbox")}
}

// SendText appends a tentative message with text and attachments to
// the conversation and starts delivering it. Attachments made with
// chat.NewImageAttachment are uploaded first. The returned message is
// the tentative entry; delivery continues after SendText returns.
func (s *Sender) SendText(ctx context.Context, conversationID, text string, attachments []chat.Attachment) (*chat.Message, error) {
	if text == "" && len(attachments) == 0 {
		return nil, ErrEmptyMessage
	}
	var (
		message *chat.Message
		err     error
	)
	callErr := s.config.Loop.Call(ctx, func() {
		message, err = s.compose(conversationID, text, attachments)
	})
	if callErr != nil {
		return nil, fmt.Errorf("outbox: composing message: %w", callErr)
	}
	if err != nil {
		return nil, err
	}

	s.flight.Add(1)
	go func() {
		defer s.flight.Done()
		s.deliver(ctx, message)
	}()
	return message, nil
}

// SendImage sends a message holding only image.
func (s *Sender) SendImage(ctx context.Context, conversationID string, image []byte) (*chat.Message, error) {
	if len(image) == 0 {
		return nil, ErrEmptyMessage
	}
	return s.SendText(ctx, conversationID, "", []chat.Attachment{chat.NewImageAttachment(image)})
}

// Wait blocks until every delivery started so far has finished.
func (s *Sender) Wait() {
	s.flight.Wait()
}

func (s *Sender) compose(conversationID, text string, attachments []chat.Attachment) (*chat.Message, error) {
	conversation, ok := s.config.Conversations.Lookup(conversationID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	self, ok := s.config.Self.Self()
	if !ok {
		return nil, ErrNoProfile
	}
	message := chat.NewTentativeMessage(conversationID, self, text, attachments, s.config.Clock.Now())
	conversation.Messages().AppendTentative(message)
	s.logger.Debug("tentative message appended",
		"conversation_id", conversationID,
		"source_guid", message.SourceGUID,
		"attachments", len(attachments),
	)
	return message, nil
}

func (s *Sender) deliver(ctx context.Context, message *chat.Message) {
	ctx, cancel := context.WithTimeout(ctx, s.config.SendTimeout)
	defer cancel()

	logger := s.logger.With("conversation_id", message.ConversationID, "source_guid", message.SourceGUID)
	result := "sent"
	defer func() {
		if s.config.Observer != nil {
			s.config.Observer.SendFinished(result)
		}
	}()

	if err := s.uploadAttachments(ctx, message); err != nil {
		result = "upload_failed"
		logger.Warn("message left tentative", "error", err)
		return
	}
	outgoing, err := message.Outgoing()
	if err != nil {
		result = "upload_failed"
		logger.Warn("message left tentative", "error", err)
		return
	}
	confirmed, err := s.config.REST.SendMessage(ctx, message.ConversationID, outgoing)
	if err != nil {
		result = "send_failed"
		logger.Warn("message left tentative", "error", err)
		return
	}
	logger.Info("message sent", "message_id", confirmed.ID)

	// The server's copy replaces the tentative entry now rather than on
	// the next poll or push.
	if confirmed.ConversationID == "" && confirmed.GroupID == "" {
		confirmed.ConversationID = message.ConversationID
	}
	posted, err := chat.MessageFromPayload(confirmed)
	if err != nil {
		logger.Debug("send response not usable as a confirmation", "error", err)
		return
	}
	s.config.Loop.Do(func() {
		s.config.Bus.Post(update.NewMessages{ConversationID: message.ConversationID, Messages: []*chat.Message{posted}})
	})
}

// uploadAttachments uploads each tentative attachment in turn and
// resolves its slot to the hosted URL on the event loop.
func (s *Sender) uploadAttachments(ctx context.Context, message *chat.Message) error {
	for index, attachment := range message.Attachments() {
		tentative, ok := attachment.Data.(chat.TentativeData)
		if !ok {
			continue
		}
		url, err := s.config.REST.UploadImage(ctx, tentative.Bytes)
		if err != nil {
			return fmt.Errorf("outbox: uploading attachment %d: %w", index, err)
		}
		resolved := chat.Attachment{Type: attachment.Type, Data: chat.URLData{URL: url}}
		var resolveErr error
		if err := s.config.Loop.Call(ctx, func() { resolveErr = message.ResolveAttachment(index, resolved) }); err != nil {
			return fmt.Errorf("outbox: resolving attachment %d: %w", index, err)
		}
		if resolveErr != nil {
			return resolveErr
		}
	}
	return nil
}
