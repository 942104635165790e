// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/gmtsync/gmtsync/lib/chat"
	"github.com/gmtsync/gmtsync/lib/convstore"
	"github.com/gmtsync/gmtsync/lib/eventloop"
	"github.com/gmtsync/gmtsync/lib/outbox"
)

// maxImageSize caps uploads accepted by the image endpoint.
const maxImageSize = 16 << 20

// server exposes the conversation model over local HTTP. Every read
// of the model happens on the event loop.
type server struct {
	// ctx outlives individual requests; deliveries started by a
	// request continue after it returns.
	ctx     context.Context
	loop    *eventloop.Loop
	store   *convstore.Store
	sender  *outbox.Sender
	metrics http.Handler
	logger  *slog.Logger
}

func (s *server) router() *mux.Router {
	router := mux.NewRouter()
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	router.HandleFunc("/debug/conversations", s.listConversations).Methods(http.MethodGet)
	router.HandleFunc("/debug/conversations/{id}", s.showConversation).Methods(http.MethodGet)
	router.HandleFunc("/conversations/{id}/messages", s.sendText).Methods(http.MethodPost)
	router.HandleFunc("/conversations/{id}/images", s.sendImage).Methods(http.MethodPost)
	return router
}

func (s *server) listConversations(writer http.ResponseWriter, request *http.Request) {
	var summaries []convstore.Summary
	if err := s.loop.Call(request.Context(), func() { summaries = s.store.Summaries() }); err != nil {
		s.writeError(writer, http.StatusServiceUnavailable, err)
		return
	}
	if summaries == nil {
		summaries = []convstore.Summary{}
	}
	s.writeJSON(writer, http.StatusOK, summaries)
}

// messageView is one message in a conversation dump.
type messageView struct {
	ID          string    `json:"id,omitempty"`
	SourceGUID  string    `json:"source_guid"`
	CreatedAt   time.Time `json:"created_at"`
	SenderID    string    `json:"sender_id,omitempty"`
	SenderName  string    `json:"sender_name,omitempty"`
	Text        string    `json:"text,omitempty"`
	Attachments []string  `json:"attachments,omitempty"`
	FavoritedBy []string  `json:"favorited_by,omitempty"`
	Tentative   bool      `json:"tentative,omitempty"`
}

type conversationView struct {
	convstore.Summary
	History []messageView `json:"history"`
}

func (s *server) showConversation(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["id"]
	var (
		view  conversationView
		found bool
	)
	err := s.loop.Call(request.Context(), func() {
		for _, summary := range s.store.Summaries() {
			if summary.ID == id {
				view.Summary = summary
				found = true
				break
			}
		}
		conversation, ok := s.store.Lookup(id)
		if !ok {
			return
		}
		view.History = []messageView{}
		for _, message := range conversation.Messages().Messages() {
			view.History = append(view.History, viewMessage(message))
		}
	})
	if err != nil {
		s.writeError(writer, http.StatusServiceUnavailable, err)
		return
	}
	if !found {
		s.writeError(writer, http.StatusNotFound, errors.New("no conversation "+id))
		return
	}
	s.writeJSON(writer, http.StatusOK, view)
}

func viewMessage(message *chat.Message) messageView {
	view := messageView{
		ID:          message.ID,
		SourceGUID:  message.SourceGUID,
		CreatedAt:   message.CreatedAt,
		SenderID:    message.SenderID,
		SenderName:  message.SenderName,
		Text:        message.Text,
		FavoritedBy: message.FavoritedBy(),
		Tentative:   message.IsTentative(),
	}
	for _, attachment := range message.Attachments() {
		view.Attachments = append(view.Attachments, attachment.Key())
	}
	return view
}

type sendRequest struct {
	Text string `json:"text"`
}

type sendResponse struct {
	SourceGUID string `json:"source_guid"`
}

func (s *server) sendText(writer http.ResponseWriter, request *http.Request) {
	var body sendRequest
	if err := json.NewDecoder(io.LimitReader(request.Body, 1<<20)).Decode(&body); err != nil {
		s.writeError(writer, http.StatusBadRequest, err)
		return
	}
	message, err := s.sender.SendText(s.ctx, mux.Vars(request)["id"], body.Text, nil)
	s.writeSent(writer, message, err)
}

func (s *server) sendImage(writer http.ResponseWriter, request *http.Request) {
	image, err := io.ReadAll(io.LimitReader(request.Body, maxImageSize+1))
	if err != nil {
		s.writeError(writer, http.StatusBadRequest, err)
		return
	}
	if len(image) > maxImageSize {
		s.writeError(writer, http.StatusRequestEntityTooLarge, errors.New("image too large"))
		return
	}
	message, err := s.sender.SendImage(s.ctx, mux.Vars(request)["id"], image)
	s.writeSent(writer, message, err)
}

func (s *server) writeSent(writer http.ResponseWriter, message *chat.Message, err error) {
	switch {
	case err == nil:
		s.writeJSON(writer, http.StatusAccepted, sendResponse{SourceGUID: message.SourceGUID})
	case errors.Is(err, outbox.ErrEmptyMessage):
		s.writeError(writer, http.StatusBadRequest, err)
	case errors.Is(err, outbox.ErrUnknownConversation):
		s.writeError(writer, http.StatusNotFound, err)
	case errors.Is(err, outbox.ErrNoProfile):
		s.writeError(writer, http.StatusConflict, err)
	default:
		s.writeError(writer, http.StatusServiceUnavailable, err)
	}
}

func (s *server) writeJSON(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(value); err != nil {
		s.logger.Debug("writing response", "error", err)
	}
}

func (s *server) writeError(writer http.ResponseWriter, status int, err error) {
	s.writeJSON(writer, status, map[string]string{"error": err.Error()})
}
