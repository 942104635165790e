// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"

	"github.com/gmtsync/gmtsync/lib/chat"
)

// envelope wraps every REST response.
type envelope struct {
	Response json.RawMessage `json:"response"`
	Meta     meta            `json:"meta"`
}

type meta struct {
	Code   int      `json:"code"`
	Errors []string `json:"errors,omitempty"`
}

// messagesPage is the response of a group messages listing.
type messagesPage struct {
	Count    int                   `json:"count"`
	Messages []chat.MessagePayload `json:"messages"`
}

// directMessagesPage is the response of a direct messages listing.
type directMessagesPage struct {
	Count          int                   `json:"count"`
	DirectMessages []chat.MessagePayload `json:"direct_messages"`
}

// sentMessage is the response of a group message send.
type sentMessage struct {
	Message chat.MessagePayload `json:"message"`
}

// directMessageRequest is the body of a direct message send.
type directMessageRequest struct {
	DirectMessage directMessageBody `json:"direct_message"`
}

type directMessageBody struct {
	SourceGUID  string                   `json:"source_guid"`
	RecipientID string                   `json:"recipient_id"`
	Text        string                   `json:"text,omitempty"`
	Attachments []chat.AttachmentPayload `json:"attachments,omitempty"`
}

// sentDirectMessage is the response of a direct message send.
type sentDirectMessage struct {
	DirectMessage chat.MessagePayload `json:"direct_message"`
}

// imageUpload is the image service's reply. It is not enveloped.
type imageUpload struct {
	Payload struct {
		URL        string `json:"url"`
		PictureURL string `json:"picture_url"`
	} `json:"payload"`
}
