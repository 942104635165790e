// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// AttachmentType is the wire "type" of an attachment.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentVideo    AttachmentType = "video"
	AttachmentSplit    AttachmentType = "split"
	AttachmentEmoji    AttachmentType = "emoji"
	AttachmentDocument AttachmentType = "document"
	AttachmentLocation AttachmentType = "location"
	AttachmentEvent    AttachmentType = "event"
)

// AttachmentData is the type-specific content of an attachment. The
// set of implementations is closed.
type AttachmentData interface {
	attachmentData()
	key() string
}

// URLData points at hosted media (images, videos).
type URLData struct{ URL string }

// FileIDData references an uploaded document.
type FileIDData struct{ FileID string }

// TokenData is an opaque token, used by bill splits.
type TokenData struct{ Token string }

// LocationData is a shared location. Coordinates are kept as the
// decimal strings the service sends.
type LocationData struct {
	Lat  string
	Lon  string
	Name string
}

// EmojiData maps placeholder characters in the message text to
// (pack, index) pairs.
type EmojiData struct {
	Placeholder string
	Charmap     [][]int
}

// EventData references a calendar event.
type EventData struct {
	EventID string
	View    string
}

// TentativeData holds local media not yet uploaded.
type TentativeData struct{ Bytes []byte }

func (URLData) attachmentData()       {}
func (FileIDData) attachmentData()    {}
func (TokenData) attachmentData()     {}
func (LocationData) attachmentData()  {}
func (EmojiData) attachmentData()     {}
func (EventData) attachmentData()     {}
func (TentativeData) attachmentData() {}

func (d URLData) key() string      { return "url:" + d.URL }
func (d FileIDData) key() string   { return "file:" + d.FileID }
func (d TokenData) key() string    { return "token:" + d.Token }
func (d LocationData) key() string { return "loc:" + d.Lat + "," + d.Lon + "," + d.Name }
func (d EventData) key() string    { return "event:" + d.EventID }

func (d EmojiData) key() string {
	var builder strings.Builder
	builder.WriteString("emoji:")
	builder.WriteString(d.Placeholder)
	for _, pair := range d.Charmap {
		fmt.Fprintf(&builder, ";%v", pair)
	}
	return builder.String()
}

func (d TentativeData) key() string {
	sum := blake3.Sum256(d.Bytes)
	return "tentative:" + hex.EncodeToString(sum[:])
}

// Attachment is one piece of media or structured content on a message.
type Attachment struct {
	Type AttachmentType
	Data AttachmentData
}

// Key identifies an attachment by type and content. Two attachments
// with equal keys are the same attachment.
func (a Attachment) Key() string {
	if a.Data == nil {
		return string(a.Type) + "|"
	}
	return string(a.Type) + "|" + a.Data.key()
}

// IsTentative reports whether a holds media awaiting upload.
func (a Attachment) IsTentative() bool {
	_, ok := a.Data.(TentativeData)
	return ok
}

// NewImageAttachment returns a tentative image attachment for bytes.
func NewImageAttachment(bytes []byte) Attachment {
	return Attachment{Type: AttachmentImage, Data: TentativeData{Bytes: bytes}}
}

// AttachmentPayload is the wire shape of an attachment. Which fields
// are populated depends on Type.
type AttachmentPayload struct {
	Type        string  `json:"type" validate:"required,oneof=image video split emoji document location event"`
	URL         string  `json:"url,omitempty"`
	FileID      string  `json:"file_id,omitempty"`
	Token       string  `json:"token,omitempty"`
	Lat         string  `json:"lat,omitempty"`
	Lon         string  `json:"lon,omitempty"`
	Name        string  `json:"name,omitempty"`
	Placeholder string  `json:"placeholder,omitempty"`
	Charmap     [][]int `json:"charmap,omitempty"`
	EventID     string  `json:"event_id,omitempty"`
	View        string  `json:"view,omitempty"`
}

// AttachmentFromPayload validates payload and converts it.
func AttachmentFromPayload(payload AttachmentPayload) (Attachment, error) {
	if err := validatePayload("attachment", payload); err != nil {
		return Attachment{}, err
	}
	kind := AttachmentType(payload.Type)
	missing := func(field string) error {
		return &PayloadError{Kind: "attachment", Field: field, Reason: "required for " + payload.Type}
	}
	switch kind {
	case AttachmentImage, AttachmentVideo:
		if payload.URL == "" {
			return Attachment{}, missing("url")
		}
		return Attachment{Type: kind, Data: URLData{URL: payload.URL}}, nil
	case AttachmentDocument:
		if payload.FileID == "" {
			return Attachment{}, missing("file_id")
		}
		return Attachment{Type: kind, Data: FileIDData{FileID: payload.FileID}}, nil
	case AttachmentSplit:
		if payload.Token == "" {
			return Attachment{}, missing("token")
		}
		return Attachment{Type: kind, Data: TokenData{Token: payload.Token}}, nil
	case AttachmentLocation:
		if payload.Lat == "" || payload.Lon == "" {
			return Attachment{}, missing("lat")
		}
		return Attachment{Type: kind, Data: LocationData{Lat: payload.Lat, Lon: payload.Lon, Name: payload.Name}}, nil
	case AttachmentEmoji:
		if payload.Placeholder == "" {
			return Attachment{}, missing("placeholder")
		}
		return Attachment{Type: kind, Data: EmojiData{Placeholder: payload.Placeholder, Charmap: payload.Charmap}}, nil
	default: // AttachmentEvent; oneof has excluded everything else.
		return Attachment{Type: kind, Data: EventData{EventID: payload.EventID, View: payload.View}}, nil
	}
}

// Payload converts a to its wire shape. Tentative data has no wire
// form and yields a payload carrying only the type.
func (a Attachment) Payload() AttachmentPayload {
	payload := AttachmentPayload{Type: string(a.Type)}
	switch data := a.Data.(type) {
	case URLData:
		payload.URL = data.URL
	case FileIDData:
		payload.FileID = data.FileID
	case TokenData:
		payload.Token = data.Token
	case LocationData:
		payload.Lat, payload.Lon, payload.Name = data.Lat, data.Lon, data.Name
	case EmojiData:
		payload.Placeholder, payload.Charmap = data.Placeholder, data.Charmap
	case EventData:
		payload.EventID, payload.View = data.EventID, data.View
	}
	return payload
}
