// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestMessageFromPayloadRequiresIdentity(t *testing.T) {
	tests := []struct {
		name  string
		json  string
		field string
	}{
		{"missing id", `{"source_guid":"g1","text":"hi"}`, "id"},
		{"missing source guid", `{"id":"m1","text":"hi"}`, "source_guid"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var payload MessagePayload
			if err := json.Unmarshal([]byte(test.json), &payload); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			_, err := MessageFromPayload(payload)
			if !errors.Is(err, ErrMalformedPayload) {
				t.Fatalf("MessageFromPayload error = %v, want ErrMalformedPayload", err)
			}
			var payloadErr *PayloadError
			if !errors.As(err, &payloadErr) || payloadErr.Field != test.field || payloadErr.Kind != "message" {
				t.Errorf("error = %#v, want field %q of a message payload", payloadErr, test.field)
			}
		})
	}
}

func TestMessageFromPayload(t *testing.T) {
	raw := `{
		"id": "m1",
		"source_guid": "g1",
		"created_at": 1467331200,
		"group_id": "G",
		"user_id": "u1",
		"name": "Alice",
		"avatar_url": null,
		"text": "see attached",
		"favorited_by": ["u2"],
		"attachments": [
			{"type": "image", "url": "https://i.example/1.png"},
			{"type": "location", "lat": "51.5", "lon": "-0.12", "name": "London"},
			{"type": "image"},
			{"type": "hologram", "url": "x"}
		]
	}`
	var payload MessagePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	message, err := MessageFromPayload(payload)
	if err != nil {
		t.Fatalf("MessageFromPayload: %v", err)
	}
	if message.ID != "m1" || message.SourceGUID != "g1" || message.ConversationID != "G" || message.IsTentative() {
		t.Errorf("identity = (%q, %q, %q, tentative=%v)", message.ID, message.SourceGUID, message.ConversationID, message.IsTentative())
	}
	if !message.CreatedAt.Equal(time.Unix(1467331200, 0)) {
		t.Errorf("CreatedAt = %v", message.CreatedAt)
	}
	want := []Attachment{
		{Type: AttachmentImage, Data: URLData{URL: "https://i.example/1.png"}},
		{Type: AttachmentLocation, Data: LocationData{Lat: "51.5", Lon: "-0.12", Name: "London"}},
	}
	if diff := cmp.Diff(want, message.Attachments()); diff != "" {
		t.Errorf("attachments (-want +got):\n%s", diff)
	}
}

func TestDirectMessageUsesConversationID(t *testing.T) {
	message, err := MessageFromPayload(MessagePayload{ID: "d1", SourceGUID: "g", ConversationID: "1+2", RecipientID: "2"})
	if err != nil {
		t.Fatalf("MessageFromPayload: %v", err)
	}
	if message.ConversationID != "1+2" {
		t.Errorf("ConversationID = %q, want 1+2", message.ConversationID)
	}
}

func TestMessagesFromPayloadsDropsMalformed(t *testing.T) {
	messages, dropped := MessagesFromPayloads([]MessagePayload{
		{ID: "m2", SourceGUID: "g2"},
		{SourceGUID: "orphan"},
		{ID: "m1", SourceGUID: "g1"},
	})
	if len(messages) != 2 || messages[0].ID != "m2" || messages[1].ID != "m1" {
		t.Fatalf("kept %d messages, want m2 and m1 in order", len(messages))
	}
	if len(dropped) != 1 || !IsPayloadError(dropped[0], "message") {
		t.Fatalf("dropped = %v, want one message payload error", dropped)
	}
}

func TestAttachmentFromPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload AttachmentPayload
		want    Attachment
		wantErr bool
	}{
		{"video", AttachmentPayload{Type: "video", URL: "v"}, Attachment{Type: AttachmentVideo, Data: URLData{URL: "v"}}, false},
		{"document", AttachmentPayload{Type: "document", FileID: "f"}, Attachment{Type: AttachmentDocument, Data: FileIDData{FileID: "f"}}, false},
		{"split", AttachmentPayload{Type: "split", Token: "t"}, Attachment{Type: AttachmentSplit, Data: TokenData{Token: "t"}}, false},
		{"emoji", AttachmentPayload{Type: "emoji", Placeholder: "☃", Charmap: [][]int{{1, 42}}}, Attachment{Type: AttachmentEmoji, Data: EmojiData{Placeholder: "☃", Charmap: [][]int{{1, 42}}}}, false},
		{"event", AttachmentPayload{Type: "event", EventID: "e"}, Attachment{Type: AttachmentEvent, Data: EventData{EventID: "e"}}, false},
		{"document without file", AttachmentPayload{Type: "document"}, Attachment{}, true},
		{"unknown type", AttachmentPayload{Type: "poll"}, Attachment{}, true},
		{"no type", AttachmentPayload{URL: "u"}, Attachment{}, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := AttachmentFromPayload(test.payload)
			if test.wantErr {
				if !IsPayloadError(err, "attachment") {
					t.Fatalf("error = %v, want attachment payload error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("AttachmentFromPayload: %v", err)
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("attachment (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAttachmentKey(t *testing.T) {
	first := NewImageAttachment([]byte("pixels"))
	second := NewImageAttachment([]byte("pixels"))
	other := NewImageAttachment([]byte("other pixels"))
	if first.Key() != second.Key() {
		t.Error("identical tentative bytes produced different keys")
	}
	if first.Key() == other.Key() {
		t.Error("different tentative bytes produced the same key")
	}
	hosted := Attachment{Type: AttachmentImage, Data: URLData{URL: "u"}}
	video := Attachment{Type: AttachmentVideo, Data: URLData{URL: "u"}}
	if hosted.Key() == video.Key() {
		t.Error("key ignores attachment type")
	}
}

func TestResolveAttachmentVisibleToAllHolders(t *testing.T) {
	message := NewTentativeMessage("G", Person{ID: "me"}, "", []Attachment{NewImageAttachment([]byte{1, 2, 3})}, time.Unix(0, 0))
	holder := message

	if _, err := message.Outgoing(); err == nil {
		t.Fatal("Outgoing() succeeded while the image is still local")
	}
	resolved := Attachment{Type: AttachmentImage, Data: URLData{URL: "https://i.example/up.png"}}
	if err := message.ResolveAttachment(0, resolved); err != nil {
		t.Fatalf("ResolveAttachment: %v", err)
	}
	if err := message.ResolveAttachment(1, resolved); err == nil {
		t.Error("ResolveAttachment accepted an out-of-range slot")
	}
	if diff := cmp.Diff([]Attachment{resolved}, holder.Attachments()); diff != "" {
		t.Errorf("holder sees (-want +got):\n%s", diff)
	}

	// Mutating a returned copy must not reach the message.
	copied := holder.Attachments()
	copied[0] = NewImageAttachment(nil)
	if holder.Attachments()[0].IsTentative() {
		t.Error("Attachments() returned the live slot slice")
	}

	outgoing, err := message.Outgoing()
	if err != nil {
		t.Fatalf("Outgoing: %v", err)
	}
	want := OutgoingMessage{Message: OutgoingMessageBody{
		SourceGUID:  message.SourceGUID,
		Attachments: []AttachmentPayload{{Type: "image", URL: "https://i.example/up.png"}},
	}}
	if diff := cmp.Diff(want, outgoing); diff != "" {
		t.Errorf("outgoing (-want +got):\n%s", diff)
	}
}

func TestConversationFromPayload(t *testing.T) {
	raw := `{
		"id": "G1",
		"name": "Climbing",
		"image_url": "https://i.example/g.png",
		"created_at": 1000,
		"members": [
			{"user_id": "u1", "nickname": "Alice", "muted": true},
			{"nickname": "ghost"}
		],
		"messages": {"count": 3, "preview": {"nickname": "Alice", "text": "tuesday?"}}
	}`
	var payload GroupPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	conversation, err := ConversationFromPayload(payload)
	if err != nil {
		t.Fatalf("ConversationFromPayload: %v", err)
	}
	if conversation.ID != "G1" || conversation.Kind != KindGroup || conversation.Messages() == nil {
		t.Fatalf("conversation = %+v", conversation)
	}
	if diff := cmp.Diff([]Member{{UserID: "u1", Nickname: "Alice", Muted: true}}, conversation.Members); diff != "" {
		t.Errorf("members (-want +got):\n%s", diff)
	}
	if got := conversation.Preview.Summary(); got != "Alice: tuesday?" {
		t.Errorf("Summary() = %q", got)
	}

	if _, err := ConversationFromPayload(GroupPayload{Name: "no id"}); !IsPayloadError(err, "conversation") {
		t.Errorf("missing id error = %v", err)
	}
}

func TestConversationPayloadRoundTripKeepsKind(t *testing.T) {
	direct, err := ConversationFromDirectPayload("100", DirectPayload{OtherUser: PersonPayload{ID: "7", Name: "Bo"}})
	if err != nil {
		t.Fatalf("ConversationFromDirectPayload: %v", err)
	}
	if direct.ID != "100+7" || direct.OtherUserID("100") != "7" {
		t.Fatalf("direct conversation ID = %q, other = %q", direct.ID, direct.OtherUserID("100"))
	}
	restored, err := ConversationFromPayload(direct.Payload())
	if err != nil {
		t.Fatalf("ConversationFromPayload: %v", err)
	}
	if restored.Kind != KindDirect || restored.Name != "Bo" {
		t.Errorf("restored = %+v", restored)
	}
}

func TestConversationRoster(t *testing.T) {
	conversation := NewConversation("G", KindGroup)
	if conversation.Members != nil {
		t.Fatal("new conversation has a known roster")
	}
	added := conversation.AddMembers([]Person{{ID: "u1", Name: "A"}, {ID: "u2"}, {ID: "u1"}})
	if added != 2 || len(conversation.Members) != 2 {
		t.Fatalf("AddMembers added %d, roster has %d", added, len(conversation.Members))
	}
	if removed := conversation.RemoveMembers([]Person{{ID: "u1"}, {ID: "nobody"}}); removed != 1 {
		t.Fatalf("RemoveMembers removed %d, want 1", removed)
	}
	if conversation.Members[0].UserID != "u2" {
		t.Errorf("remaining member = %q", conversation.Members[0].UserID)
	}
}

func TestPersonFromPayload(t *testing.T) {
	person, err := PersonFromPayload(PersonPayload{ID: "u1", Name: "Alice", ImageURL: "a.png", SMS: true, CreatedAt: 10})
	if err != nil {
		t.Fatalf("PersonFromPayload: %v", err)
	}
	want := Person{ID: "u1", Name: "Alice", AvatarURL: "a.png", SMS: true, CreatedAt: time.Unix(10, 0).UTC()}
	if diff := cmp.Diff(want, person); diff != "" {
		t.Errorf("person (-want +got):\n%s", diff)
	}
	if _, err := PersonFromPayload(PersonPayload{Name: "nobody"}); !IsPayloadError(err, "person") {
		t.Errorf("missing id error = %v", err)
	}
}
