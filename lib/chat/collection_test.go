// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func confirmed(id, guid string) *Message {
	return &Message{ID: id, SourceGUID: guid, ConversationID: "A"}
}

func ids(collection *MessageCollection) []string {
	var result []string
	for _, message := range collection.Messages() {
		if message.IsTentative() {
			result = append(result, "~"+message.SourceGUID)
			continue
		}
		result = append(result, message.ID)
	}
	return result
}

func TestAppendReversesNewestFirstBatches(t *testing.T) {
	collection := NewMessageCollection()
	collection.Append([]*Message{confirmed("m2", "g2"), confirmed("m1", "g1")})
	collection.Append([]*Message{confirmed("m4", "g4"), confirmed("m3", "g3")})

	if diff := cmp.Diff([]string{"m1", "m2", "m3", "m4"}, ids(collection)); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	newest, ok := collection.NewestMessageID()
	if !ok || newest != "m4" {
		t.Errorf("NewestMessageID() = %q, %v; want m4, true", newest, ok)
	}
}

func TestAppendIsIdempotent(t *testing.T) {
	batch := func() []*Message {
		return []*Message{confirmed("m3", "g3"), confirmed("m2", "g2")}
	}
	once := NewMessageCollection()
	once.Append([]*Message{confirmed("m1", "g1")})
	once.Append(batch())

	twice := NewMessageCollection()
	twice.Append([]*Message{confirmed("m1", "g1")})
	twice.Append(batch())
	if added := twice.Append(batch()); added != 0 {
		t.Errorf("repeat Append added %d messages, want 0", added)
	}

	if diff := cmp.Diff(ids(once), ids(twice)); diff != "" {
		t.Errorf("message order differs after repeat (-once +twice):\n%s", diff)
	}
	if once.UnreadCount() != twice.UnreadCount() {
		t.Errorf("UnreadCount() = %d after repeat, want %d", twice.UnreadCount(), once.UnreadCount())
	}
}

func TestAppendDropsDuplicatesWithinBatch(t *testing.T) {
	collection := NewMessageCollection()
	collection.Append([]*Message{confirmed("m1", "g1"), confirmed("m1", "g1")})
	if collection.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", collection.Len())
	}
}

func TestTentativeReplacedByConfirmed(t *testing.T) {
	self := Person{ID: "me", Name: "Me"}
	collection := NewMessageCollection()
	collection.Append([]*Message{confirmed("m1", "g1")})

	tentative := NewTentativeMessage("A", self, "hello", nil, time.Unix(100, 0))
	collection.AppendTentative(tentative)
	if !tentative.IsTentative() || tentative.ID != "" {
		t.Fatalf("tentative message has ID %q, tentative=%v", tentative.ID, tentative.IsTentative())
	}
	if got := len(collection.Tentative()); got != 1 {
		t.Fatalf("Tentative() has %d messages, want 1", got)
	}
	if newest, _ := collection.NewestMessageID(); newest != "m1" {
		t.Errorf("NewestMessageID() = %q while tentative is held, want m1", newest)
	}

	collection.Append([]*Message{confirmed("m2", tentative.SourceGUID)})

	if diff := cmp.Diff([]string{"m1", "m2"}, ids(collection)); diff != "" {
		t.Fatalf("collection after confirmation (-want +got):\n%s", diff)
	}
	matching := 0
	for _, message := range collection.Messages() {
		if message.SourceGUID == tentative.SourceGUID {
			matching++
			if message.IsTentative() {
				t.Error("the surviving copy is still tentative")
			}
		}
	}
	if matching != 1 {
		t.Errorf("%d messages share the source GUID, want 1", matching)
	}
}

func TestUnrelatedTentativesSurvive(t *testing.T) {
	collection := NewMessageCollection()
	pending := NewTentativeMessage("A", Person{ID: "me"}, "still sending", nil, time.Unix(0, 0))
	collection.AppendTentative(pending)
	collection.Append([]*Message{confirmed("m1", "other")})

	if diff := cmp.Diff([]string{"~" + pending.SourceGUID, "m1"}, ids(collection)); diff != "" {
		t.Fatalf("collection (-want +got):\n%s", diff)
	}
}

func TestUnreadCount(t *testing.T) {
	collection := NewMessageCollection()
	collection.Append([]*Message{confirmed("m2", "g2"), confirmed("m1", "g1")})
	// The first batch into an empty collection does not move the
	// cursor.
	if got := collection.UnreadCount(); got != 2 {
		t.Fatalf("UnreadCount() after first batch = %d, want 2", got)
	}

	collection.MarkSeen()
	if got := collection.UnreadCount(); got != 0 {
		t.Fatalf("UnreadCount() after MarkSeen = %d, want 0", got)
	}

	collection.Append([]*Message{confirmed("m5", "g5"), confirmed("m4", "g4"), confirmed("m3", "g3")})
	if got := collection.UnreadCount(); got != 3 {
		t.Fatalf("UnreadCount() after three new messages = %d, want 3", got)
	}
}

func TestApplyHearts(t *testing.T) {
	collection := NewMessageCollection()
	collection.Append([]*Message{confirmed("m2", "g2"), confirmed("m1", "g1")})

	hearted := confirmed("m1", "g1")
	hearted.SetFavoritedBy([]string{"u1", "u2"})
	if matched := collection.ApplyHearts([]*Message{hearted, confirmed("missing", "gx")}); matched != 1 {
		t.Fatalf("ApplyHearts matched %d, want 1", matched)
	}
	if diff := cmp.Diff([]string{"u1", "u2"}, collection.At(0).FavoritedBy()); diff != "" {
		t.Errorf("favourites (-want +got):\n%s", diff)
	}
	if got := collection.At(1).FavoritedBy(); len(got) != 0 {
		t.Errorf("untouched message has favourites %v", got)
	}
}

func TestNewestMessageIDEmpty(t *testing.T) {
	collection := NewMessageCollection()
	if id, ok := collection.NewestMessageID(); ok {
		t.Fatalf("NewestMessageID() on empty collection = %q, true", id)
	}
	collection.AppendTentative(NewTentativeMessage("A", Person{}, "x", nil, time.Unix(0, 0)))
	if id, ok := collection.NewestMessageID(); ok {
		t.Fatalf("NewestMessageID() with only a tentative = %q, true", id)
	}
}
