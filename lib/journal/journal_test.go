// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"

	"github.com/gmtsync/gmtsync/lib/chat"
	"github.com/gmtsync/gmtsync/lib/clock"
	"github.com/gmtsync/gmtsync/lib/codec"
	"github.com/gmtsync/gmtsync/lib/testutil"
	"github.com/gmtsync/gmtsync/lib/update"
)

type countingObserver struct {
	mu       sync.Mutex
	recorded map[string]int
	dropped  map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{recorded: map[string]int{}, dropped: map[string]int{}}
}

func (o *countingObserver) JournalRecorded(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recorded[kind]++
}

func (o *countingObserver) JournalDropped(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped[kind]++
}

var epoch = time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)

func openJournal(t *testing.T, compress bool, capacity int, observer Observer) *Journal {
	t.Helper()
	journal, err := Open(context.Background(), Config{
		Path:     filepath.Join(t.TempDir(), "journal.db"),
		Compress: compress,
		Capacity: capacity,
		Clock:    clock.Fake(epoch),
		Logger:   slogt.New(t),
		Observer: observer,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { journal.Close() })
	return journal
}

// drain runs the writer until everything queued so far is stored.
func drain(t *testing.T, journal *Journal) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := journal.Run(ctx); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	cancel()
	testutil.RequireClosed(t, done, testutil.DefaultTimeout, "Run exit")
}

func replayAll(t *testing.T, journal *Journal) []Entry {
	t.Helper()
	var entries []Entry
	err := journal.Replay(context.Background(), 0, func(entry Entry) error {
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	return entries
}

func sampleUpdates() []update.Update {
	group := chat.NewConversation("G", chat.KindGroup)
	group.Name = "Climbing"
	group.Members = []chat.Member{{UserID: "7", Nickname: "Ann"}}
	message, _ := chat.MessageFromPayload(chat.MessagePayload{
		ID: "m1", SourceGUID: "g1", GroupID: "G", UserID: "7", Text: "on belay",
		FavoritedBy: []string{"8"},
		Attachments: []chat.AttachmentPayload{{Type: "image", URL: "https://i.example/1"}},
	})
	return []update.Update{
		update.Joined{Conversations: []*chat.Conversation{group}},
		update.NewMessages{ConversationID: "G", Messages: []*chat.Message{message}},
		update.Typers{ConversationID: "G", People: []chat.Person{{ID: "7", Name: "Ann"}}},
		update.NameChanged{PersonID: "me", Name: "New Name"},
		update.Left{ConversationIDs: []string{"G"}},
	}
}

func TestRecordAndReplay(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "zstd"}[compress], func(t *testing.T) {
			observer := newCountingObserver()
			journal := openJournal(t, compress, 0, observer)
			for _, u := range sampleUpdates() {
				journal.Record(u)
			}
			drain(t, journal)

			entries := replayAll(t, journal)
			var kinds []string
			for index, entry := range entries {
				if entry.Err != nil {
					t.Errorf("entry %d: %v", index, entry.Err)
				}
				if entry.Sequence != int64(index+1) || !entry.RecordedAt.Equal(epoch) {
					t.Errorf("entry %d: sequence %d recorded %v", index, entry.Sequence, entry.RecordedAt)
				}
				kinds = append(kinds, entry.Kind)
			}
			want := []string{"joined", "new_messages", "typers", "name_changed", "left"}
			if diff := cmp.Diff(want, kinds); diff != "" {
				t.Fatalf("kinds (-want +got):\n%s", diff)
			}

			joined := entries[0].Update.(update.Joined)
			if conversation := joined.Conversations[0]; conversation.ID != "G" || conversation.Name != "Climbing" || len(conversation.Members) != 1 {
				t.Errorf("joined conversation = %s %q %d members", conversation.ID, conversation.Name, len(conversation.Members))
			}
			posted := entries[1].Update.(update.NewMessages)
			message := posted.Messages[0]
			if message.ID != "m1" || message.Text != "on belay" || len(message.Attachments()) != 1 {
				t.Errorf("replayed message = %s %q with %d attachments", message.ID, message.Text, len(message.Attachments()))
			}
			if diff := cmp.Diff([]string{"8"}, message.FavoritedBy()); diff != "" {
				t.Errorf("favourites (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(update.NameChanged{PersonID: "me", Name: "New Name"}, entries[3].Update); diff != "" {
				t.Errorf("name change (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(update.Left{ConversationIDs: []string{"G"}}, entries[4].Update); diff != "" {
				t.Errorf("left (-want +got):\n%s", diff)
			}

			diagnostic, err := codec.Diagnose(entries[3].Raw)
			if err != nil || !strings.Contains(diagnostic, `"New Name"`) {
				t.Errorf("Diagnose(raw) = %q, %v", diagnostic, err)
			}
			if observer.recorded["joined"] != 1 || len(observer.dropped) != 0 {
				t.Errorf("observer recorded %v dropped %v", observer.recorded, observer.dropped)
			}
		})
	}
}

func TestReplayAfterSequence(t *testing.T) {
	journal := openJournal(t, false, 0, nil)
	for _, u := range sampleUpdates() {
		journal.Record(u)
	}
	drain(t, journal)

	var sequences []int64
	err := journal.Replay(context.Background(), 3, func(entry Entry) error {
		sequences = append(sequences, entry.Sequence)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if diff := cmp.Diff([]int64{4, 5}, sequences); diff != "" {
		t.Errorf("sequences (-want +got):\n%s", diff)
	}
}

func TestFullInboxDrops(t *testing.T) {
	observer := newCountingObserver()
	journal := openJournal(t, false, 2, observer)
	for range 5 {
		journal.Record(update.Left{ConversationIDs: []string{"G"}})
	}
	if got := observer.dropped["left"]; got != 3 {
		t.Errorf("dropped %d, want 3", got)
	}
	drain(t, journal)
	if got := len(replayAll(t, journal)); got != 2 {
		t.Errorf("stored %d records, want 2", got)
	}
}

func TestBusAttachment(t *testing.T) {
	journal := openJournal(t, true, 0, nil)
	bus := update.NewBus(slogt.New(t), nil)
	journal.Attach(bus)

	bus.Post(update.AvatarChanged{PersonID: "me", AvatarURL: "https://i.example/me"}, update.Left{})
	drain(t, journal)

	entries := replayAll(t, journal)
	if len(entries) != 2 || entries[0].Kind != "avatar_changed" || entries[1].Kind != "left" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestUndecodableRecordStillReplayed(t *testing.T) {
	journal := openJournal(t, false, 0, nil)
	data, err := codec.Marshal(body{ConversationID: "G", Messages: []chat.MessagePayload{{Text: "no identity"}, {ID: "m2", SourceGUID: "g2"}}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	journal.inbox <- pendingRecord{recordedAt: epoch, kind: "new_messages", data: data}
	journal.inbox <- pendingRecord{recordedAt: epoch, kind: "from_the_future", data: data}
	drain(t, journal)

	entries := replayAll(t, journal)
	if len(entries) != 2 {
		t.Fatalf("replayed %d entries, want 2", len(entries))
	}
	partial := entries[0]
	if partial.Err == nil || partial.Update == nil {
		t.Fatalf("partial entry: update %v err %v, want both", partial.Update, partial.Err)
	}
	if messages := partial.Update.(update.NewMessages).Messages; len(messages) != 1 || messages[0].ID != "m2" {
		t.Errorf("partial entry kept %d messages", len(messages))
	}
	if unknown := entries[1]; unknown.Update != nil || unknown.Err == nil {
		t.Errorf("unknown kind: update %v err %v", unknown.Update, unknown.Err)
	}
}
