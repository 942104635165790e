// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gmtsync/gmtsync/lib/chat"
	"github.com/gmtsync/gmtsync/lib/update"
)

func TestDiffNameChange(t *testing.T) {
	cached := &chat.Person{ID: "u1", Name: "Alice"}

	updates := Diff(cached, chat.Person{ID: "u1", Name: "Alicia"})
	want := []update.Update{update.NameChanged{PersonID: "u1", Name: "Alicia"}}
	if diff := cmp.Diff(want, updates); diff != "" {
		t.Fatalf("updates (-want +got):\n%s", diff)
	}
	if cached.Name != "Alicia" {
		t.Fatalf("cached name = %q, want Alicia", cached.Name)
	}

	if again := Diff(cached, chat.Person{ID: "u1", Name: "Alicia"}); len(again) != 0 {
		t.Fatalf("re-running with identical values produced %v", again)
	}
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name       string
		cached     chat.Person
		fresh      chat.Person
		want       []update.Update
		wantCached chat.Person
	}{
		{
			name:       "avatar change",
			cached:     chat.Person{ID: "u", Name: "A", AvatarURL: "old.png"},
			fresh:      chat.Person{ID: "u", Name: "A", AvatarURL: "new.png"},
			want:       []update.Update{update.AvatarChanged{PersonID: "u", AvatarURL: "new.png"}},
			wantCached: chat.Person{ID: "u", Name: "A", AvatarURL: "new.png"},
		},
		{
			name:   "both change in name then avatar order",
			cached: chat.Person{ID: "u", Name: "A", AvatarURL: "a.png"},
			fresh:  chat.Person{ID: "u", Name: "B", AvatarURL: "b.png"},
			want: []update.Update{
				update.NameChanged{PersonID: "u", Name: "B"},
				update.AvatarChanged{PersonID: "u", AvatarURL: "b.png"},
			},
			wantCached: chat.Person{ID: "u", Name: "B", AvatarURL: "b.png"},
		},
		{
			name:       "empty cache adopts silently",
			cached:     chat.Person{ID: "u"},
			fresh:      chat.Person{ID: "u", Name: "A", AvatarURL: "a.png"},
			wantCached: chat.Person{ID: "u", Name: "A", AvatarURL: "a.png"},
		},
		{
			name:       "empty fresh keeps cache",
			cached:     chat.Person{ID: "u", Name: "A", AvatarURL: "a.png"},
			fresh:      chat.Person{ID: "u"},
			wantCached: chat.Person{ID: "u", Name: "A", AvatarURL: "a.png"},
		},
		{
			name:       "other attributes ignored",
			cached:     chat.Person{ID: "u", Name: "A", Email: "a@example.com"},
			fresh:      chat.Person{ID: "u", Name: "A", Email: "b@example.com"},
			wantCached: chat.Person{ID: "u", Name: "A", Email: "a@example.com"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cached := test.cached
			got := Diff(&cached, test.fresh)
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("updates (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(test.wantCached, cached); diff != "" {
				t.Errorf("cached (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReconcilerAdoptsFirstProfile(t *testing.T) {
	reconciler := NewReconciler()
	if _, ok := reconciler.Self(); ok {
		t.Fatal("new reconciler already has a profile")
	}
	if updates := reconciler.Reconcile(chat.Person{ID: "me", Name: "Alice"}); len(updates) != 0 {
		t.Fatalf("first profile produced %v", updates)
	}
	updates := reconciler.Reconcile(chat.Person{ID: "me", Name: "Alicia"})
	if len(updates) != 1 {
		t.Fatalf("rename produced %d updates, want 1", len(updates))
	}
	self, _ := reconciler.Self()
	if self.Name != "Alicia" {
		t.Errorf("Self().Name = %q", self.Name)
	}

	// Self returns a copy.
	self.Name = "mutated"
	if again, _ := reconciler.Self(); again.Name != "Alicia" {
		t.Errorf("mutating the copy changed the cache to %q", again.Name)
	}
}
