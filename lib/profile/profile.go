// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package profile keeps the signed-in user's cached Person in step
// with the profile the service reports.
package profile

import (
	"github.com/gmtsync/gmtsync/lib/chat"
	"github.com/gmtsync/gmtsync/lib/update"
)

// Diff compares the reconciled attributes of cached and fresh (display
// name and avatar URL) and returns one participant update per change,
// rewriting cached in place as it goes.
//
// A cached attribute that is empty adopts the fresh value without an
// update, since there is nothing to reconcile against. An empty fresh
// value never clears a cached one: the service omits attributes it did
// not send, and an omitted field decodes to "", so empty means "not
// reported" rather than "removed". Other attributes are not compared.
func Diff(cached *chat.Person, fresh chat.Person) []update.Update {
	var updates []update.Update
	if changed := reconcile(&cached.Name, fresh.Name); changed {
		updates = append(updates, update.NameChanged{PersonID: cached.ID, Name: cached.Name})
	}
	if changed := reconcile(&cached.AvatarURL, fresh.AvatarURL); changed {
		updates = append(updates, update.AvatarChanged{PersonID: cached.ID, AvatarURL: cached.AvatarURL})
	}
	return updates
}

// reconcile folds fresh into *cached and reports whether the change is
// one to announce.
func reconcile(cached *string, fresh string) bool {
	switch {
	case fresh == "" || fresh == *cached:
		return false
	case *cached == "":
		*cached = fresh
		return false
	}
	*cached = fresh
	return true
}

// Reconciler owns the cached self profile. The first profile it sees
// is adopted wholesale; later ones are diffed against it.
//
// A Reconciler is used only on the sync event loop.
type Reconciler struct {
	self  chat.Person
	known bool
}

// NewReconciler returns a Reconciler with no cached profile.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Reconcile folds a freshly fetched profile into the cache and returns
// the updates to post. A profile for a different person than the
// cached one replaces the cache without updates.
func (r *Reconciler) Reconcile(fresh chat.Person) []update.Update {
	if !r.known || r.self.ID != fresh.ID {
		r.self = fresh
		r.known = true
		return nil
	}
	return Diff(&r.self, fresh)
}

// Self returns a copy of the cached profile and whether one exists.
func (r *Reconciler) Self() (chat.Person, bool) {
	return r.self, r.known
}
