// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chat is the local model of a user's conversations: people,
// conversations, messages with their attachments, and the ordered
// MessageCollection that reconciles tentative sends with confirmed
// server messages.
//
// Wire shapes live in the *Payload types and are converted into model
// objects by the *FromPayload functions, which validate required
// fields and report failures as *PayloadError. Model objects are
// mutated only on the sync event loop; Message guards its attachment
// slots and favourite set with its own lock because upload completions
// and readers may touch them from other goroutines.
package chat
