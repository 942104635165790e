// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// gmtsync keeps a live local model of a user's conversations in sync
// with the chat service.
//
// "gmtsync run" signs in with an access token, polls memberships and
// messages, holds the push socket open, and serves a small local HTTP
// surface: Prometheus metrics at /metrics, JSON digests of the
// conversation model under /debug/conversations, and message sending
// under /conversations/{id}. With a journal path configured every
// update the engine applies is recorded to SQLite.
//
// "gmtsync replay" prints a journal written by an earlier run.
package main
