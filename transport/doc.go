// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the network edges of the sync client.
//
// [WebSocketDialer] implements [push.Dialer] over gorilla/websocket.
// Each dial produces a connection with one read pump and one write
// pump; Send only queues, so the push state machine never blocks on
// the network from the event loop. Socket events reach the
// [push.Handler] exactly once per terminal condition: a clean close
// from the server becomes OnClose, anything else OnError, and a local
// Close reports nothing.
//
// [Listener] serves the process's local HTTP surface (metrics and
// debug endpoints) on a TCP address and shuts down with its context.
package transport
