// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is the REST client for the chat service.
//
// Every call is authenticated by the access token, passed as the
// "token" query parameter (and as the X-Access-Token header for image
// uploads). Responses arrive in an envelope:
//
//	{"response": ..., "meta": {"code": 200, "errors": []}}
//
// Non-2xx replies become *APIError values carrying the HTTP status and
// whatever the envelope's meta block said. Requests are rate-limited
// client-side with golang.org/x/time/rate so that the fast polling
// cycle cannot exceed the service's limits as conversations accumulate.
//
// Direct conversations are folded into the group model: they are listed
// alongside groups as GroupPayloads with Type "direct", and their IDs
// ("<userA>+<userB>") route message fetches and sends to the direct
// message endpoints. *Client implements poll.REST and outbox.REST.
package messaging
