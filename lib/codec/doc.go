// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the binary encodings used for data gmtsync
// keeps for itself, such as journal records.
//
// The service API and the push channel speak JSON; nothing in this
// package is ever sent to the service. Records are CBOR with Core
// Deterministic Encoding, optionally wrapped in a zstd frame:
//
//	data, err := codec.Marshal(record)
//	data, err := codec.MarshalCompressed(record)
//
// Types with only `json` tags encode through the same field names,
// since fxamacker/cbor falls back to `json` tags when `cbor` tags are
// absent. The chat payload types rely on this.
package codec
