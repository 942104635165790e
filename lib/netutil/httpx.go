// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil bounds HTTP response reads and classifies socket
// teardown errors for the REST client and the push transport.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// MaxResponseSize caps a JSON API response body at 16 MB. A page of
// group listings with message previews is a few hundred kilobytes.
const MaxResponseSize int64 = 16 << 20

// maxErrorSnippet caps how much of an error body lands in an error
// message.
const maxErrorSnippet = 512

// ReadResponse reads at most MaxResponseSize bytes of body.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads body under the size cap and decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// ErrorSnippet renders a response body for an error message, trimmed
// and truncated. Read failures yield whatever was read.
func ErrorSnippet(data []byte) string {
	text := strings.TrimSpace(string(data))
	if len(text) > maxErrorSnippet {
		return text[:maxErrorSnippet] + "..."
	}
	return text
}
