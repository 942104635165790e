// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
	"strings"
)

// APIError is a non-2xx reply from the service.
//
//	var apiErr *APIError
//	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized { ... }
type APIError struct {
	// StatusCode is the HTTP status of the reply.
	StatusCode int

	// Code is the envelope's meta.code, when the body had one.
	Code int

	// Messages are the envelope's meta.errors, or a snippet of the
	// body when it was not an envelope.
	Messages []string

	// Method and Path identify the request. Path never includes the
	// query string, which carries the token.
	Method string
	Path   string
}

func (e *APIError) Error() string {
	detail := strings.Join(e.Messages, "; ")
	if detail == "" {
		detail = "no detail"
	}
	return fmt.Sprintf("messaging: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, detail)
}

// IsAPIError reports whether err is an *APIError with the given HTTP
// status. Status 0 matches any.
func IsAPIError(err error, status int) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return status == 0 || apiErr.StatusCode == status
}
