// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrMalformedPayload is matched by every *PayloadError.
var ErrMalformedPayload = errors.New("malformed payload")

// PayloadError describes a remote payload that could not become a
// model object. The offending item is dropped; its siblings are not.
type PayloadError struct {
	// Kind names the payload shape: "person", "conversation",
	// "message", or "attachment".
	Kind string

	// Field is the first offending wire field, if known.
	Field string

	Reason string
}

func (e *PayloadError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("chat: malformed %s payload: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("chat: malformed %s payload: %s: %s", e.Kind, e.Field, e.Reason)
}

func (e *PayloadError) Unwrap() error { return ErrMalformedPayload }

// IsPayloadError reports whether err is a *PayloadError of the given
// kind. An empty kind matches any.
func IsPayloadError(err error, kind string) bool {
	var payloadErr *PayloadError
	if !errors.As(err, &payloadErr) {
		return false
	}
	return kind == "" || payloadErr.Kind == kind
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	// Report wire names rather than Go field names.
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// validatePayload runs struct validation and converts the first
// failure into a *PayloadError.
func validatePayload(kind string, payload any) error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}
	var failures validator.ValidationErrors
	if errors.As(err, &failures) && len(failures) > 0 {
		failure := failures[0]
		reason := "failed " + failure.Tag()
		if failure.Param() != "" {
			reason += "=" + failure.Param()
		}
		return &PayloadError{Kind: kind, Field: failure.Field(), Reason: reason}
	}
	return &PayloadError{Kind: kind, Reason: err.Error()}
}
