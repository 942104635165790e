// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"errors"
	"fmt"
)

// ErrProtocolViolation is matched by every *ProtocolError.
var ErrProtocolViolation = errors.New("push: protocol violation")

// ProtocolError is a frame the state machine cannot accept in its
// current state. The frame is logged and ignored.
type ProtocolError struct {
	State  State
	Kind   FrameKind
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("push: %s in state %s: %s", e.Kind, e.State, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocolViolation }
