// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type record struct {
	Sequence int64  `cbor:"seq"`
	Kind     string `cbor:"kind"`
	Body     []byte `cbor:"body,omitempty"`
}

// jsonTagged stands in for the chat payload types, which carry only
// json tags.
type jsonTagged struct {
	ID      string   `json:"id"`
	Text    string   `json:"text,omitempty"`
	Members []string `json:"members,omitempty"`
}

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]any{"zeta": 1, "alpha": "x", "mid": []any{1, 2}}
	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 10 {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding differs between calls: %x vs %x", first, again)
		}
	}
}

func TestJSONTagFallback(t *testing.T) {
	original := jsonTagged{ID: "G1", Members: []string{"7", "8"}}
	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	diagnostic, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(diagnostic, `"id"`) || strings.Contains(diagnostic, `"text"`) {
		t.Errorf("diagnostic %s: want json field names with omitempty honoured", diagnostic)
	}

	var decoded jsonTagged
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(original, decoded); diff != "" {
		t.Errorf("decoded (-want +got):\n%s", diff)
	}
}

func TestUntypedMapsDecodeWithStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"outer": map[string]any{"inner": "v"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded %T, want map[string]any", decoded)
	}
	if _, ok := outer["outer"].(map[string]any); !ok {
		t.Fatalf("nested map decoded as %T", outer["outer"])
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	data, err := Marshal(map[string]any{"seq": 4, "kind": "joined", "added_later": true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded record
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Sequence != 4 || decoded.Kind != "joined" {
		t.Errorf("decoded %+v", decoded)
	}
}
