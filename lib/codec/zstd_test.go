// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCompressedRoundTrip(t *testing.T) {
	original := record{Sequence: 9, Kind: "new_messages", Body: bytes.Repeat([]byte("hello "), 500)}
	data, err := MarshalCompressed(original)
	if err != nil {
		t.Fatalf("MarshalCompressed: %v", err)
	}
	plain, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(data) >= len(plain) {
		t.Errorf("compressed %d bytes, plain %d: repetitive body should shrink", len(data), len(plain))
	}

	var decoded record
	if err := UnmarshalCompressed(data, &decoded); err != nil {
		t.Fatalf("UnmarshalCompressed: %v", err)
	}
	if diff := cmp.Diff(original, decoded); diff != "" {
		t.Errorf("decoded (-want +got):\n%s", diff)
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	if _, err := Decompress([]byte("not a zstd frame")); err == nil {
		t.Fatal("Decompress accepted garbage")
	}
	var decoded record
	if err := UnmarshalCompressed([]byte{0x01, 0x02}, &decoded); err == nil {
		t.Fatal("UnmarshalCompressed accepted garbage")
	}
}
