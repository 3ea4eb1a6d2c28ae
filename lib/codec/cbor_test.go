// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"io"
	"slices"
	"testing"
)

type exchange struct {
	Session uint32   `cbor:"session"`
	Command uint32   `cbor:"command"`
	Raw     []uint32 `cbor:"raw,omitempty"`
	Result  uint32   `cbor:"result"`
}

func TestMarshalUnmarshal(t *testing.T) {
	original := exchange{Session: 0x102, Command: 1, Raw: []uint32{3, 0xC0080101, 0, 0}}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded exchange
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Session != original.Session || decoded.Command != original.Command ||
		!slices.Equal(decoded.Raw, original.Raw) || decoded.Result != original.Result {
		t.Errorf("decoded %+v, want %+v", decoded, original)
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	record := map[string]any{"session": 1, "command": 2, "result": 0, "raw": []uint32{7}}
	first, err := Marshal(record)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 20 {
		again, err := Marshal(record)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("encodings of the same map differ")
		}
	}
}

func TestDecodeIntoAnyUsesStringKeys(t *testing.T) {
	data, err := Marshal(exchange{Session: 5, Command: 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	fields, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded %T, want map[string]any", decoded)
	}
	if _, ok := fields["raw"]; ok {
		t.Error("omitempty field was encoded")
	}
	if fields["command"] != uint64(3) {
		t.Errorf("command = %#v", fields["command"])
	}
}

func TestStream(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for index := range 3 {
		if err := encoder.Encode(exchange{Command: uint32(index)}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for index := range 3 {
		var record exchange
		if err := decoder.Decode(&record); err != nil {
			t.Fatalf("Decode %d: %v", index, err)
		}
		if record.Command != uint32(index) {
			t.Errorf("record %d has command %d", index, record.Command)
		}
	}
	var extra exchange
	if err := decoder.Decode(&extra); err != io.EOF {
		t.Errorf("Decode past end = %v, want io.EOF", err)
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(exchange{Command: 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	text, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !bytes.Contains([]byte(text), []byte(`"command": 1`)) {
		t.Errorf("Diagnose = %s", text)
	}
}
