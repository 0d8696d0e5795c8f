package cache

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecodeEntryReadsTTLByName(t *testing.T) {
	// expired 字段不在末尾，仍需按名称找到。
	data := []byte(`{"expired":3600,"zeta":{"full":1},"alpha":"x"}`)
	payload, ttl, err := decodeEntry("/tmp/USD.json", data)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if ttl != time.Hour {
		t.Fatalf("unexpected ttl %s", ttl)
	}
	if _, exists := payload["expired"]; exists {
		t.Fatalf("ttl field should be removed from payload")
	}
	if payload["alpha"] != "x" {
		t.Fatalf("unexpected payload %#v", payload)
	}
}

func TestDecodeEntryKeepsNumbersExact(t *testing.T) {
	data := []byte(`{"big":9007199254740993,"price":39.99,"expired":60}`)
	payload, _, err := decodeEntry("/tmp/USD.json", data)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if payload["big"] != json.Number("9007199254740993") {
		t.Fatalf("large integer lost precision: %#v", payload["big"])
	}
	if payload["price"] != json.Number("39.99") {
		t.Fatalf("price changed: %#v", payload["price"])
	}
}

func TestDecodeEntryRejectsMalformedContent(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"invalid json", `{"expired":`},
		{"not an object", `[1,2,3]`},
		{"null", `null`},
		{"missing ttl", `{"full":1}`},
		{"string ttl", `{"expired":"60"}`},
		{"fractional ttl", `{"expired":1.5}`},
		{"trailing data", `{"expired":60}{}`},
		{"ttl overflows duration", `{"v":1,"expired":10000000000}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := decodeEntry("/tmp/bad.json", []byte(tc.data))
			if !errors.Is(err, ErrCorruptEntry) {
				t.Fatalf("expected ErrCorruptEntry, got %v", err)
			}
			var cacheErr *Error
			if !errors.As(err, &cacheErr) || cacheErr.Path != "/tmp/bad.json" {
				t.Fatalf("expected path-annotated error, got %v", err)
			}
		})
	}
}

func TestEncodeEntryTruncatesTTL(t *testing.T) {
	data, err := encodeEntry(Payload{"v": 1}, 90*time.Second+500*time.Millisecond)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if string(data) != `{"expired":90,"v":1}` {
		t.Fatalf("unexpected encoding %s", data)
	}

	data, err = encodeEntry(nil, -time.Minute)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if string(data) != `{"expired":0}` {
		t.Fatalf("negative ttl should encode as 0, got %s", data)
	}
}

func TestPayloadLookupAndClone(t *testing.T) {
	payload := Payload{
		"boost-speed": map[string]any{"full": json.Number("49.99")},
		"list":        []any{map[string]any{"a": 1}},
	}
	if v, ok := payload.Float("boost-speed", "full"); !ok || v != 49.99 {
		t.Fatalf("float lookup failed: %v %v", v, ok)
	}
	if _, ok := payload.Float("boost-speed", "missing"); ok {
		t.Fatalf("missing field should not resolve")
	}
	if _, ok := payload.Lookup("list", "a"); ok {
		t.Fatalf("lookup should not descend into slices")
	}

	clone := payload.Clone()
	clone["boost-speed"].(map[string]any)["full"] = json.Number("1")
	if payload["boost-speed"].(map[string]any)["full"] != json.Number("49.99") {
		t.Fatalf("clone should not share nested maps")
	}
}
