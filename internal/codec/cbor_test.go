package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	Method string `cbor:"method"`
	Seq    uint64 `cbor:"seq"`
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(v); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDeterministicEncoding(t *testing.T) {
	a := encode(t, map[string]int{"b": 2, "a": 1})
	b := encode(t, map[string]int{"a": 1, "b": 2})
	if !bytes.Equal(a, b) {
		t.Errorf("map encoding depends on insertion order: %x vs %x", a, b)
	}
}

func TestStreamOfValues(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for i, m := range []string{"load_daemon", "is_daemon_loaded"} {
		if err := enc.Encode(sample{Method: m, Seq: uint64(i + 1)}); err != nil {
			t.Fatal(err)
		}
	}

	dec := NewDecoder(&buf)
	var first, second sample
	if err := dec.Decode(&first); err != nil {
		t.Fatal(err)
	}
	if err := dec.Decode(&second); err != nil {
		t.Fatal(err)
	}
	if first.Method != "load_daemon" || second.Method != "is_daemon_loaded" || second.Seq != 2 {
		t.Errorf("decoded %+v, %+v", first, second)
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	data := encode(t, map[string]any{"method": "x", "seq": 7, "extra": true})
	var got sample
	if err := NewDecoder(bytes.NewReader(data)).Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Method != "x" || got.Seq != 7 {
		t.Errorf("got %+v", got)
	}
}
