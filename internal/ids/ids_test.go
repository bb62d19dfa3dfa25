package ids

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestNewIsSortableAndValid(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := NewAt(base)
	second := NewAt(base.Add(time.Millisecond))
	if !(first < second) {
		t.Fatalf("expected %s < %s", first, second)
	}
	if !Valid(first) || !Valid(New()) {
		t.Fatalf("expected generated ids to be valid")
	}
	if Valid("not-an-id") {
		t.Fatalf("expected garbage to be rejected")
	}
}

func TestOpaqueLengthAndErrors(t *testing.T) {
	tok, err := opaqueFrom(bytes.NewReader(make([]byte, 32)), 32)
	if err != nil {
		t.Fatalf("opaque: %v", err)
	}
	// 32 bytes -> 43 chars of unpadded base64.
	if len(tok) != 43 {
		t.Fatalf("unexpected token length %d", len(tok))
	}
	if _, err := opaqueFrom(bytes.NewReader(nil), 8); err == nil {
		t.Fatalf("expected short read to fail")
	}
	if _, err := Opaque(0); err == nil {
		t.Fatalf("expected zero length to fail")
	}

	a, _ := Opaque(32)
	b, _ := Opaque(32)
	if a == b {
		t.Fatalf("expected distinct opaque tokens")
	}
}

func TestOpaqueWrapsReaderError(t *testing.T) {
	_, err := opaqueFrom(failingReader{}, 4)
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected wrapped reader error, got %v", err)
	}
}

var errBoom = errors.New("boom")

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errBoom }
