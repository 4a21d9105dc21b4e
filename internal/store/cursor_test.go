package store

import (
	"errors"
	"testing"
	"time"

	"github.com/quarrylabs/quarry/internal/core"
)

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	cur := Cursor{LastID: "0e3b5c7a-1111-2222-3333-444455556666", SortKey: ts}

	encoded := cur.Encode()
	if encoded == "" {
		t.Fatalf("expected non-empty cursor")
	}
	decoded, err := DecodeCursor(encoded)
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if decoded.LastID != cur.LastID {
		t.Fatalf("last id mismatch: %s", decoded.LastID)
	}
	if !decoded.SortKey.Equal(ts) {
		t.Fatalf("sort key mismatch: %s", decoded.SortKey)
	}
}

func TestDecodeCursorEmptyIsFirstPage(t *testing.T) {
	cur, err := DecodeCursor("")
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if cur.LastID != "" {
		t.Fatalf("expected zero cursor")
	}
}

func TestDecodeCursorMalformedIsValidationError(t *testing.T) {
	for _, in := range []string{"not-base64!!", "aGVsbG8", "fDEyMzQ"} {
		if _, err := DecodeCursor(in); !errors.Is(err, core.ErrValidation) {
			t.Fatalf("input %q: expected validation error, got %v", in, err)
		}
	}
}
