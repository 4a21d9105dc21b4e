package store

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/quarrylabs/quarry/internal/core"
)

// DefaultPageSize is used by list endpoints when no limit is supplied.
const DefaultPageSize = 50

// Cursor is an opaque keyset position for paginated listings. The encoded
// form carries the last item's sort key and identifier; an empty string means
// no further pages.
type Cursor struct {
	LastID  string
	SortKey time.Time
}

// Encode serializes the cursor for transport.
func (c Cursor) Encode() string {
	if c.LastID == "" {
		return ""
	}
	raw := c.SortKey.UTC().Format(time.RFC3339Nano) + "|" + c.LastID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses an encoded cursor. An empty string decodes to the zero
// cursor (first page).
func DecodeCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, core.Validationf("malformed cursor")
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Cursor{}, core.Validationf("malformed cursor")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return Cursor{}, core.Validationf("malformed cursor sort key")
	}
	return Cursor{LastID: parts[1], SortKey: ts}, nil
}

func (c Cursor) String() string {
	if c.LastID == "" {
		return "<first page>"
	}
	return fmt.Sprintf("%s@%s", c.LastID, c.SortKey.Format(time.RFC3339Nano))
}
