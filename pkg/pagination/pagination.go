// Package pagination implements cursor-based pagination for time-ordered
// feeds. The cursor is composite: (started_at, id) identifies an exact
// position in the descending stream, so pages never skip or duplicate
// entries even when many records share a timestamp or when new records
// arrive between page fetches.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"peercall-backend/pkg/constants"
)

// Cursor is an exclusive position in a (started_at DESC, id DESC) stream.
// The next page starts strictly after this position.
type Cursor struct {
	StartedAt time.Time `json:"started_at"`
	ID        uuid.UUID `json:"id"`
}

// Page is a single page of results plus the token for the next one.
// An empty NextPageToken means the stream is exhausted.
type Page struct {
	Data          interface{} `json:"data"`
	NextPageToken string      `json:"next_page_token,omitempty"`
}

// Encode serializes a cursor into an opaque URL-safe page token
func Encode(c *Cursor) string {
	if c == nil {
		return ""
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses a page token produced by Encode.
// An empty token decodes to nil (start of stream).
func Decode(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid page token: %w", err)
	}
	cursor := &Cursor{}
	if err := json.Unmarshal(raw, cursor); err != nil {
		return nil, fmt.Errorf("invalid page token: %w", err)
	}
	if cursor.StartedAt.IsZero() {
		return nil, fmt.Errorf("invalid page token: missing position")
	}
	return cursor, nil
}

// ClampLimit normalizes a requested page size into the allowed range
func ClampLimit(limit int) int {
	if limit <= 0 {
		return constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize {
		return constants.MaxPageSize
	}
	return limit
}
