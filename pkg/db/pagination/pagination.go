// Package pagination implements keyset paging over (created_at, id) ordered
// tables. Tokens are opaque to callers.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

var ErrInvalidCursor = errors.New("invalid_cursor")

type Pagination struct {
	PageToken string
	PageSize  int
}

// Cursor is the last row of the previous page.
type Cursor struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

// NewCursor builds a cursor for the row identified by id and createdAt.
func NewCursor(id snowflake.ID, createdAt time.Time) Cursor {
	return Cursor{ID: id.String(), CreatedAt: createdAt.UTC().Format(time.RFC3339Nano)}
}

// Keys parses the cursor back into its ordering keys.
func (c Cursor) Keys() (snowflake.ID, time.Time, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, c.CreatedAt)
	if err != nil {
		return 0, time.Time{}, ErrInvalidCursor
	}
	id, err := snowflake.ParseString(strings.TrimSpace(c.ID))
	if err != nil || id == 0 {
		return 0, time.Time{}, ErrInvalidCursor
	}
	return id, createdAt, nil
}

func EncodeCursor(c Cursor) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func DecodeCursor(token string) (*Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return nil, ErrInvalidCursor
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, ErrInvalidCursor
	}
	return &c, nil
}

// ClampSize applies def to non-positive sizes and caps the rest at max.
func ClampSize(size, def, max int) int {
	switch {
	case size <= 0:
		return def
	case size > max:
		return max
	default:
		return size
	}
}

// BuildCursorPageInfo expects rows fetched with limit+1; the extra row only
// signals that another page exists.
func BuildCursorPageInfo[T any](rows []*T, limit int, cursorOf func(*T) string) PageInfo {
	if limit <= 0 || len(rows) <= limit {
		return PageInfo{}
	}
	return PageInfo{HasMore: true, NextPageToken: cursorOf(rows[limit-1])}
}
