package postgres

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rezkam/taskstream/internal/domain"
)

// Page cursors are opaque to clients: a base64 wrapper around the keyset of
// the last row served. Continuation resumes strictly after that row, so rows
// inserted or deleted between page fetches never duplicate or skip results
// the way an offset would.
type pageCursor struct {
	SortBy    string     `json:"s"`
	CreatedAt time.Time  `json:"c"`
	DueAt     *time.Time `json:"d,omitempty"`
	Rank      *int       `json:"r,omitempty"`
	ID        string     `json:"i"`
}

func encodeCursor(c pageCursor) string {
	raw, _ := json.Marshal(c) // plain scalar fields, cannot fail
	return base64.URLEncoding.EncodeToString(raw)
}

// decodeCursor parses a cursor and checks it belongs to the requested sort
// order. A cursor minted under one ordering is meaningless under another.
func decodeCursor(raw, sortBy string) (*pageCursor, error) {
	if raw == "" {
		return nil, nil
	}
	data, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCursor, err)
	}
	var c pageCursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCursor, err)
	}
	if c.ID == "" || c.SortBy != sortBy {
		return nil, domain.ErrInvalidCursor
	}
	if sortBy == "priority" && c.Rank == nil {
		return nil, domain.ErrInvalidCursor
	}
	return &c, nil
}
