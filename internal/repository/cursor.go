package repository

import "time"

// Cursor is a keyset pagination position: the (created_at, id) pair of the
// oldest message the client already has. Paging compares against the pair,
// not created_at alone, so messages sharing a timestamp are never skipped
// or duplicated.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}
