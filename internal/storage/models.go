package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Analysis is one recorded classification outcome. It is the durable
// history row behind the in-memory result cache: the cache answers repeat
// requests, the history answers "what did we decide about this file".
type Analysis struct {
	ID         string
	Path       string
	FileName   string
	Category   string
	Confidence int
	Method     string
	Keywords   string // JSON array stored as text
	ResultJSON string // full result snapshot stored as text
	Error      string
	CreatedAt  time.Time
}

// CategoryCount is one row of the per-category aggregate.
type CategoryCount struct {
	Category string
	Count    int
}
