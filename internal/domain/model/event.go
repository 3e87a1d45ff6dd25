package model

import (
	"encoding/json"
	"time"
)

// RepoEvent is a single entry of a repository's activity feed. IDs increase
// monotonically, which is what makes them usable as a checkpoint.
type RepoEvent struct {
	ID        int64
	Type      string
	Actor     string
	Repo      string
	CreatedAt time.Time
	Payload   json.RawMessage
}
