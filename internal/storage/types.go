package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ScheduledEntry is one durable one-shot timer: a notification waiting for
// its delivery window.
type ScheduledEntry struct {
	ID      string    `json:"id"`
	UserID  string    `json:"user_id"`
	At      time.Time `json:"at"`
	Payload []byte    `json:"payload"`
}
