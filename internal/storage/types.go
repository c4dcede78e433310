package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage. An empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one operator action. Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time `json:"at"`
	ID      string    `json:"id"`
	Source  string    `json:"source"`
	Actor   string    `json:"actor,omitempty"`
	Action  string    `json:"action"`
	Target  string    `json:"target,omitempty"`
	Seconds int       `json:"seconds,omitempty"`
	Outcome string    `json:"outcome,omitempty"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
}
