package storage

import (
	"context"
	"errors"
	"time"

	"famcomp/internal/chore"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file" (default): JSON document at Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// State is everything the app persists between restarts.
type State struct {
	Tasks   []chore.Task   `json:"tasks"`
	Persons []chore.Person `json:"persons"`
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Action string    `json:"action"` // trigger|complete|cancel|participate|upsert|delete|upload
	Source string    `json:"source"` // http|homeassistant|telegram|scheduler
	TaskID string    `json:"taskId,omitempty"`
	JobID  string    `json:"jobId,omitempty"`
	Person string    `json:"person,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Store is the persistence API used by the state persister and the API layer.
type Store interface {
	// LoadState returns an empty State when nothing was saved yet.
	LoadState(ctx context.Context) (State, error)
	SaveState(ctx context.Context, st State) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to limit entries, newest first.
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	Close() error
}
