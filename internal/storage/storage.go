package storage

import (
	"errors"
	"time"

	"alertd/internal/alert"
)

var (
	// ErrClosed is returned when an operation reaches a store that was
	// never opened or has been closed.
	ErrClosed = errors.New("alert store is closed")
	// ErrTokenExists is returned by Store when the token is already
	// persisted; the caller should Modify instead.
	ErrTokenExists = errors.New("alert token already stored")
	// ErrNotFound is returned by Modify/Erase for an unknown record.
	ErrNotFound = errors.New("alert not found in store")
)

// Config configures the alert store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// OfflineStopped is an alert stop event that happened while the device had
// no connectivity, parked durably until it can be reported upstream.
type OfflineStopped struct {
	ID           int
	Token        string
	ScheduledISO string
	EventISO     string
}

// Store is the durable repository for alert records. It is the only
// component that touches the database, and it is only ever called from the
// scheduler's serialized executor, so it needs no locking of its own.
type Store interface {
	// Open opens the database file, creating it and its schema as
	// needed, and runs the legacy-table migration.
	Open() error
	Close() error

	// Store persists a new record and assigns its storage ID.
	Store(r *alert.Record) error
	// Load returns every persisted record. Malformed rows are skipped
	// and logged, never fatal.
	Load() ([]*alert.Record, error)
	// Modify rewrites the mutable fields (state, schedule, loop and
	// asset configuration) of an already-stored record.
	Modify(r *alert.Record) error
	Erase(r *alert.Record) error
	// BulkErase removes all given records in one transaction. An empty
	// slice is a no-op.
	BulkErase(rs []*alert.Record) error
	// Clear drops every row from every table.
	Clear() error

	StoreOfflineStopped(token, scheduledISO, eventISO string) error
	LoadOfflineStopped() ([]OfflineStopped, error)
	EraseOfflineStopped(token string, id int) error
	// PruneOfflineStopped deletes parked stop events older than the
	// cutoff and reports how many went away.
	PruneOfflineStopped(before time.Time) (int, error)
}
