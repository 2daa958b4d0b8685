// Package history provides storage for completed summaries so they can be
// listed and retrieved later.
package history

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("history: record not found")

// Record is one stored summary.
type Record struct {
	ID               string    `json:"id"`
	Fingerprint      string    `json:"fingerprint"`
	Model            string    `json:"model"`
	RequestedModel   string    `json:"requested_model,omitempty"`
	UsedFallback     bool      `json:"used_fallback"`
	Summary          string    `json:"summary"`
	OriginalWords    int       `json:"original_words"`
	SummaryWords     int       `json:"summary_words"`
	CompressionRatio float64   `json:"compression_ratio"`
	DurationMs       int64     `json:"duration_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// Store defines the interface for storing and retrieving summary records.
type Store interface {
	// Initialize opens the store at dbPath, creating it if needed.
	Initialize(dbPath string) error

	// Close closes the store and releases any resources.
	Close() error

	// Save stores rec. An empty ID is replaced with a new one and a zero
	// CreatedAt with the current time; both are written back to rec.
	Save(rec *Record) error

	// Get returns the record with id, or ErrNotFound.
	Get(id string) (*Record, error)

	// Recent returns up to limit records, newest first.
	Recent(limit int) ([]Record, error)

	// Delete removes the record with id and reports whether it existed.
	Delete(id string) (bool, error)

	// Clear removes every record and returns how many were removed.
	Clear() (int, error)
}
