package modelcache

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/localrivet/summaryservice/internal/engine"
	"github.com/localrivet/summaryservice/internal/registry"
)

// Entry is a loaded tokenizer/model pair owned by the cache.
type Entry struct {
	Identifier string
	Tokenizer  engine.Tokenizer
	Model      engine.Model
	Device     engine.Device
	LoadedAt   time.Time

	logger *slog.Logger

	mu      sync.Mutex
	refs    int
	retired bool
	closed  bool
}

func (e *Entry) tryAcquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retired {
		return false
	}
	e.refs++
	return true
}

func (e *Entry) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refs--
	if e.refs <= 0 && e.retired {
		e.closeLocked()
	}
}

// retire marks the entry as evicted. It closes immediately when unleased.
func (e *Entry) retire() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retired = true
	if e.refs <= 0 {
		e.closeLocked()
	}
}

func (e *Entry) isRetired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retired
}

// healthy reports whether the entry can still serve requests. A pair whose
// backing handle died stays resident until the cache notices and drops it.
func (e *Entry) healthy() bool {
	return !e.isRetired() && engine.Healthy(e.Tokenizer) && engine.Healthy(e.Model)
}

// Closed reports whether the pair has been released back to the backend.
func (e *Entry) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Entry) closeLocked() {
	if e.closed {
		return
	}
	e.closed = true
	if err := errors.Join(e.Tokenizer.Close(), e.Model.Close()); err != nil && e.logger != nil {
		e.logger.Warn("Failed to close model", "model", e.Identifier, "error", err)
	}
}

// Lease is a caller's hold on an Entry. Release must be called exactly
// once; further calls are ignored.
type Lease struct {
	entry      *Entry
	Resolution registry.Resolution
	once       sync.Once
}

func newLease(e *Entry, res registry.Resolution) *Lease {
	return &Lease{entry: e, Resolution: res}
}

// Identifier returns the identifier of the leased model.
func (l *Lease) Identifier() string { return l.entry.Identifier }

// Tokenizer returns the leased tokenizer.
func (l *Lease) Tokenizer() engine.Tokenizer { return l.entry.Tokenizer }

// Model returns the leased model.
func (l *Lease) Model() engine.Model { return l.entry.Model }

// Device returns where the leased model runs.
func (l *Lease) Device() engine.Device { return l.entry.Device }

// Entry returns the underlying cache entry.
func (l *Lease) Entry() *Entry { return l.entry }

// Release returns the lease to the cache.
func (l *Lease) Release() {
	l.once.Do(l.entry.release)
}
