package persistence

import (
	"sync"

	"github.com/talgya/candy-cartel/internal/engine"
)

// Recorder buffers events between saves so the simulation goroutine never
// waits on the database. When more than limit events pile up the oldest
// are dropped.
type Recorder struct {
	mu      sync.Mutex
	pending []engine.Event
	limit   int
	dropped uint64
}

// NewRecorder creates a recorder holding at most limit unsaved events.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Sink returns the subscriber to register with the World.
func (r *Recorder) Sink() engine.Subscriber {
	return func(e engine.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.pending = append(r.pending, e)
		if r.limit > 0 && len(r.pending) > r.limit {
			over := len(r.pending) - r.limit
			r.dropped += uint64(over)
			r.pending = append(r.pending[:0], r.pending[over:]...)
		}
	}
}

// Flush writes buffered events to db. On failure the events stay buffered
// for the next attempt.
func (r *Recorder) Flush(db *DB) (int, error) {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if err := db.SaveEvents(batch); err != nil {
		r.mu.Lock()
		r.pending = append(batch, r.pending...)
		r.mu.Unlock()
		return 0, err
	}
	return len(batch), nil
}

// Dropped returns how many events were discarded on overflow.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
