// Package progress keeps the last reported percentage and message per task
// so a polling caller can follow a batch it did not start.
package progress

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long an entry survives after its last write.
const DefaultTTL = 5 * time.Minute

// StartingMessage is reported for tasks with no entry yet.
const StartingMessage = "Starting..."

// Update is one progress report.
type Update struct {
	Percentage int       `json:"progress"`
	Message    string    `json:"message"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Sink receives progress for a task.
type Sink interface {
	Set(taskID string, percentage int, message string)
}

// Source answers progress queries.
type Source interface {
	Get(taskID string) Update
}

// Tracker is an in-memory Sink and Source with per-entry expiry.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]Update
	ttl     time.Duration
	now     func() time.Time
}

// NewTracker creates a tracker; ttl <= 0 selects DefaultTTL.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		entries: make(map[string]Update),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Set records progress, clamping the percentage to 0..100.
func (t *Tracker) Set(taskID string, percentage int, message string) {
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[taskID] = Update{Percentage: percentage, Message: message, UpdatedAt: t.now()}
}

// Get returns the latest progress or {0, "Starting..."} when absent or expired.
func (t *Tracker) Get(taskID string) Update {
	t.mu.RLock()
	u, ok := t.entries[taskID]
	t.mu.RUnlock()

	if !ok || t.expired(u) {
		return Update{Percentage: 0, Message: StartingMessage}
	}
	return u
}

// Delete forgets a task.
func (t *Tracker) Delete(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, taskID)
}

func (t *Tracker) expired(u Update) bool {
	return t.now().Sub(u.UpdatedAt) >= t.ttl
}

// Sweep drops expired entries and returns how many were removed.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, u := range t.entries {
		if t.expired(u) {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired ones included.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Run sweeps every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// Monotonic wraps a Sink so that one task's percentage never decreases.
type Monotonic struct {
	sink   Sink
	taskID string
	mu     sync.Mutex
	last   int
}

// NewMonotonic reports to sink under taskID.
func NewMonotonic(sink Sink, taskID string) *Monotonic {
	return &Monotonic{sink: sink, taskID: taskID}
}

// Report forwards max(last, percentage).
func (m *Monotonic) Report(percentage int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if percentage < m.last {
		percentage = m.last
	}
	m.last = percentage
	if m.sink != nil {
		m.sink.Set(m.taskID, percentage, message)
	}
}

// Last returns the highest percentage reported so far.
func (m *Monotonic) Last() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
