package monitor

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Observation is one validated request seen for a user.
type Observation struct {
	SessionID string    `json:"sid"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"ua,omitempty"`
	At        time.Time `json:"at"`
}

// ActivityRepository stores recent observations per user.
type ActivityRepository interface {
	Record(ctx context.Context, userID string, obs Observation) error
	// RecentActivity returns observations at or after since, oldest first.
	RecentActivity(ctx context.Context, userID string, since time.Time) ([]Observation, error)
}

func sortObservations(obs []Observation) {
	slices.SortStableFunc(obs, func(a, b Observation) int {
		return a.At.Compare(b.At)
	})
}

// MemoryActivityRepository keeps observations in process memory, pruning
// entries older than the retention on each write.
type MemoryActivityRepository struct {
	mu        sync.Mutex
	retention time.Duration
	byUser    map[string][]Observation
}

func NewMemoryActivityRepository(retention time.Duration) *MemoryActivityRepository {
	if retention <= 0 {
		retention = DefaultActivityRetention
	}
	return &MemoryActivityRepository{
		retention: retention,
		byUser:    make(map[string][]Observation),
	}
}

func (m *MemoryActivityRepository) Record(_ context.Context, userID string, obs Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := obs.At.Add(-m.retention)
	var kept []Observation
	for _, o := range m.byUser[userID] {
		if !o.At.Before(cutoff) {
			kept = append(kept, o)
		}
	}
	m.byUser[userID] = append(kept, obs)
	return nil
}

func (m *MemoryActivityRepository) RecentActivity(_ context.Context, userID string, since time.Time) ([]Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Observation
	for _, o := range m.byUser[userID] {
		if !o.At.Before(since) {
			out = append(out, o)
		}
	}
	sortObservations(out)
	return out, nil
}

// memoryDeduper is the in-process fallback for alert de-duplication.
type memoryDeduper struct {
	mu    sync.Mutex
	now   func() time.Time
	until map[string]time.Time
}

func newMemoryDeduper(now func() time.Time) *memoryDeduper {
	return &memoryDeduper{now: now, until: make(map[string]time.Time)}
}

func (d *memoryDeduper) FirstInWindow(_ context.Context, key string, window time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if exp, ok := d.until[key]; ok && now.Before(exp) {
		return false, nil
	}
	for k, exp := range d.until {
		if !now.Before(exp) {
			delete(d.until, k)
		}
	}
	d.until[key] = now.Add(window)
	return true, nil
}
