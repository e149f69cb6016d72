package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry keeps activations in process memory. It is used by tests and
// by single-instance deployments that can afford to lose activations on restart.
type MemoryRegistry struct {
	mu    sync.Mutex
	byID  map[string]Activation
	clock func() time.Time
}

// MemoryOption configures a MemoryRegistry.
type MemoryOption func(*MemoryRegistry)

// WithClock sets the time source used for timestamps and pruning.
func WithClock(now func() time.Time) MemoryOption {
	return func(r *MemoryRegistry) {
		r.clock = now
	}
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry(opts ...MemoryOption) *MemoryRegistry {
	r := &MemoryRegistry{
		byID:  make(map[string]Activation),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *MemoryRegistry) Register(_ context.Context, a Activation) (*Activation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	for id, existing := range r.byID {
		if existing.LicenseKey == a.LicenseKey && existing.Fingerprint == a.Fingerprint {
			a.ID = id
			a.ActivatedAt = existing.ActivatedAt
			break
		}
	}
	if a.ActivatedAt.IsZero() {
		a.ActivatedAt = now
	}
	a.LastSeenAt = now
	r.byID[a.ID] = a
	return &a, nil
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (*Activation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (r *MemoryRegistry) Deregister(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *MemoryRegistry) Count(_ context.Context, licenseKey string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.byID {
		if a.LicenseKey == licenseKey {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRegistry) List(_ context.Context, licenseKey string) ([]Activation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Activation
	for _, a := range r.byID {
		if a.LicenseKey == licenseKey {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ActivatedAt.Before(out[j].ActivatedAt)
	})
	return out, nil
}

func (r *MemoryRegistry) Ping(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.LastSeenAt = r.clock()
	r.byID[id] = a
	return nil
}

func (r *MemoryRegistry) Prune(_ context.Context, licenseKey string, olderThan time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.clock().Add(-olderThan)
	n := 0
	for id, a := range r.byID {
		if a.LicenseKey == licenseKey && a.LastSeenAt.Before(cutoff) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRegistry) Close(_ context.Context) error {
	return nil
}
