package waitlist

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps entries in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[uuid.UUID]Entry)}
}

func (r *MemoryRepository) Insert(_ context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ID] = *e
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return &e, nil
}

func (r *MemoryRepository) Update(_ context.Context, e *Entry, from Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[e.ID]
	if !ok {
		return ErrEntryNotFound
	}
	if cur.Status != from {
		return ErrStaleEntry
	}
	r.entries[e.ID] = *e
	return nil
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for _, e := range r.entries {
		if !f.match(e) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (f Filter) match(e Entry) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if e.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.PatientID != nil && e.PatientID != *f.PatientID {
		return false
	}
	if f.DesiredDate != nil && e.DesiredDate.Format(time.DateOnly) != f.DesiredDate.Format(time.DateOnly) {
		return false
	}
	if f.ExpiresBefore != nil && (e.ExpiresAt == nil || !e.ExpiresAt.Before(*f.ExpiresBefore)) {
		return false
	}
	if f.OfferedStart != nil && (e.OfferedStart == nil || !e.OfferedStart.Equal(*f.OfferedStart)) {
		return false
	}
	return true
}
