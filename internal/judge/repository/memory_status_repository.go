package repository

import (
	"context"
	"sync"
	"time"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

// MemoryStatusRepository is an in-process StatusStore with TTL expiry.
type MemoryStatusRepository struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	status    model.SubmissionStatus
	expiresAt time.Time
}

// NewMemoryStatusRepository creates an in-memory store.
func NewMemoryStatusRepository(ttl time.Duration) *MemoryStatusRepository {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &MemoryStatusRepository{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

// Save stores status and sweeps expired entries.
func (r *MemoryStatusRepository) Save(ctx context.Context, status model.SubmissionStatus) error {
	if status.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if now.After(e.expiresAt) {
			delete(r.entries, id)
		}
	}
	r.entries[status.SubmissionID] = memoryEntry{status: status, expiresAt: now.Add(r.ttl)}
	return nil
}

// Get returns status by submission id.
func (r *MemoryStatusRepository) Get(ctx context.Context, submissionID string) (model.SubmissionStatus, error) {
	if submissionID == "" {
		return model.SubmissionStatus{}, appErr.ValidationError("submission_id", "required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[submissionID]
	if !ok || r.now().After(e.expiresAt) {
		return model.SubmissionStatus{}, appErr.New(appErr.SubmissionNotFound)
	}
	return e.status, nil
}
