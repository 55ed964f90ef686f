package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const (
	statusKeyPrefix  = "judge:status:"
	DefaultStatusTTL = 10 * time.Minute
)

// StatusStore keeps short-lived submission progress for polling.
type StatusStore interface {
	Save(ctx context.Context, status model.SubmissionStatus) error
	Get(ctx context.Context, submissionID string) (model.SubmissionStatus, error)
}

// StatusRepository stores zstd-compressed status JSON in redis.
// Reports may carry up to the output cap per test case, so they are
// compressed before they hit the cache.
type StatusRepository struct {
	cache cache.Cache
	TTL   time.Duration
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// NewStatusRepository creates a new repository.
func NewStatusRepository(cacheClient cache.Cache, ttl time.Duration) (*StatusRepository, error) {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	return &StatusRepository{cache: cacheClient, TTL: ttl, enc: enc, dec: dec}, nil
}

// Get returns status by submission id.
func (r *StatusRepository) Get(ctx context.Context, submissionID string) (model.SubmissionStatus, error) {
	if submissionID == "" {
		return model.SubmissionStatus{}, appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return model.SubmissionStatus{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := r.cache.Get(ctx, statusKeyPrefix+submissionID)
	if err != nil {
		return model.SubmissionStatus{}, appErr.Wrapf(err, appErr.CacheError, "load status failed")
	}
	if val == "" {
		return model.SubmissionStatus{}, appErr.New(appErr.SubmissionNotFound)
	}
	raw, err := r.dec.DecodeAll([]byte(val), nil)
	if err != nil {
		return model.SubmissionStatus{}, appErr.Wrapf(err, appErr.CacheError, "decompress status failed")
	}
	var status model.SubmissionStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return model.SubmissionStatus{}, appErr.Wrapf(err, appErr.CacheError, "decode status failed")
	}
	return status, nil
}

// Save persists status.
func (r *StatusRepository) Save(ctx context.Context, status model.SubmissionStatus) error {
	if status.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	packed := r.enc.EncodeAll(data, make([]byte, 0, len(data)/2))
	if err := r.cache.Set(ctx, statusKeyPrefix+status.SubmissionID, packed, r.TTL); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status failed")
	}
	return nil
}
