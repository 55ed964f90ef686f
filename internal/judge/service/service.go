// Package service implements the Submission Coordinator.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/sandbox/executor"
	"codejudge/internal/judge/sandbox/observer"
	"codejudge/internal/judge/sandbox/profile"
	"codejudge/internal/judge/sandbox/spec"
)

const (
	DefaultPoolSize       = 4
	DefaultMaxPending     = 64
	DefaultAcquireTimeout = 30 * time.Second
	DefaultStatusTimeout  = 2 * time.Second
	DefaultMaxSourceBytes = 64 << 10
	DefaultMaxInputBytes  = 1 << 20
	DefaultMaxTestCases   = 50
)

// Executor runs one program against one input.
type Executor interface {
	Execute(ctx context.Context, req executor.Request) (model.ExecutionResult, error)
	Abort(ctx context.Context, submissionID string) error
}

// HealthReporter receives systemic sandbox signals.
type HealthReporter interface {
	ReportIsolationAlert(ctx context.Context, alert model.Alert)
	ReportHealthy(ctx context.Context)
}

// Config holds service dependencies and settings.
type Config struct {
	Executor  Executor
	Languages profile.LanguageRepository

	// Optional collaborators.
	StatusStore repository.StatusStore
	Publisher   repository.ReportPublisher
	Health      HealthReporter
	Metrics     observer.MetricsRecorder

	// PoolSize is the number of parallel execution slots.
	PoolSize int
	// MaxPending bounds admitted, unfinished submissions.
	MaxPending     int
	AcquireTimeout time.Duration
	StatusTimeout  time.Duration
	MaxSourceBytes int
	MaxInputBytes  int
	MaxTestCases   int
	// Limits overrides the executor's default limits for every case.
	Limits spec.ResourceLimit
}

// Service coordinates submissions end to end.
type Service struct {
	executor       Executor
	languages      profile.LanguageRepository
	statusStore    repository.StatusStore
	publisher      repository.ReportPublisher
	health         HealthReporter
	metrics        observer.MetricsRecorder
	sem            chan struct{}
	maxPending     int
	acquireTimeout time.Duration
	statusTimeout  time.Duration
	maxSourceBytes int
	maxInputBytes  int
	maxTestCases   int
	limits         spec.ResourceLimit

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

// NewService creates a new coordinator.
func NewService(cfg Config) (*Service, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Languages == nil {
		return nil, fmt.Errorf("language repository is required")
	}
	if cfg.StatusStore == nil {
		cfg.StatusStore = repository.NewMemoryStatusRepository(repository.DefaultStatusTTL)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observer.NoopMetricsRecorder{}
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = DefaultStatusTimeout
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = DefaultMaxSourceBytes
	}
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = DefaultMaxInputBytes
	}
	if cfg.MaxTestCases <= 0 {
		cfg.MaxTestCases = DefaultMaxTestCases
	}
	return &Service{
		executor:       cfg.Executor,
		languages:      cfg.Languages,
		statusStore:    cfg.StatusStore,
		publisher:      cfg.Publisher,
		health:         cfg.Health,
		metrics:        cfg.Metrics,
		sem:            make(chan struct{}, cfg.PoolSize),
		maxPending:     cfg.MaxPending,
		acquireTimeout: cfg.AcquireTimeout,
		statusTimeout:  cfg.StatusTimeout,
		maxSourceBytes: cfg.MaxSourceBytes,
		maxInputBytes:  cfg.MaxInputBytes,
		maxTestCases:   cfg.MaxTestCases,
		limits:         cfg.Limits,
		jobs:           make(map[string]*job),
	}, nil
}

// Languages lists the configured languages.
func (s *Service) Languages(ctx context.Context) []profile.LanguageSpec {
	return s.languages.ListLanguages(ctx)
}
