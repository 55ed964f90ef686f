package service

import (
	"context"
	"sync"
	"time"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

// job is one admitted submission. Only its own goroutine mutates the
// status; Cancel only closes the cancel channel.
type job struct {
	id         string
	sub        model.Submission
	receivedAt time.Time

	cancelOnce sync.Once
	cancelCh   chan struct{}

	mu     sync.Mutex
	status model.SubmissionStatus
}

func newJob(id string, sub model.Submission, now time.Time) *job {
	sub.ID = id
	return &job{
		id:         id,
		sub:        sub,
		receivedAt: now,
		cancelCh:   make(chan struct{}),
		status: model.SubmissionStatus{
			SubmissionID: id,
			Language:     sub.Language,
			State:        model.StateReceived,
			TotalCases:   len(sub.TestCases),
			UpdatedAt:    now,
		},
	}
}

func (j *job) cancel() {
	j.cancelOnce.Do(func() { close(j.cancelCh) })
}

func (j *job) cancelled() bool {
	select {
	case <-j.cancelCh:
		return true
	default:
		return false
	}
}

func (j *job) snapshot() model.SubmissionStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *job) update(fn func(st *model.SubmissionStatus)) model.SubmissionStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.status)
	j.status.UpdatedAt = time.Now()
	return j.status
}

// register admits a job unless the id is in flight or the pending bound is reached.
func (s *Service) register(j *job) error {
	s.mu.Lock()
	if _, dup := s.jobs[j.id]; dup {
		s.mu.Unlock()
		return appErr.Newf(appErr.InvalidSubmissionID, "submission %s is already in flight", j.id)
	}
	if len(s.jobs) >= s.maxPending {
		s.mu.Unlock()
		return appErr.New(appErr.JudgeQueueFull)
	}
	s.jobs[j.id] = j
	n := len(s.jobs)
	s.mu.Unlock()
	s.metrics.SetPendingSubmissions(n)
	return nil
}

func (s *Service) unregister(j *job) {
	s.mu.Lock()
	if s.jobs[j.id] == j {
		delete(s.jobs, j.id)
	}
	n := len(s.jobs)
	s.mu.Unlock()
	s.metrics.SetPendingSubmissions(n)
}

func (s *Service) lookup(id string) (*job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

// Shutdown cancels every in-flight submission, kills running programs and
// waits for background submissions until ctx ends.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		j.cancel()
		_ = s.executor.Abort(ctx, j.id)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
