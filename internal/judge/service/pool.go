package service

import (
	"context"
	"time"

	appErr "codejudge/pkg/errors"
)

// acquireSlot waits for an execution slot, bounded by ctx and the acquire timeout.
func (s *Service) acquireSlot(ctx context.Context) error {
	timer := time.NewTimer(s.acquireTimeout)
	defer timer.Stop()
	select {
	case s.sem <- struct{}{}:
		s.metrics.SetActiveExecutions(len(s.sem))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return appErr.New(appErr.JudgeQueueFull).WithMessage("no execution slot became free")
	}
}

func (s *Service) releaseSlot() {
	select {
	case <-s.sem:
	default:
	}
	s.metrics.SetActiveExecutions(len(s.sem))
}
