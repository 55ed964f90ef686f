package service

import (
	"context"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// transition moves the job to the next lifecycle state and records it.
func (s *Service) transition(ctx context.Context, j *job, to model.SubmissionState, fn func(st *model.SubmissionStatus)) error {
	var from model.SubmissionState
	var allowed bool
	status := j.update(func(st *model.SubmissionStatus) {
		from = st.State
		allowed = model.CanTransition(from, to)
		if !allowed {
			return
		}
		st.State = to
		if fn != nil {
			fn(st)
		}
	})
	if !allowed {
		return appErr.Newf(appErr.InvalidStateChange, "submission %s cannot move from %s to %s", j.id, from, to)
	}
	logger.Debug(ctx, "submission state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	s.persistStatus(ctx, status)
	return nil
}

// persistStatus is best effort; the in-memory job stays authoritative
// while the submission is in flight.
func (s *Service) persistStatus(ctx context.Context, status model.SubmissionStatus) {
	ctxStatus, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.statusTimeout)
	defer cancel()
	if err := s.statusStore.Save(ctxStatus, status); err != nil {
		logger.Warn(ctx, "save submission status failed", zap.String("state", string(status.State)), zap.Error(err))
	}
}

// Status returns the latest known progress of a submission.
func (s *Service) Status(ctx context.Context, submissionID string) (model.SubmissionStatus, error) {
	if submissionID == "" {
		return model.SubmissionStatus{}, appErr.ValidationError("submission_id", "required")
	}
	if j, ok := s.lookup(submissionID); ok {
		return j.snapshot(), nil
	}
	return s.statusStore.Get(ctx, submissionID)
}

// Cancel asks a running submission to stop at its next test-case boundary.
func (s *Service) Cancel(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if j, ok := s.lookup(submissionID); ok {
		if j.snapshot().State.Terminal() {
			return appErr.New(appErr.SubmissionFinished)
		}
		j.cancel()
		logger.Info(logger.WithSubmission(ctx, submissionID), "submission cancel requested")
		return nil
	}
	status, err := s.statusStore.Get(ctx, submissionID)
	if err != nil {
		return err
	}
	if status.State.Terminal() {
		return appErr.New(appErr.SubmissionFinished)
	}
	return appErr.Newf(appErr.SubmissionNotFound, "submission %s is not running on this instance", submissionID)
}
