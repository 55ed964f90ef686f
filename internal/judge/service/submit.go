package service

import (
	"context"
	"fmt"
	"time"

	"codejudge/internal/judge/harness"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/executor"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// Submit validates and runs a submission, blocking until its report is
// ready. Only validation and admission failures are returned as errors.
func (s *Service) Submit(ctx context.Context, sub model.Submission) (model.Report, error) {
	j, err := s.admit(ctx, sub)
	if err != nil {
		return model.Report{}, err
	}
	defer s.unregister(j)
	return s.execute(logger.WithSubmission(ctx, j.id), j), nil
}

// SubmitAsync validates synchronously and runs the submission in the
// background. Progress is available through Status.
func (s *Service) SubmitAsync(ctx context.Context, sub model.Submission) (string, error) {
	j, err := s.admit(ctx, sub)
	if err != nil {
		return "", err
	}
	bg := logger.WithSubmission(context.WithoutCancel(ctx), j.id)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.unregister(j)
		s.execute(bg, j)
	}()
	return j.id, nil
}

// admit runs received -> validating and either rejects or hands back a registered job.
func (s *Service) admit(ctx context.Context, sub model.Submission) (*job, error) {
	id, err := resolveID(sub.ID)
	if err != nil {
		return nil, err
	}
	j := newJob(id, sub, time.Now())
	if err := s.register(j); err != nil {
		logger.Info(ctx, "submission not admitted", zap.String("submission_id", id), zap.Error(err))
		return nil, err
	}
	ctx = logger.WithSubmission(ctx, id)
	s.persistStatus(ctx, j.snapshot())

	if err := s.transition(ctx, j, model.StateValidating, nil); err != nil {
		s.unregister(j)
		return nil, err
	}
	if verr := s.validate(ctx, j.sub); verr != nil {
		e := appErr.GetError(verr)
		_ = s.transition(ctx, j, model.StateRejected, func(st *model.SubmissionStatus) {
			st.Error = &model.VerdictError{Code: int(e.Code), Message: e.Error()}
		})
		s.unregister(j)
		s.metrics.ObserveSubmission(ctx, sub.Language, string(model.StateRejected))
		logger.Info(ctx, "submission rejected", zap.Int("code", int(e.Code)), zap.String("reason", e.Error()))
		return nil, verr
	}
	return j, nil
}

// execute runs every test case in order and builds the report.
// Cancellation, from Cancel or from ctx, is honored only between cases.
func (s *Service) execute(ctx context.Context, j *job) model.Report {
	if err := s.transition(ctx, j, model.StateExecuting, nil); err != nil {
		logger.Error(ctx, "submission state machine violated", zap.Error(err))
	}

	cases := j.sub.TestCases
	verdicts := make([]model.Verdict, 0, len(cases))
	cancelled := false
	for i, tc := range cases {
		if j.cancelled() || ctx.Err() != nil {
			cancelled = true
		}
		if !cancelled {
			j.update(func(st *model.SubmissionStatus) { st.CurrentCase = i })
			v, ok := s.runCase(ctx, j, i, tc)
			if ok {
				verdicts = append(verdicts, v)
				continue
			}
			cancelled = true
		}
		verdicts = append(verdicts, harness.Cancelled(i))
	}

	report := model.Report{
		SubmissionID: j.id,
		Language:     j.sub.Language,
		Verdicts:     verdicts,
		ReceivedAt:   j.receivedAt,
	}
	if cancelled {
		report.Cancelled = true
		report.State = model.StateCancelled
	} else {
		report.OverallPassed = model.AllPassed(verdicts)
		report.State = model.StateCompleted
		s.checkSystemic(ctx, &report)
	}
	report.FinishedAt = time.Now()

	if cancelled {
		_ = s.transition(ctx, j, model.StateCancelled, func(st *model.SubmissionStatus) { st.Report = &report })
		logger.Info(ctx, "submission cancelled", zap.Int("completed_cases", completedCases(verdicts)))
	} else {
		_ = s.transition(ctx, j, model.StateAggregating, nil)
		_ = s.transition(ctx, j, model.StateCompleted, func(st *model.SubmissionStatus) {
			st.CurrentCase = len(cases)
			st.Report = &report
		})
	}
	s.metrics.ObserveSubmission(ctx, j.sub.Language, string(report.State))
	s.publish(ctx, report)
	return report
}

// runCase executes one test case. It returns false when the submission was
// cancelled while waiting for a slot.
func (s *Service) runCase(ctx context.Context, j *job, index int, tc model.TestCase) (model.Verdict, bool) {
	if err := s.acquireSlot(ctx); err != nil {
		if ctx.Err() != nil {
			return model.Verdict{}, false
		}
		logger.Warn(ctx, "execution slot unavailable", zap.Int("test_index", index), zap.Error(err))
		return harness.Unscheduled(index), true
	}
	defer s.releaseSlot()

	// A started execution is never interrupted by cancellation; it ends on
	// its own or at its time limit.
	res, err := s.executor.Execute(context.WithoutCancel(ctx), executor.Request{
		SubmissionID: j.id,
		TestIndex:    index,
		Language:     j.sub.Language,
		Source:       j.sub.SourceCode,
		Input:        tc.Input,
		Limits:       s.limits,
	})
	if err != nil {
		logger.Warn(ctx, "test case isolation failure", zap.Int("test_index", index), zap.Error(err))
		return harness.Fault(index, res, err), true
	}
	return harness.Judge(index, tc.ExpectedOutput, res), true
}

// checkSystemic raises an alert when every case hit an isolation failure
// and clears the health flag when any case ran. Cases that never got a slot
// count toward neither.
func (s *Service) checkSystemic(ctx context.Context, report *model.Report) {
	failures, ran := 0, 0
	for _, v := range report.Verdicts {
		switch {
		case v.ExecutionResult == nil:
		case v.ExecutionResult.TerminatedBy == model.TerminatedIsolationFailure:
			failures++
		default:
			ran++
		}
	}
	if ran > 0 && s.health != nil {
		s.health.ReportHealthy(ctx)
	}
	if failures == 0 || failures < len(report.Verdicts) {
		return
	}
	alert := model.Alert{
		Code:    int(appErr.SandboxUnavailable),
		Message: fmt.Sprintf("all %d test cases failed inside the sandbox itself", failures),
	}
	report.Alert = &alert
	s.metrics.ObserveIsolationAlert(ctx, report.Language)
	logger.Error(ctx, "systemic isolation failure", zap.Int("test_cases", failures))
	if s.health != nil {
		s.health.ReportIsolationAlert(ctx, alert)
	}
}

func (s *Service) publish(ctx context.Context, report model.Report) {
	if s.publisher == nil {
		return
	}
	ctxPub, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.statusTimeout)
	defer cancel()
	if err := s.publisher.PublishReport(ctxPub, report); err != nil {
		logger.Warn(ctx, "publish report failed", zap.Error(err))
	}
}

func completedCases(verdicts []model.Verdict) int {
	n := 0
	for _, v := range verdicts {
		if !v.Cancelled {
			n++
		}
	}
	return n
}
