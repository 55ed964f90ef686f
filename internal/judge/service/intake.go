package service

import (
	"context"
	"encoding/json"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// HandleMessage judges a queued submission. The report reaches consumers
// through the report publisher. Only admission overflow is returned so the
// queue retries it; malformed or invalid submissions are dropped.
func (s *Service) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var payload model.SubmissionMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		logger.Warn(ctx, "drop undecodable submission message", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if payload.SubmissionID == "" {
		payload.SubmissionID = msg.ID
	}
	report, err := s.Submit(ctx, payload.Submission())
	if err != nil {
		if appErr.Is(err, appErr.JudgeQueueFull) {
			return err
		}
		logger.Info(ctx, "drop rejected submission message",
			zap.String("message_id", msg.ID),
			zap.Int("code", int(appErr.GetCode(err))),
			zap.Error(err),
		)
		return nil
	}
	logger.Info(logger.WithSubmission(ctx, report.SubmissionID), "queued submission judged",
		zap.String("state", string(report.State)),
		zap.Bool("overall_passed", report.OverallPassed),
	)
	return nil
}
