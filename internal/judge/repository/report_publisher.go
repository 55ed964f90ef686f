package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

// ReportEventFinal marks a report that will not change any more.
const ReportEventFinal = "final"

// ReportEvent is the payload published for every finished submission.
type ReportEvent struct {
	Type      string       `json:"type"`
	Report    model.Report `json:"report"`
	CreatedAt int64        `json:"created_at"`
}

// ReportPublisher publishes finished reports.
type ReportPublisher interface {
	PublishReport(ctx context.Context, report model.Report) error
}

// MQReportPublisher publishes report events to a message queue.
type MQReportPublisher struct {
	queue mq.MessageQueue
	topic string
}

// NewMQReportPublisher creates a new MQ report publisher.
func NewMQReportPublisher(queue mq.MessageQueue, topic string) *MQReportPublisher {
	return &MQReportPublisher{queue: queue, topic: topic}
}

// PublishReport publishes a final report event keyed by submission id.
func (p *MQReportPublisher) PublishReport(ctx context.Context, report model.Report) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("report publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("report topic is required")
	}
	if report.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	event := ReportEvent{
		Type:      ReportEventFinal,
		Report:    report,
		CreatedAt: time.Now().Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal report event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = report.SubmissionID
	if err := p.queue.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.QueueError, "publish report event failed")
	}
	return nil
}
