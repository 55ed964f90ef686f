package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

type fakeQueue struct {
	topic    string
	messages []*mq.Message
	err      error
}

func (f *fakeQueue) Publish(ctx context.Context, topic string, message *mq.Message) error {
	if f.err != nil {
		return f.err
	}
	f.topic = topic
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeQueue) Subscribe(ctx context.Context, topic string, handler mq.HandlerFunc, opts *mq.SubscribeOptions) error {
	return nil
}

func (f *fakeQueue) Start() error                   { return nil }
func (f *fakeQueue) Ping(ctx context.Context) error { return nil }
func (f *fakeQueue) Close() error                   { return nil }

func TestMQReportPublisher(t *testing.T) {
	q := &fakeQueue{}
	pub := NewMQReportPublisher(q, "judge.reports")
	report := model.Report{SubmissionID: "sub-1", State: model.StateCompleted, OverallPassed: true}
	if err := pub.PublishReport(context.Background(), report); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if q.topic != "judge.reports" || len(q.messages) != 1 || q.messages[0].ID != "sub-1" {
		t.Fatalf("unexpected publish %q %+v", q.topic, q.messages)
	}
	var event ReportEvent
	if err := json.Unmarshal(q.messages[0].Body, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Type != ReportEventFinal || event.Report.SubmissionID != "sub-1" || !event.Report.OverallPassed {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestMQReportPublisherErrors(t *testing.T) {
	ctx := context.Background()
	var nilPub *MQReportPublisher
	if err := nilPub.PublishReport(ctx, model.Report{SubmissionID: "x"}); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
	if err := NewMQReportPublisher(&fakeQueue{}, "").PublishReport(ctx, model.Report{SubmissionID: "x"}); !appErr.Is(err, appErr.InvalidParams) {
		t.Fatalf("expected InvalidParams, got %v", err)
	}
	if err := NewMQReportPublisher(&fakeQueue{}, "t").PublishReport(ctx, model.Report{}); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
	broken := &fakeQueue{err: errors.New("broker down")}
	if err := NewMQReportPublisher(broken, "t").PublishReport(ctx, model.Report{SubmissionID: "x"}); !appErr.Is(err, appErr.QueueError) {
		t.Fatalf("expected QueueError, got %v", err)
	}
}
