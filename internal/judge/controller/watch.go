package controller

import (
	"context"
	"time"

	"codejudge/internal/judge/model"
	"codejudge/pkg/utils/logger"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WatchConfig tunes the status websocket.
type WatchConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	MaxDuration  time.Duration `yaml:"maxDuration"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

func (w WatchConfig) withDefaults() WatchConfig {
	if w.PollInterval <= 0 {
		w.PollInterval = 200 * time.Millisecond
	}
	if w.MaxDuration <= 0 {
		w.MaxDuration = 10 * time.Minute
	}
	if w.WriteTimeout <= 0 {
		w.WriteTimeout = 5 * time.Second
	}
	return w
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Watch streams a submission's status over a websocket until it is terminal.
// A frame is sent whenever state or current case changes.
func (h *JudgeController) Watch(c *gin.Context) {
	id := c.Param("id")
	status, err := h.svc.Status(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.String("submission_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.watch.MaxDuration)
	defer cancel()
	ctx = logger.WithSubmission(ctx, id)

	// The reader only notices the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.watch.PollInterval)
	defer ticker.Stop()
	var last *model.SubmissionStatus
	for {
		if last == nil || changed(*last, status) {
			if err := h.writeFrame(conn, status); err != nil {
				logger.Debug(ctx, "watch client gone", zap.Error(err))
				return
			}
			snapshot := status
			last = &snapshot
		}
		if status.State.Terminal() {
			h.closeNormal(conn, "submission "+string(status.State))
			return
		}
		select {
		case <-ctx.Done():
			h.closeNormal(conn, "watch ended")
			return
		case <-ticker.C:
		}
		next, err := h.svc.Status(ctx, id)
		if err != nil {
			logger.Warn(ctx, "watch status lookup failed", zap.Error(err))
			h.closeWith(conn, websocket.CloseInternalServerErr, "status unavailable")
			return
		}
		status = next
	}
}

func changed(prev, next model.SubmissionStatus) bool {
	return prev.State != next.State || prev.CurrentCase != next.CurrentCase
}

func (h *JudgeController) writeFrame(conn *websocket.Conn, status model.SubmissionStatus) error {
	_ = conn.SetWriteDeadline(time.Now().Add(h.watch.WriteTimeout))
	return conn.WriteJSON(status)
}

func (h *JudgeController) closeNormal(conn *websocket.Conn, reason string) {
	h.closeWith(conn, websocket.CloseNormalClosure, reason)
}

func (h *JudgeController) closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.watch.WriteTimeout))
}
