// Package health tracks whether the sandbox is usable and serves it over
// the standard gRPC health protocol.
package health

import (
	"context"
	"sync"
	"time"

	"codejudge/internal/judge/model"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SandboxService is the service name reported for the execution sandbox.
const SandboxService = "codejudge.sandbox"

// Snapshot is the current sandbox health.
type Snapshot struct {
	Serving bool         `json:"serving"`
	Alert   *model.Alert `json:"alert,omitempty"`
	Since   time.Time    `json:"since"`
}

// Monitor flips to NOT_SERVING on a systemic isolation alert and back to
// SERVING after the next successful execution.
type Monitor struct {
	srv *health.Server

	mu      sync.Mutex
	serving bool
	alert   *model.Alert
	since   time.Time
}

// NewMonitor starts in the SERVING state.
func NewMonitor() *Monitor {
	m := &Monitor{srv: health.NewServer(), serving: true, since: time.Now()}
	m.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	m.srv.SetServingStatus(SandboxService, healthpb.HealthCheckResponse_SERVING)
	return m
}

// ReportIsolationAlert marks the sandbox as broken.
func (m *Monitor) ReportIsolationAlert(ctx context.Context, alert model.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := alert
	m.alert = &a
	if !m.serving {
		return
	}
	m.serving = false
	m.since = time.Now()
	m.srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	m.srv.SetServingStatus(SandboxService, healthpb.HealthCheckResponse_NOT_SERVING)
	logger.Error(ctx, "sandbox marked unhealthy", zap.Int("code", alert.Code), zap.String("reason", alert.Message))
}

// ReportHealthy records a successful execution.
func (m *Monitor) ReportHealthy(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.serving {
		return
	}
	m.serving = true
	m.alert = nil
	m.since = time.Now()
	m.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	m.srv.SetServingStatus(SandboxService, healthpb.HealthCheckResponse_SERVING)
	logger.Info(ctx, "sandbox recovered")
}

// Snapshot returns the current state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Serving: m.serving, Alert: m.alert, Since: m.since}
}

// Register exposes the health service on a gRPC server.
func (m *Monitor) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, m.srv)
}

// Shutdown reports NOT_SERVING to every watcher ahead of process exit.
func (m *Monitor) Shutdown() {
	m.srv.Shutdown()
}
