package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/skinsight/internal/classifier"
	"github.com/example/skinsight/internal/logging"
)

// ClassifierService is the health service name for the remote classifier.
const ClassifierService = "skinsight.Classifier"

// Pinger probes the remote classifier.
type Pinger interface {
	Ping(ctx context.Context) (*classifier.Status, error)
}

// HealthMonitor keeps a gRPC health server in step with the classifier.
type HealthMonitor struct {
	server   *health.Server
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// NewHealthMonitor returns a monitor that reports NOT_SERVING until the first
// successful probe.
func NewHealthMonitor(pinger Pinger, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	hs := health.NewServer()
	hs.SetServingStatus(ClassifierService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthMonitor{
		server:   hs,
		pinger:   pinger,
		interval: interval,
		timeout:  5 * time.Second,
		logger:   logger.Named("health"),
	}
}

// Server exposes the underlying health service.
func (m *HealthMonitor) Server() *health.Server {
	return m.server
}

// CheckOnce probes the classifier and publishes the result. The gateway
// itself stays SERVING; only the classifier service flips.
func (m *HealthMonitor) CheckOnce(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	s, err := m.pinger.Ping(ctx)
	switch {
	case err != nil:
		status = healthpb.HealthCheckResponse_NOT_SERVING
		m.logger.Warn("classifier probe failed", zap.Error(logging.NewOperationError("grpcserver.check_classifier", "", err)))
	case !s.Ready():
		status = healthpb.HealthCheckResponse_NOT_SERVING
		m.logger.Warn("classifier not ready",
			zap.String("status", s.Status),
			zap.Bool("filter_loaded", s.FilterLoaded),
			zap.Bool("fusion_loaded", s.FusionLoaded))
	}

	m.server.SetServingStatus(ClassifierService, status)
	return status
}

// Run probes on every interval until ctx is done, then marks everything
// NOT_SERVING.
func (m *HealthMonitor) Run(ctx context.Context) {
	m.CheckOnce(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.server.Shutdown()
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// NewServer builds a gRPC server exposing the health service.
func NewServer(monitor *HealthMonitor, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, monitor.Server())
	return srv
}
