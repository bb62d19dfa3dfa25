// Package grpcapi serves the standard gRPC health protocol, reporting
// SERVING only while the API's dependencies answer their readiness checks.
package grpcapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"hublievents.com/internal/obs"
)

// DefaultInterval is how often Run re-probes readiness.
const DefaultInterval = 10 * time.Second

// Checker is satisfied by httpapi.ReadyProbe.
type Checker interface {
	Check(ctx context.Context) error
}

// Health owns a grpc health server whose status follows a Checker.
type Health struct {
	srv      *health.Server
	checker  Checker
	interval time.Duration
	timeout  time.Duration
}

type Option func(*Health)

func WithInterval(d time.Duration) Option {
	return func(h *Health) {
		if d > 0 {
			h.interval = d
		}
	}
}

// NewHealth starts in NOT_SERVING until the first probe succeeds.
func NewHealth(checker Checker, opts ...Option) *Health {
	h := &Health{
		srv:      health.NewServer(),
		checker:  checker,
		interval: DefaultInterval,
		timeout:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Probe runs the checker once and publishes the result.
func (h *Health) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if h.checker != nil {
		ctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		if err := h.checker.Check(ctx); err != nil {
			logger := obs.Logger()
			logger.Warn().Err(err).Msg("readiness_probe_failed")
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	h.set(status)
	return status
}

// Run probes until ctx ends, then marks every service NOT_SERVING.
func (h *Health) Run(ctx context.Context) {
	h.Probe(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
			h.Probe(ctx)
		}
	}
}

func (h *Health) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(obs.ServiceName, status)
}

// NewServer builds a grpc.Server with request logging and the health
// service registered.
func NewServer(h *Health, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(logUnary))
	s := grpc.NewServer(opts...)
	h.Register(s)
	return s
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	logger := obs.Logger()
	ev := logger.Debug()
	if err != nil {
		ev = logger.Warn().Err(err)
	}
	ev.Str("method", info.FullMethod).
		Dur("duration_ms", time.Since(start)).
		Msg("grpc_request_complete")
	return resp, err
}
