package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the grpc.health.v1 service name reported alongside the server-wide "" entry.
const ServiceName = "rouyeshno.bridge"

// DefaultInterval is how often Run re-checks dependencies.
const DefaultInterval = 10 * time.Second

const checkTimeout = 3 * time.Second

// Pinger reports backend reachability (e.g. the session store).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PolicyChecker is used for readiness (e.g. the OPA evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Checker runs readiness checks and publishes the result through a grpc.health.v1 server.
type Checker struct {
	pinger Pinger
	policy PolicyChecker
	health *health.Server
	logger *slog.Logger
	ready  atomic.Bool
}

// NewChecker returns a Checker. Nil pinger or policy skips that check. The initial status is NOT_SERVING.
func NewChecker(pinger Pinger, policy PolicyChecker, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Checker{
		pinger: pinger,
		policy: policy,
		health: health.NewServer(),
		logger: logger.With("component", "health"),
	}
	c.set(false)
	return c
}

// Server returns the health service to register on a gRPC server.
func (c *Checker) Server() healthpb.HealthServer {
	return c.health
}

// Ready reports the result of the last Check.
func (c *Checker) Ready() bool {
	return c.ready.Load()
}

// Check runs every configured check once and updates the published status.
func (c *Checker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var errs []error
	if c.pinger != nil {
		if err := c.pinger.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if c.policy != nil {
		if err := c.policy.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("policy: %w", err))
		}
	}
	err := errors.Join(errs...)
	if was := c.ready.Load(); was != (err == nil) {
		if err != nil {
			c.logger.WarnContext(ctx, "not ready", "error", err)
		} else {
			c.logger.InfoContext(ctx, "ready")
		}
	}
	c.set(err == nil)
	return err
}

// Run checks immediately and then every interval until ctx is done, when the status
// is switched to NOT_SERVING for good.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	_ = c.Check(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.ready.Store(false)
			c.health.Shutdown()
			return
		case <-t.C:
			_ = c.Check(ctx)
		}
	}
}

func (c *Checker) set(ok bool) {
	c.ready.Store(ok)
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	c.health.SetServingStatus("", status)
	c.health.SetServingStatus(ServiceName, status)
}
