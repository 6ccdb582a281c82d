package server

import (
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/server/interceptors"
)

// healthCheckMethod is not logged on success; probes call it every few seconds.
const healthCheckMethod = "/grpc.health.v1.Health/Check"

// Deps holds the services exposed on the admin gRPC server.
type Deps struct {
	// Health serves grpc.health.v1. If nil, the health service is not registered.
	Health healthpb.HealthServer
}

// RegisterServices registers the admin services with the given server.
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	if deps.Health != nil {
		healthpb.RegisterHealthServer(s, deps.Health)
	}
}

// NewAdminServer returns a gRPC server with tracing, request logging and the admin services.
func NewAdminServer(deps Deps, logger *slog.Logger) *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.LoggingUnary(logger, map[string]bool{healthCheckMethod: true}),
		),
	)
	RegisterServices(s, deps)
	return s
}
