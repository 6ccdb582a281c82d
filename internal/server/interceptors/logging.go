// Package interceptors holds gRPC server interceptors for the admin server.
package interceptors

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// LoggingUnary returns a unary server interceptor that logs each RPC with its status code
// and duration. Methods in skipMethods (e.g. frequent health probes) are only logged when
// they fail.
func LoggingUnary(logger *slog.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "admin_grpc")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err == nil && skipMethods[info.FullMethod] {
			return resp, err
		}
		level := slog.LevelInfo
		if err != nil {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "grpc request",
			"full_method", info.FullMethod,
			"status_code", status.Code(err).String(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", ClientIP(ctx))
		return resp, err
	}
}

// ClientIP returns the peer host of the RPC, or "" when unknown.
func ClientIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}
