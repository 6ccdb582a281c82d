package interceptors

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func TestLoggingUnary(t *testing.T) {
	const health = "/grpc.health.v1.Health/Check"
	testCases := []struct {
		name    string
		method  string
		err     error
		wantLog string
	}{
		{"logged", "/svc/Method", nil, "status_code=OK"},
		{"skipped on success", health, nil, ""},
		{"skipped method still logs failure", health, status.Error(codes.Unavailable, "down"), "status_code=Unavailable"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			ic := LoggingUnary(logger, map[string]bool{health: true})
			resp, err := ic(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: tc.method},
				func(context.Context, any) (any, error) { return "resp", tc.err })
			if !errors.Is(err, tc.err) {
				t.Fatalf("err = %v, want %v", err, tc.err)
			}
			if resp != "resp" {
				t.Errorf("resp = %v, want resp", resp)
			}
			out := buf.String()
			if tc.wantLog == "" {
				if out != "" {
					t.Errorf("unexpected log: %s", out)
				}
				return
			}
			if !strings.Contains(out, tc.wantLog) || !strings.Contains(out, "full_method="+tc.method) {
				t.Errorf("log = %q, want %q", out, tc.wantLog)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	if got := ClientIP(context.Background()); got != "" {
		t.Errorf("ClientIP without peer = %q, want empty", got)
	}
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("10.0.0.7"), Port: 5555}})
	if got := ClientIP(ctx); got != "10.0.0.7" {
		t.Errorf("ClientIP = %q, want %q", got, "10.0.0.7")
	}
}
