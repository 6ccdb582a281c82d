// Package server assembles the public HTTP surface and the admin gRPC server.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPDeps are the handlers and checks mounted on the public HTTP server.
type HTTPDeps struct {
	// AllowOrigin is sent as Access-Control-Allow-Origin.
	AllowOrigin string
	// WebSocket serves GET /ws.
	WebSocket http.Handler
	// Webhook serves POST /operator/webhook. If nil, the route is not mounted.
	Webhook http.Handler
	// Ready backs GET /readyz. If nil, the bridge always reports ready.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
	Now    func() time.Time
}

type whoami struct {
	OK         bool   `json:"ok"`
	CORSOrigin string `json:"cors_origin"`
	Time       string `json:"time"`
}

// NewHTTPHandler returns the gin engine serving the bridge's HTTP routes.
func NewHTTPHandler(deps HTTPDeps) *gin.Engine {
	if deps.AllowOrigin == "" {
		deps.AllowOrigin = "*"
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger.With("component", "http")

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger), cors(deps.AllowOrigin))

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "rouyeshno-bridge up")
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		if deps.Ready != nil {
			if err := deps.Ready(c.Request.Context()); err != nil {
				c.String(http.StatusServiceUnavailable, "not ready")
				return
			}
		}
		c.String(http.StatusOK, "ready")
	})
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, whoami{
			OK:         true,
			CORSOrigin: deps.AllowOrigin,
			Time:       deps.Now().UTC().Format(time.RFC3339),
		})
	})
	if deps.WebSocket != nil {
		r.GET("/ws", gin.WrapH(deps.WebSocket))
	}
	if deps.Webhook != nil {
		r.POST("/operator/webhook", gin.WrapH(deps.Webhook))
	}
	return r
}

func cors(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, X-Session-Id")
		if origin != "*" {
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestLogger logs completed requests. Health probes are logged at debug.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelInfo
		switch c.FullPath() {
		case "/healthz", "/readyz":
			level = slog.LevelDebug
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP())
	}
}
