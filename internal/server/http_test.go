package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHTTP_PlainRoutes(t *testing.T) {
	h := NewHTTPHandler(HTTPDeps{})
	testCases := []struct {
		path string
		want string
	}{
		{"/", "rouyeshno-bridge up"},
		{"/healthz", "ok"},
		{"/readyz", "ready"},
	}
	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			rec := do(h, http.MethodGet, tc.path)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if rec.Body.String() != tc.want {
				t.Errorf("body = %q, want %q", rec.Body.String(), tc.want)
			}
		})
	}
}

func TestHTTP_ReadyzReportsStore(t *testing.T) {
	h := NewHTTPHandler(HTTPDeps{Ready: func(context.Context) error { return errors.New("redis down") }})
	if rec := do(h, http.MethodGet, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHTTP_Whoami(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	h := NewHTTPHandler(HTTPDeps{AllowOrigin: "https://shop.example", Now: func() time.Time { return now }})
	rec := do(h, http.MethodGet, "/whoami")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got whoami
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if !got.OK || got.CORSOrigin != "https://shop.example" || got.Time != "2026-03-04T05:06:07Z" {
		t.Errorf("whoami = %+v", got)
	}
	if o := rec.Header().Get("Access-Control-Allow-Origin"); o != "https://shop.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", o)
	}
}

func TestHTTP_Preflight(t *testing.T) {
	h := NewHTTPHandler(HTTPDeps{})
	rec := do(h, http.MethodOptions, "/ws")
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if o := rec.Header().Get("Access-Control-Allow-Origin"); o != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", o)
	}
}

func TestHTTP_MountsHandlers(t *testing.T) {
	var wsHits, hookHits int
	h := NewHTTPHandler(HTTPDeps{
		WebSocket: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { wsHits++ }),
		Webhook:   http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { hookHits++ }),
	})
	do(h, http.MethodGet, "/ws")
	do(h, http.MethodPost, "/operator/webhook")
	if wsHits != 1 || hookHits != 1 {
		t.Errorf("ws hits = %d, webhook hits = %d; want 1 and 1", wsHits, hookHits)
	}

	bare := NewHTTPHandler(HTTPDeps{})
	if rec := do(bare, http.MethodPost, "/operator/webhook"); rec.Code != http.StatusNotFound {
		t.Errorf("webhook without handler: status = %d, want 404", rec.Code)
	}
}
