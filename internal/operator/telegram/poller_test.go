package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/operator"
)

func TestPoller_DeliversAndAdvancesOffset(t *testing.T) {
	var (
		mu      sync.Mutex
		offsets []float64
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		offsets = append(offsets, body["offset"].(float64))
		first := len(offsets) == 1
		mu.Unlock()
		if first {
			w.Write([]byte(`{"ok":true,"result":[
				{"update_id":100,"message":{"chat":{"id":-1},"text":"a"}},
				{"update_id":101},
				{"update_id":102,"message":{"chat":{"id":-1},"text":"b"}}]}`))
			return
		}
		select {
		case <-r.Context().Done():
		case <-time.After(50 * time.Millisecond):
		}
		w.Write([]byte(`{"ok":true,"result":[]}`))
	}))
	defer server.Close()

	got := make(chan operator.Inbound, 4)
	h := operator.HandlerFunc(func(_ context.Context, in operator.Inbound) error {
		got <- in
		return nil
	})
	p := NewPoller(NewClient("t", server.URL), h, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	var texts []string
	for len(texts) < 2 {
		select {
		case in := <-got:
			texts = append(texts, in.Text)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for updates")
		}
	}
	if strings.Join(texts, ",") != "a,b" {
		t.Errorf("texts = %v, want [a b]", texts)
	}

	// Wait for the follow-up poll so the offset is observable.
	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(offsets)
		mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v, want nil after cancel", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(offsets) < 2 {
		t.Fatalf("polls = %d, want at least 2", len(offsets))
	}
	if offsets[0] != 0 || offsets[1] != 103 {
		t.Errorf("offsets = %v, want [0 103 ...]", offsets)
	}
}

func TestPoller_NotConfiguredStops(t *testing.T) {
	p := NewPoller(NewClient("", "http://127.0.0.1:1"), operator.HandlerFunc(func(context.Context, operator.Inbound) error { return nil }), time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Run(ctx); err == nil {
		t.Fatal("Run without token should return an error")
	}
}
