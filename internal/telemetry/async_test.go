package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/telemetry/domain"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*domain.Event
	emitErr error
	delay   time.Duration
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *domain.Event) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Event(nil), m.events...)
}

// waitEvents polls until the emitter has n events or the deadline passes.
func waitEvents(t *testing.T, m *mockEventEmitter, n int) []*domain.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		events := m.getEvents()
		if len(events) >= n || time.Now().After(deadline) {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	// Should not panic
	EmitAsync(nil, context.Background(), domain.NewEvent(domain.EventClientMessage, "s-1"))
}

func TestEmitAsync_NilEvent(t *testing.T) {
	emitter := &mockEventEmitter{}
	EmitAsync(emitter, context.Background(), nil)
	time.Sleep(10 * time.Millisecond)
	if events := emitter.getEvents(); len(events) != 0 {
		t.Errorf("expected 0 events, got %d", len(events))
	}
}

func TestEmitAsync_SuccessfulEmit(t *testing.T) {
	emitter := &mockEventEmitter{}
	event := domain.NewEvent(domain.EventOperatorMessage, "s-1")
	event.Address = "-100"

	EmitAsync(emitter, context.Background(), event)

	events := waitEvents(t, emitter, 1)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].SessionID != "s-1" {
		t.Errorf("event session_id = %q, want %q", events[0].SessionID, "s-1")
	}
	if events[0].Type != domain.EventOperatorMessage {
		t.Errorf("event type = %q, want %q", events[0].Type, domain.EventOperatorMessage)
	}
}

func TestEmitAsync_SurvivesCancelledContext(t *testing.T) {
	emitter := &mockEventEmitter{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	EmitAsync(emitter, ctx, domain.NewEvent(domain.EventClientMessage, "s-1"))

	if events := waitEvents(t, emitter, 1); len(events) != 1 {
		t.Errorf("expected 1 event after caller cancel, got %d", len(events))
	}
}

func TestEmitAsync_ErrorIsSwallowed(t *testing.T) {
	emitter := &mockEventEmitter{emitErr: errors.New("broker down")}
	EmitAsync(emitter, context.Background(), domain.NewEvent(domain.EventClientMessage, "s-1"))
	if events := waitEvents(t, emitter, 1); len(events) != 1 {
		t.Errorf("expected emit attempt, got %d events", len(events))
	}
}

func TestEmitAsync_ConcurrentAccess(t *testing.T) {
	emitter := &mockEventEmitter{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			EmitAsync(emitter, context.Background(), domain.NewEvent(domain.EventClientMessage, "s-1"))
		}()
	}
	wg.Wait()
	if events := waitEvents(t, emitter, 10); len(events) != 10 {
		t.Errorf("expected 10 events, got %d", len(events))
	}
}

func TestShutdownDrainDuration(t *testing.T) {
	if ShutdownDrainDuration < emitTimeout {
		t.Errorf("ShutdownDrainDuration = %v, want >= %v", ShutdownDrainDuration, emitTimeout)
	}
}

func TestMulti(t *testing.T) {
	a := &mockEventEmitter{}
	b := &mockEventEmitter{emitErr: errors.New("b failed")}
	m := Multi(a, nil, b)

	err := m.Emit(context.Background(), domain.NewEvent(domain.EventClientMessage, "s-1"))
	if err == nil {
		t.Fatal("Multi.Emit should return the joined error")
	}
	if len(a.getEvents()) != 1 || len(b.getEvents()) != 1 {
		t.Errorf("events a=%d b=%d, want 1 each", len(a.getEvents()), len(b.getEvents()))
	}
	if err := Multi().Emit(context.Background(), domain.NewEvent(domain.EventClientMessage, "")); err != nil {
		t.Errorf("empty Multi.Emit = %v, want nil", err)
	}
}
