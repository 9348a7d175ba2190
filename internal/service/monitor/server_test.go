package monitor

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"proxyrotor/internal/breaker"
	"proxyrotor/internal/rotation"
	"proxyrotor/internal/shared/types"
)

func newTestServer(t *testing.T) (*Server, *breaker.Registry, *rotation.Dispatcher) {
	t.Helper()
	reg := breaker.NewRegistry()
	t.Cleanup(reg.Destroy)
	disp := rotation.NewDispatcher(nil)
	return NewServer(types.MonitorConf{}, reg, disp), reg, disp
}

func TestHandleAggregateMetrics(t *testing.T) {
	s, reg, _ := newTestServer(t)
	reg.GetForProxy("p1").Trip()
	reg.GetForProxy("p2")

	rec := httptest.NewRecorder()
	s.handleAggregateMetrics(rec, httptest.NewRequest("GET", "/api/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}

	var agg breaker.AggregateMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &agg); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if agg.TotalBreakers != 2 || agg.Trips != 1 {
		t.Errorf("unexpected aggregate: %+v", agg)
	}
	if agg.ByState[breaker.StateOpen] != 1 {
		t.Errorf("expected one open breaker, got %+v", agg.ByState)
	}
}

func TestHandleBreakersList(t *testing.T) {
	s, reg, _ := newTestServer(t)
	reg.GetForProxy("p1")

	rec := httptest.NewRecorder()
	s.handleBreakers(rec, httptest.NewRequest("GET", "/api/breakers", nil))

	var list []breaker.Metrics
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if len(list) != 1 || list[0].ID != "proxy-p1" {
		t.Errorf("unexpected breakers list: %+v", list)
	}
}

func TestHandleRotationEndpoints(t *testing.T) {
	s, _, disp := newTestServer(t)
	disp.SetStickyMapping("example.com", "p1", 0)

	rec := httptest.NewRecorder()
	s.handleStickyMappings(rec, httptest.NewRequest("GET", "/api/rotation/sticky", nil))
	var mappings []types.DomainProxyMapping
	if err := json.Unmarshal(rec.Body.Bytes(), &mappings); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if len(mappings) != 1 || mappings[0].ProxyID != "p1" {
		t.Errorf("unexpected sticky mappings: %+v", mappings)
	}

	rec = httptest.NewRecorder()
	s.handleRotationHistory(rec, httptest.NewRequest("GET", "/api/rotation/history", nil))
	var history []types.RotationEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected empty history, got %+v", history)
	}
}

func TestServerDisabledDoesNotListen(t *testing.T) {
	s, _, _ := newTestServer(t)

	// Enabled=false and no port: Start is a no-op and Stop is safe.
	s.Start()
	if s.httpServer != nil {
		t.Error("disabled monitor must not create an HTTP server")
	}
	s.Stop()
}

func TestHubBroadcastNonBlocking(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Stop()

	// No clients connected: broadcasts must never block the caller.
	for i := 0; i < 200; i++ {
		h.BroadcastBreakerEvent(breaker.Event{Type: breaker.EventOpen, BreakerID: "proxy-p1"})
		h.BroadcastRotationEvent(types.RotationEvent{NewProxyID: "p1"})
	}
}
