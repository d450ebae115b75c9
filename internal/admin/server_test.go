package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tpwsn-sim/internal/config"
	"tpwsn-sim/internal/host"
	"tpwsn-sim/internal/sim"
	"tpwsn-sim/internal/telemetry"
)

func newTestRun(t *testing.T) *sim.Controller {
	t.Helper()
	cfg := &config.ExperimentConfig{
		Protocol: "trickle",
		Seed:     1,
		Topology: config.Topology{Grid: 2, Spacing: 40, TxRange: 50},
	}
	cfg.ApplyDefaults()
	c, err := sim.NewController(context.Background(), cfg, cfg.Graph(), host.NewTraceHost(strings.NewReader("")), nil, sim.WithRunID("run-7"))
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	return c
}

func TestHandleStatus(t *testing.T) {
	run := newTestRun(t)
	if _, err := run.HandleEvent(context.Background(), host.Event{Node: 1, Time: 10, Msg: "Trickle TX"}); err != nil {
		t.Fatalf("event: %v", err)
	}
	server := NewServer(run)

	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var st sim.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.RunID != "run-7" || st.Tick != 10 || st.Total != 4 || st.Events != 1 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestHandleTopology(t *testing.T) {
	server := NewServer(newTestRun(t))
	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/topology", nil))
	var nodes []sim.NodeState
	if err := json.NewDecoder(w.Body).Decode(&nodes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(nodes) != 4 {
		t.Fatalf("expected 4 motes, got %d", len(nodes))
	}
	for _, n := range nodes {
		if len(n.Neighbors) != 2 {
			t.Errorf("mote %d has %d neighbours, want 2", n.ID, len(n.Neighbors))
		}
	}
}

func TestHandleSummaryAfterFinish(t *testing.T) {
	run := newTestRun(t)
	run.Finish(context.Background(), telemetry.ReasonCancelled)
	server := NewServer(run)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/summary", nil))
	var s telemetry.SummaryRow
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Reason != telemetry.ReasonCancelled || s.Total != 4 {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestHandleIndex(t *testing.T) {
	server := NewServer(newTestRun(t))
	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "Run run-7") || !strings.Contains(body, "trickle") {
		t.Errorf("index missing run details: %s", body)
	}

	w = httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d", w.Code)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	server := NewServer(newTestRun(t))
	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan net.Addr, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx, "127.0.0.1:0", func(a net.Addr) { addrCh <- a }) }()

	var addr net.Addr
	select {
	case addr = <-addrCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}
	resp, err := http.Get(fmt.Sprintf("http://%s/status", addr))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
