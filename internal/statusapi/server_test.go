package statusapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func testStatusLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeProvider struct {
	position     int32
	lastReqID    uint64
	shuttingDown bool
}

func (f fakeProvider) Position() int32     { return f.position }
func (f fakeProvider) LastReqID() uint64   { return f.lastReqID }
func (f fakeProvider) ShuttingDown() bool  { return f.shuttingDown }

func TestHandleHealthzReturnsOK(t *testing.T) {
	t.Parallel()
	s := NewServer(0, fakeProvider{}, NewMetrics(), testStatusLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handleHealthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestHandleStatusReportsProviderSnapshot(t *testing.T) {
	t.Parallel()
	provider := fakeProvider{position: -5, lastReqID: 42, shuttingDown: true}
	s := NewServer(0, provider, NewMetrics(), testStatusLogger())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	var got statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.Position != -5 || got.LastRequestID != 42 || !got.ShuttingDown {
		t.Errorf("got %+v, want position=-5 last_request_id=42 shutting_down=true", got)
	}
}

func TestNewMetricsRegistersDistinctRegistries(t *testing.T) {
	t.Parallel()
	a := NewMetrics()
	b := NewMetrics()

	a.Position.Set(3)
	b.Position.Set(7)

	gathered, err := a.registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var found bool
	for _, mf := range gathered {
		if mf.GetName() == "derivquoter_position" {
			found = true
			if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 3 {
				t.Errorf("registry a position = %v, want 3 (should not see b's value)", got)
			}
		}
	}
	if !found {
		t.Fatal("derivquoter_position metric not found in registry a")
	}
}
