package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/allaspectsdev/mlxd/internal/config"
	"github.com/allaspectsdev/mlxd/internal/store"
)

func setupStatusServer(t *testing.T) (*StatusServer, *Collector) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	collector := NewCollector()
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = t.TempDir()

	s := NewStatusServer(collector, st, cfg, ":0")
	return s, collector
}

func TestStatusServer_HealthEndpoint(t *testing.T) {
	s, _ := setupStatusServer(t)

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status: got %q, want %q", body["status"], "ok")
	}
}

func TestStatusServer_StatsEndpoint(t *testing.T) {
	s, collector := setupStatusServer(t)
	collector.IncrementActive()

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusOK)
	}

	var stats Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if stats.TotalRequests != 0 {
		t.Errorf("TotalRequests: got %d, want 0", stats.TotalRequests)
	}
}

func TestStatusServer_GenerationsEndpoint_Empty(t *testing.T) {
	s, _ := setupStatusServer(t)

	req := httptest.NewRequest("GET", "/api/generations", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if body["page"] != float64(1) {
		t.Errorf("page: got %v, want 1", body["page"])
	}
}

func TestStatusServer_ConfigEndpoint(t *testing.T) {
	s, _ := setupStatusServer(t)

	req := httptest.NewRequest("GET", "/api/config", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusOK)
	}

	body := w.Body.String()
	if strings.Contains(body, `"token":"`) && !strings.Contains(body, `"token":"****"`) {
		t.Error("config response should redact the auth token when set")
	}
}

func TestStatusServer_MetricsEndpoint(t *testing.T) {
	s, collector := setupStatusServer(t)
	collector.RecordError("timeout")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusOK)
	}

	body := w.Body.String()
	if !strings.Contains(body, "mlxd_") {
		t.Error("metrics endpoint should contain mlxd_ prefixed metrics")
	}
}

func TestStatusServer_StatsHistoryEndpoint(t *testing.T) {
	s, _ := setupStatusServer(t)

	req := httptest.NewRequest("GET", "/api/stats/history?range=7d", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusOK)
	}
}

func TestStatusServer_StatsHistoryBadRange(t *testing.T) {
	s, _ := setupStatusServer(t)

	req := httptest.NewRequest("GET", "/api/stats/history?range=abc", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestStatusServer_GenerationNotFound(t *testing.T) {
	s, _ := setupStatusServer(t)

	req := httptest.NewRequest("GET", "/api/generations/does-not-exist", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestParseDurationParam(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"7d", false},
		{"1d", false},
		{"30d", false},
		{"24h", false},
		{"abc", true},
	}

	for _, tt := range tests {
		_, err := parseDurationParam(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDurationParam(%q): err=%v, wantErr=%v", tt.input, err, tt.wantErr)
		}
	}
}
