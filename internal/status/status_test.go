package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func testSnapshot() Snapshot {
	return Snapshot{ActiveSessions: 3, Processed: 10, Successful: 7, AdmissionCap: 128}
}

func TestHealthHandler(t *testing.T) {
	srv := New(testSnapshot, zap.NewNop().Sugar())
	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field = %q, want healthy", body["status"])
	}
}

func TestStatusHandlerReflectsSnapshot(t *testing.T) {
	srv := New(testSnapshot, zap.NewNop().Sugar())
	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["active_sessions"] != 3 || body["processed"] != 10 || body["successful"] != 7 || body["admission_cap"] != 128 {
		t.Errorf("unexpected status body: %+v", body)
	}
}

func TestMetricsHandlerIsPlainText(t *testing.T) {
	srv := New(testSnapshot, zap.NewNop().Sugar())
	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 1024)
	n, _ := resp.Body.Read(buf)
	body := string(buf[:n])

	if !strings.Contains(body, "fingerprinter_processed_total 10") {
		t.Errorf("missing processed metric: %q", body)
	}
	if !strings.Contains(body, "fingerprinter_admission_cap 128") {
		t.Errorf("missing admission_cap metric: %q", body)
	}
}

func TestNoControlEndpoints(t *testing.T) {
	srv := New(testSnapshot, zap.NewNop().Sugar())
	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	for _, path := range []string{"/scan/start", "/scan/stop", "/scan/target"} {
		resp, err := http.Post(ts.URL+path, "application/json", nil)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("POST %s = %d, want 404 (no control endpoints)", path, resp.StatusCode)
		}
	}
}
