package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"wemeet/internal/cache"
)

type stubChecker struct {
	err error
}

func (s *stubChecker) Ready(ctx context.Context) error { return s.err }

func TestLiveness(t *testing.T) {
	h := NewHealthHandler(&stubChecker{})

	w := httptest.NewRecorder()
	h.Liveness(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", resp["status"])
	}
}

func TestReadiness_Ready(t *testing.T) {
	h := NewHealthHandler(&stubChecker{})

	w := httptest.NewRecorder()
	h.Readiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestReadiness_StoreDown(t *testing.T) {
	h := NewHealthHandler(&stubChecker{err: errors.New("bucket unreachable")})

	w := httptest.NewRecorder()
	h.Readiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["status"] != "unready" {
		t.Errorf("Expected status unready, got %v", resp["status"])
	}
}

type stubSnapshotter struct {
	snap cache.Snapshot
}

func (s *stubSnapshotter) Snapshot() cache.Snapshot { return s.snap }

func TestSnapshotHandler(t *testing.T) {
	h := NewSnapshotHandler(&stubSnapshotter{snap: cache.Snapshot{
		Groups:        map[string][]string{"ACME": {"alice", "bob"}},
		ActiveMembers: 2,
	}})

	w := httptest.NewRecorder()
	h.Get(w, httptest.NewRequest(http.MethodGet, "/api/v1/snapshot", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	var resp struct {
		Success  bool           `json:"success"`
		Snapshot cache.Snapshot `json:"snapshot"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Success {
		t.Error("Expected success response")
	}
	if resp.Snapshot.ActiveMembers != 2 || len(resp.Snapshot.Groups["ACME"]) != 2 {
		t.Errorf("Unexpected snapshot payload: %+v", resp.Snapshot)
	}
}
