package handlers

import (
	"encoding/json"
	"net/http"

	"wemeet/internal/cache"
)

// Snapshotter exposes a read-only copy of the state cache
type Snapshotter interface {
	Snapshot() cache.Snapshot
}

// SnapshotHandler serves the cache introspection endpoint for operators.
// It reports group rosters and the active member count, never locations.
type SnapshotHandler struct {
	cache Snapshotter
}

// NewSnapshotHandler creates a snapshot handler
func NewSnapshotHandler(cache Snapshotter) *SnapshotHandler {
	return &SnapshotHandler{cache: cache}
}

// Get handles GET /api/v1/snapshot
func (h *SnapshotHandler) Get(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"snapshot": h.cache.Snapshot(),
	})
}
