// Package api exposes the HTTP surface around the scanner and the recovery
// driver: start a scan, stream its progress, list the resulting resources,
// start recovery over a selection, stream recovery progress, and
// read/update config.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/cachephoenix/cachephoenix/internal/cachepaths"
	"github.com/cachephoenix/cachephoenix/internal/config"
	"github.com/cachephoenix/cachephoenix/internal/model"
	"github.com/cachephoenix/cachephoenix/internal/recovery"
	"github.com/cachephoenix/cachephoenix/internal/scan"
)

// Handler provides the HTTP API handlers for the recovery engine.
type Handler struct {
	scanner *scan.Scanner
	driver  *recovery.Driver
	cfg     *config.Config
	cfgPath string

	mu            sync.RWMutex
	resources     []model.Resource
	cancelRecover context.CancelFunc
}

// NewHandler creates a new API handler.
func NewHandler(scanner *scan.Scanner, driver *recovery.Driver, cfg *config.Config, cfgPath string) *Handler {
	return &Handler{
		scanner: scanner,
		driver:  driver,
		cfg:     cfg,
		cfgPath: cfgPath,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// CachePaths handles GET /api/cache-paths.
func (h *Handler) CachePaths(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cachepaths.CandidatePaths())
}

// ScanRequest is the request body for POST /api/scan.
type ScanRequest struct {
	Path string `json:"path"`
}

// Scan handles POST /api/scan. It runs the scan to completion and stores
// the result for GET /api/resources; progress is separately observable via
// GET /api/scan/stream.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		req.Path = h.cfg.CachePath
	}

	resources, err := h.scanner.Scan(r.Context(), req.Path, nil)
	if err != nil {
		if err == scan.ErrScanInProgress {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.mu.Lock()
	h.resources = resources
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "complete",
		"count":  len(resources),
	})
}

// Resources handles GET /api/resources.
func (h *Handler) Resources(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	resources := h.resources
	h.mu.RUnlock()
	writeJSON(w, http.StatusOK, resources)
}

// RecoverRequest is the request body for POST /api/recover.
type RecoverRequest struct {
	ResourceIDs []string `json:"resource_ids"`
}

func (h *Handler) selectedResources(ids []string) []model.Resource {
	h.mu.RLock()
	defer h.mu.RUnlock()

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []model.Resource
	for _, r := range h.resources {
		if wanted[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

// Recover handles POST /api/recover.
func (h *Handler) Recover(w http.ResponseWriter, r *http.Request) {
	var req RecoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	selected := h.selectedResources(req.ResourceIDs)
	if len(selected) == 0 {
		writeError(w, http.StatusBadRequest, "no matching resources selected")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "running",
		"count":  len(selected),
	})

	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		h.mu.Lock()
		h.cancelRecover = cancel
		h.mu.Unlock()
		defer cancel()

		if _, err := h.driver.Recover(ctx, selected); err != nil {
			// Recover's own error (another recovery already running, or an
			// output directory that cannot be created) is not reported to
			// clients; per-resource errors reach SSE subscribers through the
			// driver's broadcast.
			_ = err
		}
	}()
}

// RecoverCancel handles POST /api/recover/cancel.
func (h *Handler) RecoverCancel(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	cancel := h.cancelRecover
	h.mu.Unlock()

	if cancel == nil {
		writeError(w, http.StatusConflict, "no recovery in progress")
		return
	}
	cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// GetConfig handles GET /api/config.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg)
}

// UpdateConfig handles PUT /api/config.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var updated config.Config
	if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	*h.cfg = updated

	if h.cfgPath != "" {
		if err := h.cfg.Save(h.cfgPath); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save config: %v", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
