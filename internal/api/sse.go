package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cachephoenix/cachephoenix/internal/model"
	"github.com/cachephoenix/cachephoenix/internal/scan"
)

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, data interface{}) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", encoded)
	flusher.Flush()
}

// ScanStream handles GET /api/scan/stream (SSE endpoint). It drives the
// scan itself rather than subscribing to one already running, since
// scan.Scanner reports progress via callback rather than a broadcast
// channel.
func (h *Handler) ScanStream(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = h.cfg.CachePath
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)

	progressCh := make(chan scan.Progress, 16)
	done := make(chan struct{})
	var resources []model.Resource
	var scanErr error
	go func() {
		defer close(done)
		resources, scanErr = h.scanner.Scan(r.Context(), path, func(p scan.Progress) {
			select {
			case progressCh <- p:
			default:
			}
		})
		close(progressCh)
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case p, ok := <-progressCh:
			if !ok {
				continue
			}
			writeSSE(w, flusher, map[string]interface{}{"type": "progress", "progress": p})
		case <-done:
			if scanErr != nil {
				writeSSE(w, flusher, map[string]string{"type": "error", "error": scanErr.Error()})
				return
			}
			h.mu.Lock()
			h.resources = resources
			h.mu.Unlock()
			writeSSE(w, flusher, map[string]interface{}{"type": "done", "resources": resources})
			return
		}
	}
}

// RecoverStream handles GET /api/recover/stream (SSE endpoint).
func (h *Handler) RecoverStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)

	eventCh := h.driver.Subscribe()
	defer h.driver.Unsubscribe(eventCh)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			writeSSE(w, flusher, map[string]interface{}{"type": "progress", "progress": event})
		}
	}
}
