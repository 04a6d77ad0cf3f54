package api

import "net/http"

// registerAPIRoutes registers all API endpoints on the given mux.
func registerAPIRoutes(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("GET /api/cache-paths", h.CachePaths)

	mux.HandleFunc("POST /api/scan", h.Scan)
	mux.HandleFunc("GET /api/scan/stream", h.ScanStream)
	mux.HandleFunc("GET /api/resources", h.Resources)

	mux.HandleFunc("POST /api/recover", h.Recover)
	mux.HandleFunc("GET /api/recover/stream", h.RecoverStream)
	mux.HandleFunc("POST /api/recover/cancel", h.RecoverCancel)

	mux.HandleFunc("GET /api/config", h.GetConfig)
	mux.HandleFunc("PUT /api/config", h.UpdateConfig)
}

// NewRouter creates a new HTTP router with all API endpoints registered.
// There is no bundled web UI; callers embedding one can still mount it
// at "/" on the returned mux before serving.
func NewRouter(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	registerAPIRoutes(mux, h)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return mux
}
