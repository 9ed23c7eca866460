package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Requests
	mux.Handle("POST /api/v1/requests", chain(http.HandlerFunc(h.CreateRequest)))
	mux.Handle("GET /api/v1/requests", chain(http.HandlerFunc(h.ListRequests)))
	mux.Handle("GET /api/v1/requests/{id}", chain(http.HandlerFunc(h.GetRequest)))
	mux.Handle("POST /api/v1/requests/{id}/cancel", chain(http.HandlerFunc(h.CancelRequest)))
	mux.Handle("GET /api/v1/requests/{id}/tasks", chain(http.HandlerFunc(h.ListRequestTasks)))
	mux.Handle("GET /api/v1/requests/{id}/events", chain(http.HandlerFunc(h.ListRequestEvents)))
	mux.Handle("GET /api/v1/requests/{id}/artifacts", chain(http.HandlerFunc(h.ListRequestArtifacts)))

	// Artifacts
	mux.Handle("GET /api/v1/artifacts/{key...}", chain(http.HandlerFunc(h.DownloadArtifact)))

	// Portals
	mux.Handle("GET /api/v1/portals", chain(http.HandlerFunc(h.ListPortals)))
}
