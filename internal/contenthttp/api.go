// Package contenthttp exposes read-only information about the active content snapshot.
package contenthttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/greenleafcpa/greenleaf-web/internal/content"
	"github.com/greenleafcpa/greenleaf-web/internal/log"
)

// SnapshotProvider defines the interface for getting content snapshots
type SnapshotProvider interface {
	Get() (*content.Snapshot, bool)
}

// API implements the content summary endpoint
type API struct {
	content SnapshotProvider
	logger  log.Logger
	now     func() time.Time
}

// NewAPI creates a new content API handler
func NewAPI(content SnapshotProvider, logger log.Logger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{
		content: content,
		logger:  logger,
		now:     time.Now,
	}
}

// RegisterRoutes attaches content endpoints relative to where r is mounted (normally /api).
func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/content/summary", api.HandleContentSummary)
}

// SummaryResponse describes the snapshot currently being served
type SummaryResponse struct {
	Revision   string         `json:"revision"`
	Source     content.Source `json:"source"`
	LoadedAt   time.Time      `json:"loaded_at"`
	ServerTime time.Time      `json:"server_time"`
	Counts     content.Counts `json:"counts"`
}

type errorResponse struct {
	Error      string    `json:"error"`
	ServerTime time.Time `json:"server_time"`
}

// HandleContentSummary serves the active revision, its source and document counts
func (api *API) HandleContentSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverTime := api.now().UTC().Truncate(time.Second)

	snap, ok := api.content.Get()
	if !ok {
		api.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{
			Error:      "no content loaded",
			ServerTime: serverTime,
		})
		return
	}

	resp := SummaryResponse{
		Revision:   snap.Revision,
		Source:     snap.Source,
		LoadedAt:   snap.LoadedAt.UTC().Truncate(time.Second),
		ServerTime: serverTime,
		Counts:     snap.Counts(),
	}

	api.logger.Debug(ctx, "served content summary", "revision", resp.Revision)
	api.writeJSON(ctx, w, http.StatusOK, resp)
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
