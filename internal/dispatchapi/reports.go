package dispatchapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	gocache "github.com/patrickmn/go-cache"

	"github.com/linnemanlabs/warden/internal/workflow"
)

type inboxResponse struct {
	DispatcherID string                 `json:"dispatcher_id"`
	Alerts       []*workflow.InboxEntry `json:"alerts"`
}

func (a *API) handleInbox(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entries, err := a.svc.GetDispatcherInbox(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to load inbox", "dispatcher_id", id)
		return
	}
	respondJSON(w, http.StatusOK, inboxResponse{DispatcherID: id, Alerts: entries})
}

// handleStatistics serves the trailing-window rollup. Aggregation rescans
// every alert in the window, so results are cached for statsCacheTTL and
// concurrent dashboards share one scan.
func (a *API) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if cached, ok := a.stats.Get(statsCacheKey); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	st, err := a.svc.GetWorkflowStatistics(r.Context())
	if err != nil {
		a.writeError(w, r, err, "failed to aggregate statistics")
		return
	}

	a.stats.Set(statsCacheKey, st, gocache.DefaultExpiration)
	respondJSON(w, http.StatusOK, st)
}
