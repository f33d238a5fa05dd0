package handler

import (
	"context"
	"net/http"

	apperrors "github.com/tasknexus/backend/internal/errors"
	"github.com/tasknexus/backend/internal/sync/scheduler"
)

// SyncHandler exposes the sync admin endpoints: trigger a cycle,
// inspect status, and read the pending-changes count.
type SyncHandler struct {
	scheduler *scheduler.Scheduler
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(sched *scheduler.Scheduler) *SyncHandler {
	return &SyncHandler{scheduler: sched}
}

// HandleTriggerSync handles POST /api/v1/sync requests. The cycle runs
// in the background; poll the status endpoint for the result.
func (h *SyncHandler) HandleTriggerSync(w http.ResponseWriter, r *http.Request) {
	// The cycle outlives this request, so it must not inherit the
	// request context.
	if !h.scheduler.TriggerSync(context.Background()) {
		writeError(w, apperrors.New(apperrors.ErrSyncInProgress, "sync cycle already in progress"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync started"})
}

// HandleSyncNow handles POST /api/v1/sync/now requests: run a full
// cycle synchronously and return its result.
func (h *SyncHandler) HandleSyncNow(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.SyncNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleSyncStatus handles GET /api/v1/sync/status requests.
func (h *SyncHandler) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.GetStatus())
}
