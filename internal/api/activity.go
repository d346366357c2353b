package api

import (
	"net/http"
	"strconv"

	"github.com/fieldgrid/dispatch-core/internal/activity"
)

// handleListActivity returns the activity log, most recent first.
// Query parameters: kind, device_id, limit, offset.
func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	if s.activity == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "activity log is disabled")
		return
	}

	q := r.URL.Query()
	filter := activity.Filter{
		Kind:     q.Get("kind"),
		DeviceID: q.Get("device_id"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
		filter.Offset = offset
	}

	result, err := s.activity.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("activity query failed", "error", err)
		writeInternalError(w, "failed to query activity log")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
