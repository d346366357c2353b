package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldgrid/dispatch-core/internal/activity"
	"github.com/fieldgrid/dispatch-core/internal/dispatch"
)

// submitCommandRequest is the body for POST /devices/{id}/commands.
type submitCommandRequest struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`

	// ConnectionID is the submitting client's WebSocket connection, used
	// by the device to address its response. Optional.
	ConnectionID string `json:"connection_id,omitempty"`
}

// handleSubmitCommand enqueues a command for an online device.
//
// The command is accepted (202) once queued; delivery happens
// asynchronously over the device's stream. An offline device yields 409,
// a saturated queue 503. The submitter is never blocked on the device.
func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	var req submitCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}

	cmd := dispatch.Command{
		ID:           dispatch.NewCommandID(),
		DeviceID:     deviceID,
		Name:         req.Name,
		Params:       req.Params,
		ConnectionID: req.ConnectionID,
	}

	err := s.coordinator.Enqueue(deviceID, func() (dispatch.ServerMessage, error) {
		// IssuedAt reflects send time, not submission time.
		cmd.IssuedAt = time.Now().UTC()
		return dispatch.ServerMessage{Type: dispatch.TypeCommand, Command: &cmd}, nil
	})

	switch {
	case errors.Is(err, dispatch.ErrChannelNotRegistered):
		writeError(w, http.StatusConflict, ErrCodeChannelNotRegistered,
			"device has no active channel")
		return
	case errors.Is(err, dispatch.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, ErrCodeQueueFull,
			"device queue is full")
		return
	case err != nil:
		writeInternalError(w, "failed to enqueue command")
		return
	}

	s.recordActivity(r.Context(), &activity.Entry{
		Kind:     activity.KindCommandSubmitted,
		DeviceID: deviceID,
		UserID:   userIDFromContext(r.Context()),
		Details: map[string]any{
			"command_id": cmd.ID,
			"name":       cmd.Name,
		},
	})

	writeJSON(w, http.StatusAccepted, map[string]any{
		"command_id": cmd.ID,
		"device_id":  deviceID,
		"status":     "queued",
	})
}

// handleClearCommands drops a device's pending commands without touching
// its channel.
func (s *Server) handleClearCommands(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	s.coordinator.Clear(deviceID)
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"status":    "cleared",
	})
}

// handleOnlineDevices lists devices with an active channel.
func (s *Server) handleOnlineDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.coordinator.OnlineDevices()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleDeviceStatus reports a single device's presence.
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	online := s.coordinator.Online(deviceID)

	resp := map[string]any{
		"device_id": deviceID,
		"online":    online,
	}
	if online {
		resp["addr"] = s.coordinator.Addr(deviceID)
	}
	writeJSON(w, http.StatusOK, resp)
}

// recordActivity writes an activity entry, logging rather than failing the
// request on error. No-op when the activity repository is absent.
func (s *Server) recordActivity(ctx context.Context, entry *activity.Entry) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Record(ctx, entry); err != nil {
		s.logger.Warn("activity record failed", "kind", entry.Kind, "error", err)
	}
}
