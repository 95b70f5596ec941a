package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-mystrom/internal/audit"
	"github.com/nerrad567/gray-logic-mystrom/internal/bridges/mystrom"
)

// deviceResponse is the API view of one set-up device.
type deviceResponse struct {
	ID          string             `json:"id"`
	UniqueID    string             `json:"unique_id"`
	Host        string             `json:"host"`
	Name        string             `json:"name"`
	MAC         string             `json:"mac,omitempty"`
	DeviceType  string             `json:"device_type,omitempty"`
	Device      mystrom.DeviceInfo `json:"device"`
	Available   bool               `json:"available"`
	Stale       bool               `json:"stale"`
	Status      *mystrom.Status    `json:"status,omitempty"`
	Error       string             `json:"error,omitempty"`
	LastUpdate  *time.Time         `json:"last_update,omitempty"`
	LastSuccess *time.Time         `json:"last_success,omitempty"`
	Entities    []string           `json:"entities"`
}

func newDeviceResponse(e *mystrom.Entry) deviceResponse {
	snap := e.Coordinator.Snapshot()
	resp := deviceResponse{
		ID:         e.ID,
		UniqueID:   e.UniqueID,
		Host:       e.Config.Host,
		Name:       e.Config.Name,
		MAC:        e.Config.MAC,
		DeviceType: string(e.Config.DeviceType),
		Device:     e.Device,
		Available:  snap.Available(),
		Stale:      snap.Stale(),
		Status:     snap.Status,
		Entities:   make([]string, 0, len(e.Entities)),
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	if !snap.LastUpdate.IsZero() {
		resp.LastUpdate = &snap.LastUpdate
	}
	if !snap.LastSuccess.IsZero() {
		resp.LastSuccess = &snap.LastSuccess
	}
	for _, ent := range e.Entities {
		resp.Entities = append(resp.Entities, ent.EntityID())
	}
	return resp
}

// createDeviceRequest is the body of POST /devices.
type createDeviceRequest struct {
	Host       string `json:"host"`
	Name       string `json:"name"`
	MAC        string `json:"mac"`
	DeviceType string `json:"device_type"`
	UniqueID   string `json:"unique_id"`

	// ValidateOnly checks the device answers without setting it up.
	ValidateOnly bool `json:"validate_only"`
}

// handleListDevices returns all set-up devices.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	entries := s.manager.Entries()
	devices := make([]deviceResponse, 0, len(entries))
	for _, e := range entries {
		devices = append(devices, newDeviceResponse(e))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device by entry ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	entry, err := s.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDeviceResponse(entry))
}

// handleCreateDevice validates a device and sets it up.
//
// With validate_only (body field or query parameter) the normalised config (MAC and type filled from the
// device report) is returned without setting anything up.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cfg := mystrom.EntryConfig{
		Host:       req.Host,
		Name:       req.Name,
		MAC:        req.MAC,
		DeviceType: mystrom.DeviceType(req.DeviceType),
		UniqueID:   req.UniqueID,
	}

	if v := r.URL.Query().Get("validate_only"); v != "" {
		only, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "validate_only must be a boolean")
			return
		}
		req.ValidateOnly = req.ValidateOnly || only
	}

	if req.ValidateOnly {
		validated, err := s.manager.Validate(r.Context(), cfg)
		if err != nil {
			writeBridgeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, validated)
		return
	}

	entry, err := s.manager.Setup(r.Context(), cfg)
	if err != nil {
		s.logger.Warn("device setup failed", "host", req.Host, "error", err)
		s.recordAudit(r, audit.Record{
			Action:  audit.ActionDeviceAdded,
			Details: map[string]any{"host": req.Host},
		}, err)
		writeBridgeError(w, err)
		return
	}
	s.recordAudit(r, audit.Record{
		Action:  audit.ActionDeviceAdded,
		EntryID: entry.ID,
		Details: map[string]any{"host": entry.Config.Host, "unique_id": entry.UniqueID},
	}, nil)

	s.logger.Info("device added via API", "entry_id", entry.ID, "host", entry.Config.Host)
	writeJSON(w, http.StatusCreated, newDeviceResponse(entry))
}

// handleDeleteDevice unloads a device and deletes its records.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.manager.Remove(r.Context(), id)
	s.recordAudit(r, audit.Record{Action: audit.ActionDeviceRemoved, EntryID: id}, err)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	s.logger.Info("device removed via API", "entry_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleRefreshDevice polls a device now and returns the result.
// A failed poll answers 502 with the device view in the error message.
func (s *Server) handleRefreshDevice(w http.ResponseWriter, r *http.Request) {
	entry, err := s.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeBridgeError(w, err)
		return
	}

	if _, err := entry.Coordinator.Refresh(r.Context()); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDeviceResponse(entry))
}

// handleDeviceStats returns device availability and registry counts.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	managed, available := s.manager.DeviceCounts()
	resp := map[string]any{
		"managed":     managed,
		"available":   available,
		"unavailable": managed - available,
		"entities":    len(s.manager.Entities()),
	}
	if s.registry != nil {
		resp["registry"] = s.registry.GetStats()
	}
	writeJSON(w, http.StatusOK, resp)
}
