package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-mystrom/internal/audit"
	"github.com/nerrad567/gray-logic-mystrom/internal/bridges/mystrom"
)

// handleListEntities returns the rendered state of every entity.
// An optional ?platform=switch|sensor filter narrows the list.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	platform := mystrom.Platform(r.URL.Query().Get("platform"))

	entities := s.manager.Entities()
	states := make([]mystrom.EntityState, 0, len(entities))
	for _, ent := range entities {
		if platform != "" && ent.Platform() != platform {
			continue
		}
		states = append(states, ent.State())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entities": states,
		"count":    len(states),
	})
}

// handleGetEntity returns one entity's rendered state.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	ent, err := s.manager.Entity(chi.URLParam(r, "entity_id"))
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ent.State())
}

// serviceRequest is the body of POST /services/{service}.
type serviceRequest struct {
	EntityID string `json:"entity_id"`
	State    *bool  `json:"state,omitempty"`
}

// handleCallService runs a command against an entity.
//
// Lookup failures answer 404 without contacting any device; device
// failures answer 502. On success the entity's state after the follow-up
// refresh is returned.
func (s *Server) handleCallService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "service")
	cmd, err := mystrom.ParseCommand(name)
	if err != nil {
		writeNotFound(w, "unknown service: "+name)
		return
	}

	var req serviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.EntityID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "entity_id is required")
		return
	}

	state := false
	if cmd == mystrom.CommandSetRelayState {
		if req.State == nil {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "state is required for set_relay_state")
			return
		}
		state = *req.State
	}

	err = s.commands.Execute(r.Context(), req.EntityID, cmd, state)
	s.recordAudit(r, audit.Record{
		Action:   audit.ActionServiceCall,
		EntityID: req.EntityID,
		Details:  serviceDetails(name, cmd, state),
	}, err)
	if err != nil {
		var lookupErr *mystrom.LookupError
		if !errors.As(err, &lookupErr) {
			s.logger.Warn("service call failed", "service", name, "entity_id", req.EntityID, "error", err)
		}
		writeBridgeError(w, err)
		return
	}

	resp := map[string]any{
		"status":    "accepted",
		"service":   name,
		"entity_id": req.EntityID,
	}
	if ent, err := s.manager.Entity(req.EntityID); err == nil {
		resp["state"] = ent.State()
	}
	writeJSON(w, http.StatusOK, resp)
}

func serviceDetails(service string, cmd mystrom.Command, state bool) map[string]any {
	details := map[string]any{"service": service}
	if cmd == mystrom.CommandSetRelayState {
		details["state"] = state
	}
	return details
}
