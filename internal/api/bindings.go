package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hearthward/myq-sync/internal/bridge"
)

// bindingPatchRequest carries the caller-editable binding fields.
// Absent fields are left unchanged.
type bindingPatchRequest struct {
	Name           *string            `json:"name"`
	SensorID       *string            `json:"sensor_id"`
	SensorKind     *bridge.SensorKind `json:"sensor_kind"`
	InvertedSensor *bool              `json:"inverted_sensor"`
}

// triggerCreateRequest is the JSON body for creating a trigger.
type triggerCreateRequest struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// handleListBindings returns all device bindings.
func (s *Server) handleListBindings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

// handleGetBinding returns a single binding by ID.
func (s *Server) handleGetBinding(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	binding, err := s.registry.Get(id)
	if err != nil {
		writeNotFound(w, "binding not found")
		return
	}

	writeJSON(w, http.StatusOK, binding)
}

// handleUpdateBinding applies a partial update to a binding. This is
// how a sensor is paired with or unpaired from a device: set
// sensor_id to the sensor's identifier, or to the empty string to
// unpair.
func (s *Server) handleUpdateBinding(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	binding, err := s.registry.Get(id)
	if err != nil {
		writeNotFound(w, "binding not found")
		return
	}

	var req bindingPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Name != nil {
		binding.Name = *req.Name
	}
	if req.SensorID != nil {
		binding.SensorID = *req.SensorID
	}
	if req.SensorKind != nil {
		binding.SensorKind = *req.SensorKind
	}
	if req.InvertedSensor != nil {
		binding.InvertedSensor = *req.InvertedSensor
	}

	if err := s.registry.Update(r.Context(), binding); err != nil {
		if errors.Is(err, bridge.ErrInvalidBinding) {
			writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
			return
		}
		s.logger.Error("binding update failed", "binding_id", id, "error", err)
		writeInternalError(w, "binding update failed")
		return
	}

	updated, err := s.registry.Get(id)
	if err != nil {
		writeInternalError(w, "binding update failed")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleListTriggers returns the triggers attached to a binding in
// firing order.
func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.registry.Get(id); err != nil {
		writeNotFound(w, "binding not found")
		return
	}

	triggers, err := s.registry.Triggers(r.Context(), id)
	if err != nil {
		s.logger.Error("trigger listing failed", "binding_id", id, "error", err)
		writeInternalError(w, "trigger listing failed")
		return
	}
	if triggers == nil {
		triggers = []bridge.Trigger{}
	}

	writeJSON(w, http.StatusOK, triggers)
}

// handleCreateTrigger attaches a new trigger to a binding.
func (s *Server) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req triggerCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}

	trigger := bridge.Trigger{
		Name:      req.Name,
		BindingID: id,
		Enabled:   req.Enabled,
	}
	if err := s.registry.CreateTrigger(r.Context(), &trigger); err != nil {
		if errors.Is(err, bridge.ErrBindingNotFound) {
			writeNotFound(w, "binding not found")
			return
		}
		s.logger.Error("trigger creation failed", "binding_id", id, "error", err)
		writeInternalError(w, "trigger creation failed")
		return
	}

	writeJSON(w, http.StatusCreated, trigger)
}

// handleDeleteTrigger removes a trigger by numeric ID.
func (s *Server) handleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeBadRequest(w, "trigger ID must be numeric")
		return
	}

	if err := s.registry.DeleteTrigger(r.Context(), id); err != nil {
		if errors.Is(err, bridge.ErrTriggerNotFound) {
			writeNotFound(w, "trigger not found")
			return
		}
		s.logger.Error("trigger deletion failed", "trigger_id", id, "error", err)
		writeInternalError(w, "trigger deletion failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
