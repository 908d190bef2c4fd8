package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hearthward/myq-sync/internal/bridge"
	"github.com/hearthward/myq-sync/internal/myq"
)

// commandTimeout bounds a dispatched command including its
// confirmation wait.
const commandTimeout = 2 * time.Minute

// accountResponse is the JSON shape for a cloud account.
type accountResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// deviceResponse is the JSON shape for a cloud device summary.
type deviceResponse struct {
	SerialNumber string    `json:"serial_number"`
	Name         string    `json:"name"`
	Family       string    `json:"family"`
	DeviceType   string    `json:"device_type"`
	AccountID    string    `json:"account_id"`
	Online       bool      `json:"online"`
	LastUpdate   time.Time `json:"last_update"`
	StateUpdate  time.Time `json:"state_update"`
}

// deviceStateResponse is the JSON shape for a full device state dump.
type deviceStateResponse struct {
	deviceResponse
	State map[string]any `json:"state"`
}

// commandRequest is the JSON body for a command dispatch.
type commandRequest struct {
	Command string `json:"command"`
}

func toDeviceResponse(d *myq.Device) deviceResponse {
	return deviceResponse{
		SerialNumber: d.SerialNumber(),
		Name:         d.Name(),
		Family:       d.Family(),
		DeviceType:   d.DeviceType(),
		AccountID:    d.AccountID(),
		Online:       d.Online(),
		LastUpdate:   d.LastUpdate(),
		StateUpdate:  d.StateUpdate(),
	}
}

// handleListAccounts returns all cloud accounts visible to the
// authenticated credentials.
func (s *Server) handleListAccounts(w http.ResponseWriter, _ *http.Request) {
	accounts := s.cloud.Accounts()

	resp := make([]accountResponse, 0, len(accounts))
	for id, name := range accounts {
		resp = append(resp, accountResponse{ID: id, Name: name})
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].ID < resp[j].ID })

	writeJSON(w, http.StatusOK, resp)
}

// handleListDevices returns summaries of all cached cloud devices.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.cloud.Devices()

	resp := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		resp = append(resp, toDeviceResponse(d))
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].SerialNumber < resp[j].SerialNumber })

	writeJSON(w, http.StatusOK, resp)
}

// handleListAvailableDevices returns controllable devices that have no
// binding yet, for pairing workflows.
func (s *Server) handleListAvailableDevices(w http.ResponseWriter, _ *http.Request) {
	resp := make([]deviceResponse, 0)
	for serial, door := range s.cloud.Covers() {
		if _, err := s.registry.GetBySerial(serial); err != nil {
			resp = append(resp, toDeviceResponse(door.Device))
		}
	}
	for serial, lamp := range s.cloud.Lamps() {
		if _, err := s.registry.GetBySerial(serial); err != nil {
			resp = append(resp, toDeviceResponse(lamp.Device))
		}
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].SerialNumber < resp[j].SerialNumber })

	writeJSON(w, http.StatusOK, resp)
}

// handleGetDevice returns the summary for a single device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	device, err := s.cloud.Device(serial)
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}

	writeJSON(w, http.StatusOK, toDeviceResponse(device))
}

// handleDumpDeviceState returns the full raw state document for a
// device, for diagnostics.
func (s *Server) handleDumpDeviceState(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	device, err := s.cloud.Device(serial)
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}

	writeJSON(w, http.StatusOK, deviceStateResponse{
		deviceResponse: toDeviceResponse(device),
		State:          device.RawState(),
	})
}

// handleCommand dispatches a command to a device and waits for
// confirmation.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "command dispatch not available")
		return
	}

	serial := chi.URLParam(r, "serial")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	err := s.dispatcher.Dispatch(ctx, serial, req.Command)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"serial_number": serial,
			"command":       req.Command,
			"confirmed":     true,
		})
	case errors.Is(err, bridge.ErrUnknownCommand), errors.Is(err, bridge.ErrKindMismatch):
		writeBadRequest(w, err.Error())
	case errors.Is(err, myq.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, myq.ErrCommandNotAllowed):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, myq.ErrNotConfirmed):
		writeError(w, http.StatusGatewayTimeout, "not_confirmed", "device did not confirm the command in time")
	default:
		s.logger.Error("command dispatch failed", "serial", serial, "command", req.Command, "error", err)
		writeInternalError(w, "command dispatch failed")
	}
}

// handleRefresh requests an immediate poll of the cloud service.
func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "sync engine not available")
		return
	}

	s.engine.RequestRefresh()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh requested"})
}
