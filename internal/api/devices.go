package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hub/internal/device"
)

// ConnectRequest is the body of POST /devices/{id}/connect.
type ConnectRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// ConnectResponse reports the connection state after a connect.
type ConnectResponse struct {
	State    device.ConnectionState `json:"state"`
	Redirect *device.Redirect       `json:"redirect,omitempty"`
}

// ActionRequest is the body of POST /devices/{id}/services/{sid}/actions/{action}.
type ActionRequest struct {
	Args map[string]any `json:"args"`
}

// decodeOptional decodes a JSON body into v. An empty body leaves v untouched.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// handleDiscover starts discovery on every module.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	s.devices.DiscoverAll(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]any{"modules": s.modules.List()})
}

// handleStopDiscover stops discovery on every module.
func (s *Server) handleStopDiscover(w http.ResponseWriter, r *http.Request) {
	s.devices.StopDiscoverAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"modules": s.modules.List()})
}

// handleListDevices returns the ids of all online devices. With
// ?detail=true it returns full summaries instead.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("detail") == "true" {
		devices := s.devices.ListDevices()
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}
	ids := s.devices.ListDeviceIDs()
	writeJSON(w, http.StatusOK, map[string]any{"devices": ids, "count": len(ids)})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	info, err := s.devices.Device(chi.URLParam(r, "id"))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetSpec(w http.ResponseWriter, r *http.Request) {
	spec, err := s.devices.GetSpec(chi.URLParam(r, "id"))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	state, err := s.devices.GetState(chi.URLParam(r, "id"), chi.URLParam(r, "sid"))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleConnect connects to a device. A redirect in the response means the
// client must send the user to Redirect.Href to finish authorisation.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := decodeOptional(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	state, redirect, err := s.devices.Connect(r.Context(), chi.URLParam(r, "id"), req.User, req.Password)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ConnectResponse{State: state, Redirect: redirect})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.devices.Disconnect(r.Context(), id); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ConnectResponse{State: device.StateDisconnected})
}

func (s *Server) handleInvokeAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := decodeOptional(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	out, err := s.devices.InvokeAction(r.Context(),
		chi.URLParam(r, "id"), chi.URLParam(r, "sid"), chi.URLParam(r, "action"), req.Args)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
