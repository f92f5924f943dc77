package api

import (
	"net/http"

	"github.com/nerrad567/gray-logic-hub/internal/device"
)

// handleOAuthCallback receives the provider redirect that ends a delegated
// connect. OAuth 2.0 providers send code and state; OAuth 1.0 providers send
// oauth_token and oauth_verifier, with state carried in the callback URL.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "authorisation denied: "+e)
		return
	}
	state := q.Get("state")
	if state == "" {
		writeBadRequest(w, "state query parameter is required")
		return
	}
	params := device.CallbackParams{
		Code:     q.Get("code"),
		Token:    q.Get("oauth_token"),
		Verifier: q.Get("oauth_verifier"),
	}
	if params.Code == "" && params.Verifier == "" {
		writeBadRequest(w, "code or oauth_verifier is required")
		return
	}

	deviceID, err := s.devices.CompleteOAuth(r.Context(), state, params)
	if err != nil {
		s.logger.Warn("oauth callback failed", "device_id", deviceID, "error", err)
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"state":     device.StateConnected,
	})
}
