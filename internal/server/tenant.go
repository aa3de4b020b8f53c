package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"paybroker/internal/dispatch"
	"paybroker/internal/processor"
	"paybroker/internal/registrar"
	"paybroker/internal/token"
	"paybroker/pkg/tenants"
)

// handleConnectKeys saves a location's processor keys from the admin UI.
func (s *Server) handleConnectKeys(w http.ResponseWriter, r *http.Request) {
	var k registrar.Keys
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&k); err != nil {
		writeJSON(w, map[string]any{"success": false, "error": "Invalid request body"}, http.StatusBadRequest)
		return
	}
	err := s.registrar.SaveKeys(r.Context(), k)
	if err == nil {
		writeJSON(w, map[string]any{"success": true}, http.StatusOK)
		return
	}
	var ie *registrar.InputError
	switch {
	case errors.As(err, &ie):
		writeJSON(w, map[string]any{"success": false, "error": ie.Msg}, http.StatusBadRequest)
	case token.IsReauthorizationRequired(err):
		s.log.Warnw("connect keys needs reauthorization", "location_id", k.LocationID, "err", err)
		writeJSON(w, map[string]any{"success": false, "error": "reauthorization required"}, http.StatusUnauthorized)
	default:
		s.log.Errorw("connect keys", "location_id", k.LocationID, "err", err)
		writeJSON(w, map[string]any{"success": false, "error": "Failed to save keys"}, http.StatusInternalServerError)
	}
}

// handleInstall is the OAuth redirect target for app installs.
func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	if e := r.URL.Query().Get("error"); e != "" {
		writeJSON(w, map[string]any{"success": false, "error": "Authorization was not granted"}, http.StatusBadRequest)
		return
	}
	tok, err := s.registrar.Install(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		var ie *registrar.InputError
		if errors.As(err, &ie) {
			writeJSON(w, map[string]any{"success": false, "error": ie.Msg}, http.StatusBadRequest)
			return
		}
		s.log.Errorw("install", "err", err)
		writeJSON(w, map[string]any{"success": false, "error": "Failed to complete installation"}, http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{"success": true, "locationId": tok.LocationID, "companyId": tok.CompanyID}, http.StatusOK)
}

// handleCheckoutIntent creates the intent the iFrame confirms with the
// processor's browser SDK.
func (s *Server) handleCheckoutIntent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	ev, err := dispatch.ParseEvent(body)
	if err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if ev.LocationID == "" {
		writeError(w, "locationId is required", http.StatusBadRequest)
		return
	}
	ev.Type = "checkout"
	ev.Mode = modeOf(ev.Raw["mode"])
	if k := strings.TrimSpace(r.Header.Get("Idempotency-Key")); k != "" {
		ev.IdempotencyKey = k
	}

	client, err := s.clients.ClientFor(r.Context(), ev.LocationID, ev.Mode)
	if err != nil {
		if processor.ConfigError(err) {
			writeError(w, "Configuration error: "+configDetail(err), http.StatusBadRequest)
			return
		}
		s.log.Errorw("resolve processor client", "location_id", ev.LocationID, "err", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	pi, err := s.dispatcher.CreateCheckoutIntent(r.Context(), client, ev)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, dispatch.ErrInvalidCheckout), errors.Is(err, dispatch.ErrMissingEmail):
			status = http.StatusBadRequest
		case token.IsReauthorizationRequired(err):
			status = http.StatusUnauthorized
		}
		writeError(w, dispatch.Message(err), status)
		return
	}
	writeJSON(w, map[string]string{"clientSecret": pi.ClientSecret}, http.StatusOK)
}

func (s *Server) handleCheckoutConfig(w http.ResponseWriter, r *http.Request) {
	loc := strings.TrimSpace(r.URL.Query().Get("locationId"))
	if loc == "" {
		writeError(w, "locationId is required", http.StatusBadRequest)
		return
	}
	mode := modeOf(r.URL.Query().Get("mode"))
	cfg, err := s.store.GetPaymentConfig(r.Context(), loc)
	if err != nil && !errors.Is(err, tenants.ErrNotFound) {
		s.log.Errorw("load payment config", "location_id", loc, "err", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	key := cfg.PublishableKey(mode)
	if key == "" {
		writeError(w, "Configuration error: no "+string(mode)+" publishable key configured", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]string{"publishableKey": key}, http.StatusOK)
}

// modeOf defaults to test; only an explicit "live" selects live keys.
func modeOf(v any) tenants.Mode {
	if s, _ := v.(string); strings.EqualFold(strings.TrimSpace(s), string(tenants.ModeLive)) {
		return tenants.ModeLive
	}
	return tenants.ModeTest
}
