package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"paybroker/internal/dispatch"
	"paybroker/internal/metrics"
	"paybroker/internal/processor"
)

// handleQuery is the platform's query webhook. Authentication failures share
// two fixed messages so callers cannot tell tenants apart.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	apiKey := strings.TrimSpace(r.Header.Get("apiKey"))
	ev, err := dispatch.ParseEvent(body)
	if err != nil {
		if apiKey == "" {
			s.observe("", "unauthorized", start)
			writeError(w, "Unauthorized: Missing credentials", http.StatusUnauthorized)
			return
		}
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if apiKey == "" || ev.LocationID == "" || ev.Type == "" {
		s.observe(ev.Type, "unauthorized", start)
		writeError(w, "Unauthorized: Missing credentials", http.StatusUnauthorized)
		return
	}
	mode, err := s.auth.Require(r.Context(), ev.LocationID, apiKey)
	if err != nil {
		s.log.Warnw("webhook rejected", "location_id", ev.LocationID, "event_type", ev.Type)
		s.observe(ev.Type, "unauthorized", start)
		writeError(w, "Unauthorized: Invalid API Key", http.StatusUnauthorized)
		return
	}
	ev.Mode = mode
	if k := strings.TrimSpace(r.Header.Get("Idempotency-Key")); k != "" {
		ev.IdempotencyKey = k
	}

	client, err := s.clients.ClientFor(r.Context(), ev.LocationID, mode)
	if err != nil {
		if processor.ConfigError(err) {
			s.log.Warnw("processor not configured", "location_id", ev.LocationID, "mode", mode, "err", err)
			s.observe(ev.Type, "config_error", start)
			writeError(w, "Configuration error: "+configDetail(err), http.StatusBadRequest)
			return
		}
		s.log.Errorw("resolve processor client", "location_id", ev.LocationID, "err", err)
		s.observe(ev.Type, "error", start)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	res := s.dispatcher.Dispatch(r.Context(), client, ev)
	s.observe(ev.Type, dispatch.Outcome(res), start)
	writeJSON(w, res, http.StatusOK)
}

// configDetail strips the sentinel prefix from a resolver error.
func configDetail(err error) string {
	msg := err.Error()
	if errors.Is(err, processor.ErrNotConfigured) {
		msg = strings.TrimPrefix(msg, processor.ErrNotConfigured.Error()+": ")
	}
	return msg
}

func (s *Server) observe(eventType, outcome string, start time.Time) {
	switch eventType {
	case dispatch.TypeVerify, dispatch.TypeRefund, dispatch.TypeListPaymentMethods,
		dispatch.TypeChargePayment, dispatch.TypeCreateSubscription:
	default:
		// label values come from untrusted input
		eventType = "other"
	}
	metrics.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
	metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
}
