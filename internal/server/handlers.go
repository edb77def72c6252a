package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"netwarden/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// broadcastDefaultWindow bounds which endpoints a broadcast targets
	// when the request doesn't say.
	broadcastDefaultWindow = 24 * time.Hour
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	active, err := s.alerts.List(r.Context(), true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"active_alerts": len(active),
		"time":          time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSubmitTelemetry(w http.ResponseWriter, r *http.Request) {
	var snap domain.Snapshot
	if err := decodeJSON(r, &snap); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.telemetry.Submit(r.Context(), &snap)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"accepted":           true,
		"snapshot_id":        result.SnapshotID,
		"violation_detected": result.ViolationDetected,
		"alert_id":           result.AlertID,
	})
}

func (s *Server) handleRecentTelemetry(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.telemetry.Recent(r.Context(), queryLimit(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []domain.Snapshot{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": snaps,
		"count":     len(snaps),
	})
}

type enqueueRequest struct {
	Endpoint string `json:"endpoint"`
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Reason   string `json:"reason"`
}

func (s *Server) handleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	id, err := s.commands.Enqueue(r.Context(), req.Endpoint, domain.Action(req.Action), req.Resource, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"command_id": id})
}

func (s *Server) handlePollCommands(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("endpoint")
	delivered, err := s.commands.Drain(r.Context(), endpoint)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"endpoint": endpoint,
		"commands": delivered,
		"count":    len(delivered),
	})
}

func (s *Server) handleBlockedResources(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		s.writeError(w, r, fmt.Errorf("%w: endpoint is required", domain.ErrValidation))
		return
	}
	blocked, err := s.commands.CurrentlyBlocked(r.Context(), endpoint)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"endpoint": endpoint,
		"blocked":  blocked,
		"count":    len(blocked),
	})
}

func (s *Server) handleCommandHistory(w http.ResponseWriter, r *http.Request) {
	directives, err := s.commands.History(r.Context(), queryLimit(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if directives == nil {
		directives = []domain.Directive{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"commands": directives,
		"count":    len(directives),
	})
}

type broadcastRequest struct {
	Action            string  `json:"action"`
	Resource          string  `json:"resource"`
	Reason            string  `json:"reason"`
	ActiveWithinHours float64 `json:"active_within_hours"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	window := broadcastDefaultWindow
	if req.ActiveWithinHours > 0 {
		window = time.Duration(req.ActiveWithinHours * float64(time.Hour))
	}

	result, err := s.commands.Broadcast(r.Context(), domain.Action(req.Action), req.Resource, req.Reason, window)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	s.listAlerts(w, r, false)
}

func (s *Server) handleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	s.listAlerts(w, r, true)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request, activeOnly bool) {
	alerts, err := s.alerts.List(r.Context(), activeOnly)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: bad alert id", domain.ErrValidation))
		return
	}
	if err := s.alerts.Resolve(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"resolved": id})
}

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"blocked_domains": s.policies.BlockedDomains(),
		"allowed_domains": s.policies.AllowedDomains(),
	})
}

type domainRequest struct {
	Domain string `json:"domain"`
}

func (s *Server) handleBlockDomain(w http.ResponseWriter, r *http.Request) {
	var req domainRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	added, err := s.policies.BlockDomain(req.Domain)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"domain": req.Domain, "added": added})
}

func (s *Server) handleAllowDomain(w http.ResponseWriter, r *http.Request) {
	var req domainRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	added, err := s.policies.AllowDomain(req.Domain)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"domain": req.Domain, "added": added})
}

func (s *Server) handleRemoveDomain(w http.ResponseWriter, r *http.Request) {
	target := mux.Vars(r)["domain"]
	removedFrom, err := s.policies.RemoveDomain(target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(removedFrom) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: domain %q not in policy", domain.ErrNotFound, target))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"domain": target, "removed_from": removedFrom})
}

func (s *Server) handleWeeklyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Weekly(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// decodeJSON parses the request body. Unknown fields are tolerated so
// newer agents can talk to older servers.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", domain.ErrValidation, err)
	}
	return nil
}

func queryLimit(r *http.Request) int {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

// writeError maps domain errors to HTTP statuses. Internal errors are
// logged with detail but returned opaque.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
