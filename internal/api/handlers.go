package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/modelfleet/sentinel/internal/failover"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startTime).String(),
	})
}

// handleReady reports whether the system should receive traffic. A 503
// here tells the load balancer to drain this instance.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.system.CanOperate() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.system.GetSystemHealth())
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.system.GenerateFailoverReport())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, s.system.RecentEvents(limit))
}

type registerModelRequest struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Weight       float64  `json:"weight"`
}

func (s *Server) handleRegisterModel(w http.ResponseWriter, r *http.Request) {
	var req registerModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	id, err := s.system.RegisterModel(failover.ModelInfo{
		Name:         req.Name,
		Capabilities: req.Capabilities,
		Weight:       req.Weight,
	})
	if err != nil {
		s.logger.Warn("model registration failed", zap.Error(err))
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (s *Server) handleReportHealth(w http.ResponseWriter, r *http.Request) {
	id := failover.ModelID(mux.Vars(r)["id"])

	var metrics failover.ModelMetrics
	if err := json.NewDecoder(r.Body).Decode(&metrics); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if metrics.ReportedAt.IsZero() {
		metrics.ReportedAt = time.Now()
	}

	if err := s.system.ReportModelHealth(id, metrics); err != nil {
		s.writeFailoverError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type modelFailureRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleModelFailure(w http.ResponseWriter, r *http.Request) {
	id := failover.ModelID(mux.Vars(r)["id"])

	var req modelFailureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Reason == "" {
		req.Reason = "reported via API"
	}

	decision, err := s.system.HandleModelFailure(r.Context(), id, req.Reason)
	if err != nil {
		s.logger.Warn("failover request failed",
			zap.String("model", id.String()),
			zap.Error(err))
		s.writeFailoverError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, decision)
}

// writeFailoverError maps the failover error taxonomy onto HTTP status
// codes.
func (s *Server) writeFailoverError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, failover.ErrNotRegistered):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, failover.ErrServiceUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, failover.ErrResolutionFailed):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
