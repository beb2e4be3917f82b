// Package api exposes the query engine over HTTP: natural-language query
// execution, parse-only inspection, synchronous and asynchronous incident
// investigation, health, and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"inquest/executor"
	"inquest/parser"
	"inquest/schema"
	"inquest/util/goroutine"
)

// jobRetention is how long finished async jobs stay queryable.
const jobRetention = time.Hour

// investigationTimeout bounds one async investigation run.
const investigationTimeout = 5 * time.Minute

type jobStatus string

const (
	jobPending   jobStatus = "pending"
	jobRunning   jobStatus = "running"
	jobCompleted jobStatus = "completed"
	jobFailed    jobStatus = "failed"
)

type job struct {
	ID          string                        `json:"job_id"`
	IncidentID  string                        `json:"incident_id"`
	Status      jobStatus                     `json:"status"`
	Result      *executor.InvestigationBundle `json:"result,omitempty"`
	Error       string                        `json:"error,omitempty"`
	CreatedAt   time.Time                     `json:"created_at"`
	CompletedAt *time.Time                    `json:"completed_at,omitempty"`
}

// HealthChecker reports backend reachability.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server is the HTTP surface over the parser and executor.
type Server struct {
	parser   *parser.Parser
	executor *executor.Executor
	health   HealthChecker
	logger   *zap.SugaredLogger
	router   *mux.Router

	mu   sync.Mutex
	jobs map[string]*job
}

// NewServer wires the routes. health may be nil; the health endpoint then
// reports liveness only.
func NewServer(p *parser.Parser, e *executor.Executor, health HealthChecker, logger *zap.SugaredLogger) *Server {
	s := &Server{
		parser:   p,
		executor: e,
		health:   health,
		logger:   logger,
		router:   mux.NewRouter(),
		jobs:     map[string]*job{},
	}

	s.router.HandleFunc("/api/query", s.handleQuery).Methods(http.MethodPost)
	s.router.HandleFunc("/api/parse", s.handleParse).Methods(http.MethodPost)
	s.router.HandleFunc("/api/investigate", s.handleInvestigate).Methods(http.MethodPost)
	s.router.HandleFunc("/api/investigate", s.handleJobStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

type queryRequest struct {
	Query string `json:"query"`
}

// handleQuery parses and executes a natural-language question.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "query field is required")
		return
	}

	spec, err := s.parser.Parse(r.Context(), req.Query)
	if err != nil {
		s.writeParseError(w, err)
		return
	}

	result, err := s.executor.Execute(r.Context(), spec)
	if err != nil {
		s.writeExecuteError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"spec":    spec,
		"result":  result,
	})
}

// handleParse parses a question without executing it.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "query field is required")
		return
	}

	spec, err := s.parser.Parse(r.Context(), req.Query)
	if err != nil {
		s.writeParseError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "spec": spec})
}

type investigateRequest struct {
	IncidentID string `json:"incident_id"`
	Force      bool   `json:"force"`
	Async      bool   `json:"async"`
}

// handleInvestigate runs an investigation. Async mode returns a job ID
// immediately and runs the workflow in the background.
func (s *Server) handleInvestigate(w http.ResponseWriter, r *http.Request) {
	var req investigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IncidentID == "" {
		s.writeError(w, http.StatusBadRequest, "incident_id field is required")
		return
	}

	if req.Async {
		j := s.createJob(req.IncidentID)
		goroutine.Go("investigation-job-"+j.ID, s.logger, func() {
			s.runJob(j.ID, req.IncidentID, req.Force)
		})
		s.writeJSON(w, http.StatusAccepted, map[string]any{
			"success": true,
			"job_id":  j.ID,
			"status":  jobPending,
		})
		return
	}

	bundle, err := s.executor.ExecuteInvestigation(r.Context(), req.IncidentID, req.Force)
	if err != nil {
		s.writeExecuteError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "investigation": bundle})
}

// handleJobStatus reports an async job's state and, once completed, its
// bundle.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		s.writeError(w, http.StatusBadRequest, "job_id parameter is required")
		return
	}

	s.mu.Lock()
	s.expireJobsLocked()
	j, ok := s.jobs[jobID]
	s.mu.Unlock()

	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", jobID))
		return
	}
	s.writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{"status": "ok", "time": time.Now().UTC()}
	if s.health != nil {
		if err := s.health.Health(r.Context()); err != nil {
			payload["status"] = "degraded"
			payload["backend"] = err.Error()
			s.writeJSON(w, http.StatusServiceUnavailable, payload)
			return
		}
		payload["backend"] = "ok"
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) createJob(incidentID string) *job {
	j := &job{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		Status:     jobPending,
		CreatedAt:  time.Now().UTC(),
	}
	s.mu.Lock()
	s.expireJobsLocked()
	s.jobs[j.ID] = j
	s.mu.Unlock()
	return j
}

func (s *Server) runJob(jobID, incidentID string, force bool) {
	s.setJobStatus(jobID, jobRunning, nil, "")

	ctx, cancel := context.WithTimeout(context.Background(), investigationTimeout)
	defer cancel()

	bundle, err := s.executor.ExecuteInvestigation(ctx, incidentID, force)
	if err != nil {
		s.logger.Warnw("investigation job failed", "job_id", jobID, "incident_id", incidentID, "error", err)
		s.setJobStatus(jobID, jobFailed, nil, err.Error())
		return
	}
	s.setJobStatus(jobID, jobCompleted, bundle, "")
}

func (s *Server) setJobStatus(jobID string, status jobStatus, bundle *executor.InvestigationBundle, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return
	}
	j.Status = status
	j.Result = bundle
	j.Error = errMsg
	if status == jobCompleted || status == jobFailed {
		now := time.Now().UTC()
		j.CompletedAt = &now
	}
}

// expireJobsLocked drops finished jobs past retention. Caller holds mu.
func (s *Server) expireJobsLocked() {
	cutoff := time.Now().Add(-jobRetention)
	for id, j := range s.jobs {
		if j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}

func (s *Server) writeParseError(w http.ResponseWriter, err error) {
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"success":    false,
			"error":      "query spec validation failed",
			"violations": verr.Violations,
		})
		return
	}
	s.writeError(w, http.StatusBadRequest, err.Error())
}

func (s *Server) writeExecuteError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, executor.ErrIncidentNotFound) {
		status = http.StatusNotFound
	}
	s.writeError(w, status, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warnw("response encode failed", "error", err)
	}
}
