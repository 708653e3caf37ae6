package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/avolkov/market-linkgen/internal/service"
)

type Handlers struct {
	svc    *service.Service
	logger *slog.Logger
}

func NewHandlers(svc *service.Service, logger *slog.Logger) *Handlers {
	return &Handlers{
		svc:    svc,
		logger: logger.With("component", "api"),
	}
}

// Routes mounts all handlers on r.
func (h *Handlers) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", h.CreateJob)
		r.Get("/jobs/{jobID}", h.GetJob)
		r.Get("/breaker", h.GetBreakerStatus)
	})
	r.Get("/health", h.Health)
}

// CreateJobRequest represents a new link-generation request
type CreateJobRequest struct {
	URL            string `json:"url"`
	SessionRef     string `json:"reuse_session_ref,omitempty"`
	TimeoutSeconds int    `json:"timeout,omitempty"`
	Debug          *bool  `json:"debug,omitempty"`
}

// CreateJobResponse carries the id the caller polls for the result
type CreateJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// CreateJob enqueues a job and returns immediately.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	jobID, err := h.svc.Submit(req.URL, service.JobOptions{
		SessionRef: req.SessionRef,
		Timeout:    time.Duration(req.TimeoutSeconds) * time.Second,
		Debug:      req.Debug,
	})
	if err != nil {
		h.logger.Warn("job submission rejected", "url", req.URL, "error", err)
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateJobResponse{
		JobID:  jobID,
		Status: string(service.StatusPending),
	})
}

// GetJob returns the current state of a job.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	result, ok := h.svc.Result(jobID)
	if !ok {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// GetBreakerStatus exposes the circuit breaker snapshot.
func (h *Handlers) GetBreakerStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.svc.BreakerStatus())
}

// Health reports liveness plus queue depth and breaker availability.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := h.svc.BreakerStatus()
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"queue_size":        h.svc.QueueSize(),
		"breaker_available": status.IsAvailable,
	})
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
