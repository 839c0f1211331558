package jobs

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/tombolo/tombolo/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrJobNotFound, Status: http.StatusNotFound, Message: "job not found"},
	{Error: ErrUnknownJobType, Status: http.StatusBadRequest, Message: "unknown job type"},
	{Error: ErrInvalidPriority, Status: http.StatusBadRequest, Message: "invalid job priority"},
	{Error: ErrInvalidPayload, Status: http.StatusBadRequest, Message: "invalid job payload"},
}

// Handler exposes operational queue endpoints.
type Handler struct {
	queue *Queue
}

// NewHandler creates a queue handler.
func NewHandler(queue *Queue) *Handler {
	return &Handler{queue: queue}
}

// RegisterRoutes registers queue inspection routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/admin/queue", func(r chi.Router) {
		r.Get("/stats", h.GetStats)
		r.Get("/dlq", h.GetDeadLetterJobs)
	})
	r.Get("/admin/jobs/{id}", h.GetJob)
}

// GetJob handles GET /admin/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.queue.Status(r.Context(), jobID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	if job == nil {
		httputil.Error(w, http.StatusNotFound, "job not found")
		return
	}

	httputil.Success(w, http.StatusOK, job)
}

// GetStats handles GET /admin/queue/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	dlq, err := h.queue.DeadLetterStats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]any{
		"queues": stats,
		"dlq":    dlq,
	})
}

// GetDeadLetterJobs handles GET /admin/queue/dlq?limit=N.
func (h *Handler) GetDeadLetterJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			httputil.Error(w, http.StatusBadRequest, "limit must be an integer between 1 and 1000")
			return
		}
		limit = parsed
	}

	entries, err := h.queue.DeadLetterJobs(r.Context(), limit)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, entries)
}
