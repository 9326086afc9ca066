package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"image-edit-service/internal/domain"
	"image-edit-service/internal/domain/model"
	"image-edit-service/internal/infra/logging"
)

// requestScope derives the request-scoped context and logger carrying the
// chi request id and, when known, the job id.
func (s *Server) requestScope(r *http.Request, jobID string) (context.Context, *zerolog.Logger) {
	ctx := r.Context()
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		ctx = logging.WithTraceID(ctx, reqID)
	}
	if jobID != "" {
		ctx = logging.WithJobID(ctx, jobID)
	}
	return ctx, logging.With(ctx, s.log)
}

type jobResponse struct {
	ID                string `json:"id"`
	Prompt            string `json:"prompt"`
	InitialImageKey   string `json:"initial_image_key"`
	ReferenceImageKey string `json:"reference_image_key,omitempty"`
	Status            string `json:"status"`
	GeneratedImageKey string `json:"generated_image_key,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

func toJobResponse(job *model.GenerationJob) jobResponse {
	return jobResponse{
		ID:                job.ID,
		Prompt:            job.Prompt,
		InitialImageKey:   job.InitialImageKey,
		ReferenceImageKey: job.ReferenceImageKey,
		Status:            string(job.Status),
		GeneratedImageKey: job.GeneratedImageKey,
		LastError:         job.LastError,
		CreatedAt:         job.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:         job.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

type createJobRequest struct {
	Prompt            string `json:"prompt"`
	InitialImageKey   string `json:"initial_image_key"`
	ReferenceImageKey string `json:"reference_image_key"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	ctx, log := s.requestScope(r, "")
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	job, err := s.jobUC.Create(ctx, req.Prompt, req.InitialImageKey, req.ReferenceImageKey)
	if err != nil {
		s.writeDomainError(w, log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobResponse(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	ctx, log := s.requestScope(r, chi.URLParam(r, "id"))
	job, err := s.jobUC.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleProcessJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, log := s.requestScope(r, id)
	job, err := s.jobUC.Process(ctx, id)
	if err != nil {
		// The job (when present) already carries its terminal status; the
		// error detail is logged, not exposed verbatim.
		log.Warn().Err(err).Msg("process request failed")
		if job != nil {
			writeJSON(w, processErrorStatus(err), toJobResponse(job))
			return
		}
		s.writeDomainError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	ctx, log := s.requestScope(r, chi.URLParam(r, "id"))
	// Deletion is idempotent; absence and removal both answer 204.
	if _, err := s.jobUC.Delete(ctx, chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func processErrorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrJobTerminal):
		return http.StatusConflict
	case domain.IsActionable(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, log *zerolog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "prompt and initial_image_key are required")
	case errors.Is(err, domain.ErrJobLocked):
		writeError(w, http.StatusConflict, "job is already being processed")
	case errors.Is(err, domain.ErrJobTerminal):
		writeError(w, http.StatusConflict, "job is in a terminal state")
	default:
		log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
