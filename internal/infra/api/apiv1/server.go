package apiv1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/rs/zerolog"

	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/model"
	"longform-pipeline/internal/infra/logging"
	"longform-pipeline/internal/usecase"
)

// ServerInterface lists the operations of api/openapi.yaml.
type ServerInterface interface {
	SubmitGeneration(w http.ResponseWriter, r *http.Request)
	GetJob(w http.ResponseWriter, r *http.Request, jobID string)
	CancelJob(w http.ResponseWriter, r *http.Request, jobID string)
}

// RegisterAPIV1 mounts the v1 routes on r. Callers add authentication.
func RegisterAPIV1(r chi.Router, si ServerInterface) {
	r.Post("/v1/generations", si.SubmitGeneration)
	r.Get("/v1/jobs/{jobId}", withJobID(si.GetJob))
	r.Post("/v1/jobs/{jobId}/cancel", withJobID(si.CancelJob))
}

func withJobID(h func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var jobID string
		err := runtime.BindStyledParameterWithOptions("simple", "jobId", chi.URLParam(r, "jobId"), &jobID,
			runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
		if err != nil || jobID == "" {
			WriteError(w, http.StatusBadRequest, "INVALID_PARAMETER", "invalid jobId")
			return
		}
		h(w, r, jobID)
	}
}

type orgKey struct{}

// WithOrg stores the authenticated tenant on ctx.
func WithOrg(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgKey{}, orgID)
}

func OrgFrom(ctx context.Context) string {
	v, _ := ctx.Value(orgKey{}).(string)
	return v
}

var _ ServerInterface = (*Server)(nil)

type Server struct {
	jobs usecase.JobUseCase
	log  *zerolog.Logger
}

func NewServer(jobs usecase.JobUseCase, log *zerolog.Logger) *Server {
	if log == nil {
		l := zerolog.Nop()
		log = &l
	}
	return &Server{jobs: jobs, log: log}
}

const maxBodyBytes = 1 << 20

func (s *Server) SubmitGeneration(w http.ResponseWriter, r *http.Request) {
	var body GenerationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_BODY", "request body is not a valid generation request")
		return
	}
	if body.DeadlineSeconds < 0 {
		WriteError(w, http.StatusBadRequest, "INVALID_BODY", "deadlineSeconds must not be negative")
		return
	}

	org := OrgFrom(r.Context())
	ctx := logging.WithOrgID(r.Context(), org)
	mode := model.Mode(body.Mode)
	job, err := s.jobs.Submit(ctx, body.toModel(org), mode)

	var jerr *domain.JobError
	switch {
	case errors.As(err, &jerr) && job != nil:
		status, _ := statusFor(err)
		writeJSON(w, status, toJob(job))
	case err != nil:
		s.writeErr(ctx, w, err)
	case job.Mode == model.ModeAsync:
		writeJSON(w, http.StatusAccepted, Accepted{
			JobID:                   job.ID,
			Status:                  string(job.Status),
			EstimatedCompletionTime: job.EstimatedCompletion,
		})
	default:
		writeJSON(w, http.StatusOK, toJob(job))
	}
}

func (s *Server) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.ownedJob(r.Context(), jobID)
	if err != nil {
		s.writeErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJob(job))
}

func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, err := s.ownedJob(r.Context(), jobID); err != nil {
		s.writeErr(r.Context(), w, err)
		return
	}
	job, err := s.jobs.Cancel(r.Context(), jobID)
	if err != nil {
		s.writeErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJob(job))
}

// ownedJob hides jobs of other tenants behind ErrNotFound.
func (s *Server) ownedJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.jobs.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OrgID != OrgFrom(ctx) {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (s *Server) writeErr(ctx context.Context, w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logging.With(ctx, s.log).Error().Err(err).Int("status", status).Msg("request failed")
		msg = http.StatusText(status)
		var jerr *domain.JobError
		if errors.As(err, &jerr) {
			msg = jerr.Message
		}
	}
	WriteError(w, status, code, msg)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrJobTerminal):
		return http.StatusConflict, "JOB_TERMINAL"
	case errors.Is(err, domain.ErrDeadlineExceeded):
		return http.StatusGatewayTimeout, "DEADLINE_EXCEEDED"
	}
	switch domain.Classify(err) {
	case domain.ClassClient:
		return http.StatusBadRequest, "INVALID_REQUEST"
	case domain.ClassUpstream:
		return http.StatusBadGateway, "UPSTREAM_FAILED"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
