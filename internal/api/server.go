package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"leadflow/internal/crm"
	"leadflow/internal/domain"
	"leadflow/internal/upstream"
	"leadflow/internal/worker"
)

const defaultListLimit = 50

// Dispatcher is the part of *worker.Dispatcher the handlers use.
type Dispatcher interface {
	Submit(ctx context.Context, taskType, subjectID string) (worker.Submission, error)
	RunSync(ctx context.Context, taskType, subjectID string) (any, error)
	Registered(taskType string) bool
}

// Jobs is the read side of the job store.
type Jobs interface {
	Get(id string) (domain.Job, bool)
	List(limit int) []domain.Job
}

type Options struct {
	// Metrics serves GET /metrics. Nil disables the route.
	Metrics http.Handler
	// Debug mounts the pprof handlers under /debug/pprof.
	Debug bool
}

type Server struct {
	r    *chi.Mux
	d    Dispatcher
	jobs Jobs
	log  zerolog.Logger
}

func NewServer(d Dispatcher, jobs Jobs, opts Options, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, d: d, jobs: jobs, log: logger.With().Str("component", "api").Logger()}

	r.Get("/health", s.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Post("/datos", s.submit(domain.TaskEnrichment))
	r.Post("/datos/sync", s.runSync(domain.TaskEnrichment))
	r.Post("/calificar_lead", s.submit(domain.TaskQualifyLead))
	r.Post("/llamada_prospeccion", s.submit(domain.TaskProspecting))
	r.Post("/hacer_tareas", s.submit(domain.TaskActivation))

	r.Get("/jobs", s.listJobs)
	r.Get("/jobs/{id}", s.getJob)

	if opts.Debug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type submitReq struct {
	CompanyID string `json:"company_id"`
}

type submitResp struct {
	JobID      string     `json:"job_id,omitempty"`
	Status     string     `json:"status"`
	Message    string     `json:"message"`
	CompanyID  string     `json:"company_id,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// decodeSubject reads the optional {company_id} body. An empty body means
// "pick the next pending company".
func decodeSubject(r *http.Request) (string, error) {
	var req submitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return req.CompanyID, nil
}

func (s *Server) submit(taskType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.d.Registered(taskType) {
			writeError(w, http.StatusServiceUnavailable, taskType+" is not configured")
			return
		}
		subject, err := decodeSubject(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}

		sub, err := s.d.Submit(r.Context(), taskType, subject)
		if err != nil {
			s.fail(w, taskType, err)
			return
		}

		resp := submitResp{
			JobID:     sub.Job.ID,
			Status:    string(sub.Outcome),
			CompanyID: sub.Job.SubjectID,
		}
		code := http.StatusOK
		switch sub.Outcome {
		case worker.Submitted:
			code = http.StatusAccepted
			resp.Message = "job submitted"
		case worker.AlreadyRunning:
			resp.Message = "a job for this company is already running"
		case worker.RecentlyCompleted:
			resp.Message = "this company was processed recently"
			resp.FinishedAt = sub.Job.FinishedAt
		case worker.NothingPending:
			resp.Message = "no pending companies"
		}
		writeJSON(w, code, resp)
	}
}

func (s *Server) runSync(taskType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.d.Registered(taskType) {
			writeError(w, http.StatusServiceUnavailable, taskType+" is not configured")
			return
		}
		subject, err := decodeSubject(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
		out, err := s.d.RunSync(r.Context(), taskType, subject)
		if err != nil {
			s.fail(w, taskType, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, ok := s.jobs.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.jobs.List(limit)})
}

// fail maps workflow and adapter errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, taskType string, err error) {
	code := statusFor(err)
	ev := s.log.Error()
	if code < http.StatusInternalServerError {
		ev = s.log.Warn()
	}
	ev.Err(err).Str("task", taskType).Int("status", code).Msg("request failed")
	writeError(w, code, err.Error())
}

func statusFor(err error) int {
	var upErr *upstream.Error
	switch {
	case upstream.IsRateLimit(err):
		return http.StatusTooManyRequests
	case errors.Is(err, crm.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, worker.ErrUnknownTask):
		return http.StatusNotFound
	case errors.As(err, &upErr):
		return http.StatusBadGateway
	case errors.Is(err, worker.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
