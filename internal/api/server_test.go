package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/crm"
	"leadflow/internal/domain"
	"leadflow/internal/jobs"
	"leadflow/internal/metrics"
	"leadflow/internal/upstream"
	"leadflow/internal/worker"
)

type nextWorkflow struct {
	mu      sync.Mutex
	next    string
	release chan struct{}
}

func (w *nextWorkflow) setNext(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next = id
}

func (w *nextWorkflow) Run(ctx context.Context, subjectID string) (any, error) {
	<-w.release
	return map[string]string{"company_id": subjectID}, nil
}

func (w *nextWorkflow) ResolveNextSubject(context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.next, nil
}

type env struct {
	srv   *httptest.Server
	store *jobs.Store
	wf    *nextWorkflow
}

func newEnv(t *testing.T) *env {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := jobs.NewStore(100)
	pool := worker.NewPool(4, zerolog.Nop())
	d := worker.NewDispatcher(store, pool, m, zerolog.Nop())

	wf := &nextWorkflow{release: make(chan struct{})}
	d.Register(domain.TaskEnrichment, wf, time.Hour)
	d.Register(domain.TaskActivation, worker.WorkflowFunc(func(context.Context, string) (any, error) {
		return "swept", nil
	}), 0)

	srv := httptest.NewServer(NewServer(d, store, Options{Metrics: m.Handler()}, zerolog.Nop()))
	t.Cleanup(func() {
		srv.Close()
		select {
		case <-wf.release:
		default:
			close(wf.release)
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	return &env{srv: srv, store: store, wf: wf}
}

func (e *env) post(t *testing.T, path, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(e.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (e *env) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSubmissionProtocol(t *testing.T) {
	e := newEnv(t)

	code, body := e.post(t, "/datos", `{"company_id":"42"}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "submitted", body["status"])
	jobID := body["job_id"].(string)
	require.NotEmpty(t, jobID)

	code, body = e.post(t, "/datos", `{"company_id":"42"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "already_running", body["status"])
	assert.Equal(t, jobID, body["job_id"])

	code, body = e.get(t, "/jobs/"+jobID)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, []any{"pending", "running"}, body["status"])
	assert.Equal(t, "datos", body["task_type"])
	assert.Equal(t, "42", body["company_id"])

	close(e.wf.release)
	require.Eventually(t, func() bool {
		j, _ := e.store.Get(jobID)
		return j.Status == domain.JobCompleted
	}, 2*time.Second, 5*time.Millisecond)

	code, body = e.post(t, "/datos", `{"company_id":"42"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "recently_completed", body["status"])
	assert.NotEmpty(t, body["finished_at"])

	_, body = e.get(t, "/jobs/"+jobID)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, map[string]any{"company_id": "42"}, body["result"])
}

func TestSubmitWithoutBodyResolvesNext(t *testing.T) {
	e := newEnv(t)

	code, body := e.post(t, "/datos", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "nothing_pending", body["status"])
	assert.Nil(t, body["job_id"])

	e.wf.setNext("7")
	code, body = e.post(t, "/datos", "")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "7", body["company_id"])
}

func TestSweepHasNoCooldown(t *testing.T) {
	e := newEnv(t)
	code, first := e.post(t, "/hacer_tareas", "")
	require.Equal(t, http.StatusAccepted, code)
	require.Eventually(t, func() bool {
		j, _ := e.store.Get(first["job_id"].(string))
		return j.Status == domain.JobCompleted
	}, 2*time.Second, 5*time.Millisecond)

	code, second := e.post(t, "/hacer_tareas", "")
	assert.Equal(t, http.StatusAccepted, code)
	assert.NotEqual(t, first["job_id"], second["job_id"])
}

func TestUnconfiguredWorkflow(t *testing.T) {
	e := newEnv(t)
	code, body := e.post(t, "/llamada_prospeccion", `{"company_id":"1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body["error"], "not configured")
}

func TestBadBody(t *testing.T) {
	e := newEnv(t)
	code, _ := e.post(t, "/datos", `{"company_id":`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestJobs(t *testing.T) {
	e := newEnv(t)
	code, body := e.get(t, "/jobs/nope")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "job not found", body["error"])

	for _, id := range []string{"1", "2", "3"} {
		code, _ := e.post(t, "/datos", fmt.Sprintf(`{"company_id":%q}`, id))
		require.Equal(t, http.StatusAccepted, code)
	}
	_, body = e.get(t, "/jobs?limit=2")
	assert.Len(t, body["jobs"], 2)
	_, body = e.get(t, "/jobs")
	assert.Len(t, body["jobs"], 3)

	code, _ = e.get(t, "/jobs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMetricsExposed(t *testing.T) {
	e := newEnv(t)
	e.post(t, "/datos", `{"company_id":"1"}`)

	resp, err := http.Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `leadflow_jobs_submitted_total{outcome="submitted",task="datos"} 1`)
}

// syncDispatcher fails every call with err.
type syncDispatcher struct{ err error }

func (s syncDispatcher) Submit(context.Context, string, string) (worker.Submission, error) {
	return worker.Submission{}, s.err
}

func (s syncDispatcher) RunSync(context.Context, string, string) (any, error) {
	if s.err != nil {
		return nil, s.err
	}
	return map[string]int{"total_found": 1}, nil
}

func (syncDispatcher) Registered(string) bool { return true }

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"rate limit", fmt.Errorf("search: %w", &upstream.RateLimitError{Service: "Google Places"}), http.StatusTooManyRequests},
		{"upstream", &upstream.Error{Service: "HubSpot", StatusCode: 500}, http.StatusBadGateway},
		{"not found", fmt.Errorf("load: %w", crm.ErrNotFound), http.StatusNotFound},
		{"pool closed", worker.ErrPoolClosed, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewServer(syncDispatcher{err: tc.err}, jobs.NewStore(1), Options{}, zerolog.Nop())
			for _, path := range []string{"/datos", "/datos/sync"} {
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"company_id":"1"}`)))
				assert.Equal(t, tc.want, rec.Code, path)
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}

func TestSyncReturnsEnvelope(t *testing.T) {
	h := NewServer(syncDispatcher{}, jobs.NewStore(1), Options{}, zerolog.Nop())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/datos/sync", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total_found":1}`, rec.Body.String())
}
