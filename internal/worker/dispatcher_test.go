package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/domain"
	"leadflow/internal/jobs"
	"leadflow/internal/metrics"
)

// blockingWorkflow runs until release is closed.
type blockingWorkflow struct {
	release chan struct{}
	started chan string
	result  any
	err     error
	next    string
	nextErr error
}

func newBlocking() *blockingWorkflow {
	return &blockingWorkflow{release: make(chan struct{}), started: make(chan string, 10), result: "ok"}
}

func (w *blockingWorkflow) Run(ctx context.Context, subjectID string) (any, error) {
	w.started <- subjectID
	<-w.release
	return w.result, w.err
}

type resolvingWorkflow struct {
	*blockingWorkflow
}

func (w resolvingWorkflow) ResolveNextSubject(context.Context) (string, error) {
	return w.next, w.nextErr
}

func newDispatcher(t *testing.T) (*Dispatcher, *jobs.Store, *Pool) {
	t.Helper()
	store := jobs.NewStore(100)
	pool := NewPool(4, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	return NewDispatcher(store, pool, metrics.New(prometheus.NewRegistry()), zerolog.Nop()), store, pool
}

func waitStatus(t *testing.T, store *jobs.Store, id string, want domain.JobStatus) domain.Job {
	t.Helper()
	var j domain.Job
	require.Eventually(t, func() bool {
		j, _ = store.Get(id)
		return j.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return j
}

func TestSubmitRunsInBackground(t *testing.T) {
	d, store, _ := newDispatcher(t)
	wf := newBlocking()
	d.Register(domain.TaskEnrichment, wf, time.Hour)

	sub, err := d.Submit(context.Background(), domain.TaskEnrichment, "42")
	require.NoError(t, err)
	assert.Equal(t, Submitted, sub.Outcome)
	assert.Equal(t, "42", sub.Job.SubjectID)

	assert.Equal(t, "42", <-wf.started)
	waitStatus(t, store, sub.Job.ID, domain.JobRunning)

	close(wf.release)
	j := waitStatus(t, store, sub.Job.ID, domain.JobCompleted)
	assert.Equal(t, "ok", j.Result)
}

func TestSubmitTwiceReturnsAlreadyRunning(t *testing.T) {
	d, store, _ := newDispatcher(t)
	wf := newBlocking()
	d.Register(domain.TaskEnrichment, wf, time.Hour)

	first, err := d.Submit(context.Background(), domain.TaskEnrichment, "42")
	require.NoError(t, err)
	second, err := d.Submit(context.Background(), domain.TaskEnrichment, "42")
	require.NoError(t, err)

	assert.Equal(t, AlreadyRunning, second.Outcome)
	assert.Equal(t, first.Job.ID, second.Job.ID)
	assert.Equal(t, 1, store.Len())
	close(wf.release)
}

func TestSubmitAfterCompletionIsRecentlyCompleted(t *testing.T) {
	d, store, _ := newDispatcher(t)
	wf := newBlocking()
	close(wf.release)
	d.Register(domain.TaskEnrichment, wf, time.Hour)

	first, err := d.Submit(context.Background(), domain.TaskEnrichment, "42")
	require.NoError(t, err)
	waitStatus(t, store, first.Job.ID, domain.JobCompleted)

	again, err := d.Submit(context.Background(), domain.TaskEnrichment, "42")
	require.NoError(t, err)
	assert.Equal(t, RecentlyCompleted, again.Outcome)
	assert.Equal(t, first.Job.ID, again.Job.ID)
	require.NotNil(t, again.Job.FinishedAt)
}

func TestZeroCooldownAllowsResubmission(t *testing.T) {
	d, store, _ := newDispatcher(t)
	wf := newBlocking()
	close(wf.release)
	d.Register(domain.TaskActivation, wf, 0)

	first, err := d.Submit(context.Background(), domain.TaskActivation, "")
	require.NoError(t, err)
	waitStatus(t, store, first.Job.ID, domain.JobCompleted)

	again, err := d.Submit(context.Background(), domain.TaskActivation, "")
	require.NoError(t, err)
	assert.Equal(t, Submitted, again.Outcome)
	assert.NotEqual(t, first.Job.ID, again.Job.ID)
}

func TestSubmitResolvesSubjectFirst(t *testing.T) {
	d, _, _ := newDispatcher(t)
	wf := resolvingWorkflow{newBlocking()}
	wf.next = "77"
	d.Register(domain.TaskQualifyLead, wf, time.Hour)

	first, err := d.Submit(context.Background(), domain.TaskQualifyLead, "")
	require.NoError(t, err)
	assert.Equal(t, "77", first.Job.SubjectID)

	// An explicit submission for the same subject is now suppressed.
	second, err := d.Submit(context.Background(), domain.TaskQualifyLead, "77")
	require.NoError(t, err)
	assert.Equal(t, AlreadyRunning, second.Outcome)
	close(wf.release)
}

func TestSubmitNothingPending(t *testing.T) {
	d, store, _ := newDispatcher(t)
	wf := resolvingWorkflow{newBlocking()}
	d.Register(domain.TaskQualifyLead, wf, time.Hour)

	sub, err := d.Submit(context.Background(), domain.TaskQualifyLead, "")
	require.NoError(t, err)
	assert.Equal(t, NothingPending, sub.Outcome)
	assert.Equal(t, 0, store.Len())
}

func TestSubmitResolveError(t *testing.T) {
	d, _, _ := newDispatcher(t)
	wf := resolvingWorkflow{newBlocking()}
	wf.nextErr = errors.New("crm down")
	d.Register(domain.TaskQualifyLead, wf, time.Hour)

	_, err := d.Submit(context.Background(), domain.TaskQualifyLead, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crm down")
}

func TestSubmitUnknownTask(t *testing.T) {
	d, _, _ := newDispatcher(t)
	_, err := d.Submit(context.Background(), "nope", "1")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestWorkflowErrorFailsJob(t *testing.T) {
	d, store, _ := newDispatcher(t)
	wf := newBlocking()
	wf.err = errors.New("company not found")
	close(wf.release)
	d.Register(domain.TaskEnrichment, wf, time.Hour)

	sub, err := d.Submit(context.Background(), domain.TaskEnrichment, "1")
	require.NoError(t, err)
	j := waitStatus(t, store, sub.Job.ID, domain.JobFailed)
	assert.Equal(t, "company not found", j.Error)
	assert.Nil(t, j.Result)
}

func TestWorkflowPanicFailsJob(t *testing.T) {
	d, store, _ := newDispatcher(t)
	d.Register(domain.TaskEnrichment, WorkflowFunc(func(context.Context, string) (any, error) {
		panic("unexpected")
	}), time.Hour)

	sub, err := d.Submit(context.Background(), domain.TaskEnrichment, "1")
	require.NoError(t, err)
	j := waitStatus(t, store, sub.Job.ID, domain.JobFailed)
	assert.Contains(t, j.Error, "unexpected")
}

func TestConcurrentSubmitCreatesOneJob(t *testing.T) {
	d, store, _ := newDispatcher(t)
	wf := newBlocking()
	d.Register(domain.TaskEnrichment, wf, time.Hour)

	var wg sync.WaitGroup
	outcomes := make(chan Outcome, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := d.Submit(context.Background(), domain.TaskEnrichment, "same")
			if err == nil {
				outcomes <- sub.Outcome
			}
		}()
	}
	wg.Wait()
	close(outcomes)

	submitted := 0
	for o := range outcomes {
		if o == Submitted {
			submitted++
		}
	}
	assert.Equal(t, 1, submitted)
	assert.Equal(t, 1, store.Len())
	close(wf.release)
}

func TestRunSync(t *testing.T) {
	d, store, _ := newDispatcher(t)
	d.Register(domain.TaskEnrichment, WorkflowFunc(func(_ context.Context, id string) (any, error) {
		return "ran " + id, nil
	}), time.Hour)

	out, err := d.RunSync(context.Background(), domain.TaskEnrichment, "9")
	require.NoError(t, err)
	assert.Equal(t, "ran 9", out)
	assert.Equal(t, 0, store.Len())
}

func TestSubmitAfterShutdown(t *testing.T) {
	d, store, pool := newDispatcher(t)
	d.Register(domain.TaskEnrichment, newBlocking(), time.Hour)
	require.NoError(t, pool.Shutdown(context.Background()))

	_, err := d.Submit(context.Background(), domain.TaskEnrichment, "1")
	require.ErrorIs(t, err, ErrPoolClosed)
	for _, j := range store.List(0) {
		assert.Equal(t, domain.JobFailed, j.Status)
	}
}

type recorder struct {
	mu        sync.Mutex
	submitted []string
	started   int
	finished  []string
}

func (r *recorder) Submitted(_, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, outcome)
}

func (r *recorder) Started() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recorder) Finished(_, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, status)
}

func TestRejectedSubmitIsNotRecorded(t *testing.T) {
	rec := &recorder{}
	pool := NewPool(1, zerolog.Nop())
	d := NewDispatcher(jobs.NewStore(10), pool, rec, zerolog.Nop())
	d.Register(domain.TaskEnrichment, newBlocking(), time.Hour)
	require.NoError(t, pool.Shutdown(context.Background()))

	_, err := d.Submit(context.Background(), domain.TaskEnrichment, "1")
	require.ErrorIs(t, err, ErrPoolClosed)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.submitted)
	assert.Zero(t, rec.started)
	assert.Empty(t, rec.finished)
}

func TestAcceptedSubmitIsRecorded(t *testing.T) {
	rec := &recorder{}
	pool := NewPool(1, zerolog.Nop())
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })
	store := jobs.NewStore(10)
	d := NewDispatcher(store, pool, rec, zerolog.Nop())
	wf := newBlocking()
	d.Register(domain.TaskEnrichment, wf, time.Hour)

	sub, err := d.Submit(context.Background(), domain.TaskEnrichment, "1")
	require.NoError(t, err)
	<-wf.started
	close(wf.release)
	waitStatus(t, store, sub.Job.ID, domain.JobCompleted)

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.finished) == 1
	}, 2*time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{string(Submitted)}, rec.submitted)
	assert.Equal(t, 1, rec.started)
	assert.Equal(t, []string{string(domain.JobCompleted)}, rec.finished)
}
