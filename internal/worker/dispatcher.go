package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"leadflow/internal/domain"
	"leadflow/internal/jobs"
)

// Workflow runs one unit of work for a subject. The same function backs
// both background jobs and synchronous invocations.
type Workflow interface {
	Run(ctx context.Context, subjectID string) (any, error)
}

// Resolver is implemented by workflows that can pick "the next pending
// subject" on their own.
type Resolver interface {
	ResolveNextSubject(ctx context.Context) (string, error)
}

// WorkflowFunc adapts a function to Workflow.
type WorkflowFunc func(ctx context.Context, subjectID string) (any, error)

func (f WorkflowFunc) Run(ctx context.Context, subjectID string) (any, error) { return f(ctx, subjectID) }

type Outcome string

const (
	Submitted         Outcome = "submitted"
	AlreadyRunning    Outcome = "already_running"
	RecentlyCompleted Outcome = "recently_completed"
	NothingPending    Outcome = "nothing_pending"
)

// Submission is the answer to a submit request. Job is zero for NothingPending.
type Submission struct {
	Outcome Outcome
	Job     domain.Job
}

var ErrUnknownTask = errors.New("unknown task type")

// JobStore is the subset of *jobs.Store the dispatcher drives.
type JobStore interface {
	CreateUnlessDuplicate(taskType, subjectID string, cooldown time.Duration) (domain.Job, jobs.Admission)
	MarkRunning(id string)
	MarkCompleted(id string, result any)
	MarkFailed(id, msg string)
}

// Recorder receives job lifecycle events; *metrics.Metrics implements it.
type Recorder interface {
	Submitted(task, outcome string)
	Started()
	Finished(task, status string, took time.Duration)
}

type registration struct {
	wf       Workflow
	cooldown time.Duration
}

// Dispatcher turns submit requests into jobs and runs them on the pool.
type Dispatcher struct {
	store JobStore
	pool  *Pool
	rec   Recorder
	log   zerolog.Logger

	mu        sync.RWMutex
	workflows map[string]registration
}

func NewDispatcher(store JobStore, pool *Pool, rec Recorder, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		pool:      pool,
		rec:       rec,
		log:       logger.With().Str("component", "dispatcher").Logger(),
		workflows: make(map[string]registration),
	}
}

// Register binds a workflow to a task type. A zero cooldown disables
// recently-completed suppression for that task type.
func (d *Dispatcher) Register(taskType string, wf Workflow, cooldown time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.workflows[taskType] = registration{wf: wf, cooldown: cooldown}
}

func (d *Dispatcher) Registered(taskType string) bool {
	_, ok := d.lookup(taskType)
	return ok
}

func (d *Dispatcher) lookup(taskType string) (registration, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.workflows[taskType]
	return r, ok
}

// Submit applies the duplicate-submission protocol and, when admitted,
// schedules the workflow in the background. It never waits for the run.
func (d *Dispatcher) Submit(ctx context.Context, taskType, subjectID string) (Submission, error) {
	reg, ok := d.lookup(taskType)
	if !ok {
		return Submission{}, fmt.Errorf("%w: %s", ErrUnknownTask, taskType)
	}

	// Resolve first so suppression below is scoped to a concrete subject.
	if subjectID == "" {
		if r, ok := reg.wf.(Resolver); ok {
			next, err := r.ResolveNextSubject(ctx)
			if err != nil {
				return Submission{}, fmt.Errorf("resolve next subject: %w", err)
			}
			if next == "" {
				d.rec.Submitted(taskType, string(NothingPending))
				return Submission{Outcome: NothingPending}, nil
			}
			subjectID = next
		}
	}

	job, adm := d.store.CreateUnlessDuplicate(taskType, subjectID, reg.cooldown)
	switch adm {
	case jobs.DuplicateActive:
		d.rec.Submitted(taskType, string(AlreadyRunning))
		return Submission{Outcome: AlreadyRunning, Job: job}, nil
	case jobs.DuplicateRecent:
		d.rec.Submitted(taskType, string(RecentlyCompleted))
		return Submission{Outcome: RecentlyCompleted, Job: job}, nil
	}

	if err := d.pool.Go(func(ctx context.Context) { d.execute(ctx, reg.wf, job) }); err != nil {
		d.store.MarkFailed(job.ID, err.Error())
		return Submission{}, err
	}
	d.rec.Submitted(taskType, string(Submitted))
	d.log.Info().Str("job_id", job.ID).Str("task", taskType).Str("subject_id", subjectID).Msg("job submitted")
	return Submission{Outcome: Submitted, Job: job}, nil
}

// RunSync runs the workflow inline without touching the job store.
func (d *Dispatcher) RunSync(ctx context.Context, taskType, subjectID string) (any, error) {
	reg, ok := d.lookup(taskType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskType)
	}
	return reg.wf.Run(ctx, subjectID)
}

// execute owns the job from pending to terminal. A panic in the workflow is
// converted to a failure so the job never stays running.
func (d *Dispatcher) execute(ctx context.Context, wf Workflow, job domain.Job) {
	start := time.Now()
	status := domain.JobFailed
	log := d.log.With().Str("job_id", job.ID).Str("task", job.TaskType).Logger()

	d.rec.Started()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Bytes("stack", debug.Stack()).Msg("job panicked")
			d.store.MarkFailed(job.ID, fmt.Sprintf("panic: %v", r))
			status = domain.JobFailed
		}
		d.rec.Finished(job.TaskType, string(status), time.Since(start))
	}()

	d.store.MarkRunning(job.ID)
	result, err := wf.Run(ctx, job.SubjectID)
	if err != nil {
		log.Error().Err(err).Msg("job failed")
		d.store.MarkFailed(job.ID, err.Error())
		return
	}
	d.store.MarkCompleted(job.ID, result)
	status = domain.JobCompleted
	log.Info().Dur("took", time.Since(start)).Msg("job completed")
}
