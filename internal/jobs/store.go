// Package jobs holds the in-process registry of asynchronous work units.
package jobs

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"leadflow/internal/domain"
)

const (
	DefaultMaxJobs  = 1000
	DefaultCooldown = 30 * time.Minute
)

// emptyResult stands in for a nil result on completed jobs.
type emptyResult struct{}

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a bounded, mutex-guarded job registry. All accessors return
// copies so callers never share state with the producing goroutine.
type Store struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	maxJobs int
	now     func() time.Time
}

func NewStore(maxJobs int, opts ...Option) *Store {
	if maxJobs <= 0 {
		maxJobs = DefaultMaxJobs
	}
	s := &Store{
		jobs:    make(map[string]*domain.Job),
		maxJobs: maxJobs,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create stores a new pending job and evicts old terminal jobs beyond capacity.
func (s *Store) Create(taskType, subjectID string) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(taskType, subjectID)
}

func (s *Store) createLocked(taskType, subjectID string) domain.Job {
	id := newID()
	for s.jobs[id] != nil {
		id = newID()
	}
	j := &domain.Job{
		ID:        id,
		TaskType:  taskType,
		Status:    domain.JobPending,
		CreatedAt: s.now(),
		SubjectID: subjectID,
	}
	s.jobs[id] = j
	s.evictLocked()
	return *j
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// evictLocked drops terminal jobs, oldest creation first, until the store
// fits its capacity. Non-terminal jobs are never evicted.
func (s *Store) evictLocked() {
	if len(s.jobs) <= s.maxJobs {
		return
	}
	var terminal []*domain.Job
	for _, j := range s.jobs {
		if j.Status.Terminal() {
			terminal = append(terminal, j)
		}
	}
	sort.SliceStable(terminal, func(a, b int) bool {
		return terminal[a].CreatedAt.Before(terminal[b].CreatedAt)
	})
	for len(s.jobs) > s.maxJobs && len(terminal) > 0 {
		delete(s.jobs, terminal[0].ID)
		terminal = terminal[1:]
	}
}

func (s *Store) Get(id string) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return *j, true
}

// MarkRunning, MarkCompleted and MarkFailed ignore unknown ids: a job may
// have been evicted while its goroutine was still finishing.
func (s *Store) MarkRunning(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = domain.JobRunning
	}
}

func (s *Store) MarkCompleted(id string, result any) {
	if result == nil {
		result = emptyResult{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		now := s.now()
		j.Status = domain.JobCompleted
		j.Result = result
		j.Error = ""
		j.FinishedAt = &now
	}
}

func (s *Store) MarkFailed(id, msg string) {
	if msg == "" {
		msg = "unknown error"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		now := s.now()
		j.Status = domain.JobFailed
		j.Result = nil
		j.Error = msg
		j.FinishedAt = &now
	}
}

// Active returns a pending or running job for (taskType, subjectID).
func (s *Store) Active(taskType, subjectID string) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(taskType, subjectID)
}

func (s *Store) activeLocked(taskType, subjectID string) (domain.Job, bool) {
	for _, j := range s.jobs {
		if j.TaskType == taskType && j.SubjectID == subjectID && !j.Status.Terminal() {
			return *j, true
		}
	}
	return domain.Job{}, false
}

// RecentlyCompleted returns the most recently finished terminal job for
// (taskType, subjectID) whose completion lies within window of now.
func (s *Store) RecentlyCompleted(taskType, subjectID string, window time.Duration) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recentLocked(taskType, subjectID, window)
}

func (s *Store) recentLocked(taskType, subjectID string, window time.Duration) (domain.Job, bool) {
	now := s.now()
	var best *domain.Job
	for _, j := range s.jobs {
		if j.TaskType != taskType || j.SubjectID != subjectID || !j.Status.Terminal() || j.FinishedAt == nil {
			continue
		}
		if now.Sub(*j.FinishedAt) >= window {
			continue
		}
		if best == nil || j.FinishedAt.After(*best.FinishedAt) {
			best = j
		}
	}
	if best == nil {
		return domain.Job{}, false
	}
	return *best, true
}

// Admission is the outcome of CreateUnlessDuplicate.
type Admission int

const (
	Admitted Admission = iota
	DuplicateActive
	DuplicateRecent
)

// CreateUnlessDuplicate performs the active check, the cooldown check and the
// creation under one lock. A zero cooldown disables the cooldown check.
func (s *Store) CreateUnlessDuplicate(taskType, subjectID string, cooldown time.Duration) (domain.Job, Admission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.activeLocked(taskType, subjectID); ok {
		return j, DuplicateActive
	}
	if cooldown > 0 {
		if j, ok := s.recentLocked(taskType, subjectID, cooldown); ok {
			return j, DuplicateRecent
		}
	}
	return s.createLocked(taskType, subjectID), Admitted
}

// List returns up to limit jobs, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) []domain.Job {
	s.mu.Lock()
	out := make([]domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	s.mu.Unlock()
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
