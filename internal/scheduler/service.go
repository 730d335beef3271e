package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"leadflow/internal/worker"
)

// Submitter is satisfied by *worker.Dispatcher. Timer-driven submissions go
// through the same duplicate suppression as HTTP ones.
type Submitter interface {
	Submit(ctx context.Context, taskType, subjectID string) (worker.Submission, error)
}

type Service struct {
	d      Submitter
	cron   *cron.Cron
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewService(d Submitter, logger zerolog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		d:      d,
		cron:   cron.New(),
		log:    logger.With().Str("component", "scheduler").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add schedules taskType on a standard five-field cron expression or a
// descriptor such as "@every 15m".
func (s *Service) Add(expr, taskType string) error {
	if _, err := s.cron.AddFunc(expr, func() { s.Trigger(taskType) }); err != nil {
		return err
	}
	next, _ := NextRunTime(expr, time.Now())
	s.log.Info().Str("task", taskType).Str("cron_expr", expr).Time("next_run", next).Msg("schedule added")
	return nil
}

func (s *Service) Start() {
	s.cron.Start()
	s.log.Info().Int("entries", len(s.cron.Entries())).Msg("schedule service started")
}

// Stop halts the timer and waits for an in-flight trigger, at most until
// ctx expires.
func (s *Service) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.cancel()
}

// Trigger submits one subject-less job for taskType.
func (s *Service) Trigger(taskType string) {
	sub, err := s.d.Submit(s.ctx, taskType, "")
	if err != nil {
		s.log.Error().Err(err).Str("task", taskType).Msg("scheduled submission failed")
		return
	}
	s.log.Info().
		Str("task", taskType).
		Str("outcome", string(sub.Outcome)).
		Str("job_id", sub.Job.ID).
		Msg("scheduled task submitted")
}

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextRunTime calculates the next run time for a cron expression
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	cronSchedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return cronSchedule.Next(from), nil
}
