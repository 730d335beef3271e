// Package workflow holds the scaffolding shared by the orchestration
// services: isolated best-effort steps and the top-level failure path.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"leadflow/internal/domain"
	"leadflow/internal/notes"
)

// Result statuses shared by the per-company workflows.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
)

// BestEffort runs fn and returns fallback when it fails or panics. The
// failure is logged at Warn and never reaches the caller.
func BestEffort[T any](ctx context.Context, log zerolog.Logger, step string, fallback T, fn func(context.Context) (T, error)) (out T) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("step", step).Str("error", fmt.Sprint(r)).Msg("step panicked, continuing without it")
			out = fallback
		}
	}()
	v, err := fn(ctx)
	if err != nil {
		log.Warn().Str("step", step).Err(err).Msg("step failed, continuing without it")
		return fallback
	}
	return v
}

// Try is BestEffort for steps that only have side effects. It reports
// whether fn succeeded.
func Try(ctx context.Context, log zerolog.Logger, step string, fn func(context.Context) error) bool {
	return BestEffort(ctx, log, step, false, func(ctx context.Context) (bool, error) {
		if err := fn(ctx); err != nil {
			return false, err
		}
		return true, nil
	})
}

// CompanyWriter is what the failure path needs from the CRM.
type CompanyWriter interface {
	UpdateCompany(ctx context.Context, id string, props domain.Properties) error
	CreateNote(ctx context.Context, companyID, body string) error
}

// Abort runs after a load-bearing failure: it clears the busy flag and
// records an error note, both best-effort. Cleanup survives a canceled ctx.
// It returns the error message for the run's result.
func Abort(ctx context.Context, c CompanyWriter, log zerolog.Logger, workflowName string, company domain.Record, cause error, now time.Time) string {
	ctx = context.WithoutCancel(ctx)
	msg := cause.Error()
	log.Error().Err(cause).Str("company_id", company.ID).Msg("workflow failed")
	Try(ctx, log, "clear_agent", func(ctx context.Context) error {
		return c.UpdateCompany(ctx, company.ID, domain.Properties{domain.PropAgent: ""})
	})
	Try(ctx, log, "error_note", func(ctx context.Context) error {
		return c.CreateNote(ctx, company.ID, notes.Error(workflowName, company.Get(domain.PropName), StatusError, msg, now))
	})
	return msg
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
