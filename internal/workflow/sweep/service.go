// Package sweep turns scheduled CRM tasks addressed to an agent
// ("Agente:<value> | ...") into busy-flag activations on their companies,
// respecting each company's local business calendar.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"leadflow/internal/calendar"
	"leadflow/internal/crm"
	"leadflow/internal/domain"
	"leadflow/internal/notes"
	"leadflow/internal/upstream"
	"leadflow/internal/worker"
	"leadflow/internal/workflow"
)

// Task outcomes.
const (
	StatusActivated   = "activated"
	StatusRescheduled = "rescheduled"
	StatusSkipped     = "skipped"
	StatusError       = workflow.StatusError
)

// Skip reasons.
const (
	ReasonNoCompany    = "no_company"
	ReasonOutsideHours = "outside_hours"
	ReasonCompanyBusy  = "company_busy"
)

type CRM interface {
	SearchOpenTasks(ctx context.Context) ([]domain.Record, error)
	Associated(ctx context.Context, from crm.ObjectType, id string, to crm.ObjectType) ([]string, error)
	GetCompany(ctx context.Context, id string) (domain.Record, error)
	UpdateCompany(ctx context.Context, id string, props domain.Properties) error
	UpdateTask(ctx context.Context, id string, props domain.Properties) error
	CreateNote(ctx context.Context, companyID, body string) error
}

type Service struct {
	crm CRM
	log zerolog.Logger
	now func() time.Time
	rnd *rand.Rand
}

var _ worker.Workflow = (*Service)(nil)

func New(c CRM, logger zerolog.Logger) *Service {
	return &Service{
		crm: c,
		log: logger.With().Str("component", "sweep").Logger(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

type TaskResult struct {
	TaskID    string `json:"task_id"`
	Subject   string `json:"task_subject"`
	CompanyID string `json:"company_id,omitempty"`
	Agent     string `json:"agente_value"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

type Response struct {
	TotalFound  int          `json:"total_found"`
	Activated   int          `json:"activated"`
	Skipped     int          `json:"skipped"`
	Rescheduled int          `json:"rescheduled"`
	Errors      int          `json:"errors"`
	Results     []TaskResult `json:"results"`
	Message     string       `json:"message,omitempty"`
}

// Run processes every open agent task. The sweep has no subject.
func (s *Service) Run(ctx context.Context, _ string) (any, error) {
	tasks, err := s.crm.SearchOpenTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}

	type agentTask struct {
		id, subject, agent string
	}
	var pending []agentTask
	for _, t := range tasks {
		subject := t.Get(crm.TaskSubject)
		if agent := calendar.ParseTaskAgent(subject); agent != "" {
			pending = append(pending, agentTask{t.ID, subject, agent})
		}
	}

	resp := Response{TotalFound: len(pending), Results: make([]TaskResult, 0, len(pending))}
	for _, t := range pending {
		res, err := s.process(ctx, t.id, t.subject, t.agent)
		if err != nil {
			s.log.Error().Err(err).Str("task_id", t.id).Msg("task activation failed")
			res.Status, res.Message = StatusError, err.Error()
		}
		resp.Results = append(resp.Results, res)
		switch res.Status {
		case StatusActivated:
			resp.Activated++
		case StatusRescheduled:
			resp.Rescheduled++
		case StatusSkipped:
			resp.Skipped++
		default:
			resp.Errors++
		}
		if upstream.IsRateLimit(err) {
			resp.Message = "rate limited, sweep stopped early"
			s.log.Warn().Int("processed", len(resp.Results)).Int("total", len(pending)).Msg(resp.Message)
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}
	s.log.Info().
		Int("activated", resp.Activated).Int("rescheduled", resp.Rescheduled).
		Int("skipped", resp.Skipped).Int("errors", resp.Errors).Msg("sweep finished")
	return resp, nil
}

func (s *Service) process(ctx context.Context, taskID, subject, agent string) (TaskResult, error) {
	res := TaskResult{TaskID: taskID, Subject: subject, Agent: agent}
	log := s.log.With().Str("task_id", taskID).Str("agente", agent).Logger()

	ids, err := s.crm.Associated(ctx, crm.Tasks, taskID, crm.Companies)
	if err != nil {
		return res, fmt.Errorf("task companies: %w", err)
	}
	if len(ids) == 0 {
		res.Status, res.Message = StatusSkipped, ReasonNoCompany
		return res, nil
	}
	res.CompanyID = ids[0]

	company, err := s.crm.GetCompany(ctx, res.CompanyID)
	if err != nil {
		return res, fmt.Errorf("load company %s: %w", res.CompanyID, err)
	}
	country := company.Get(domain.PropCountry)
	now := s.now()
	log = log.With().Str("company_id", res.CompanyID).Str("country", country).Logger()

	// Outside hours is retried by the next sweep; a closed day is moved.
	if !calendar.IsBusinessHour(country, now) {
		log.Debug().Msg("outside business hours")
		res.Status, res.Message = StatusSkipped, ReasonOutsideHours
		return res, nil
	}
	if !calendar.IsBusinessDay(country, now) {
		due := calendar.TaskDueDate(country, now, s.rnd).Format(time.RFC3339)
		if err := s.crm.UpdateTask(ctx, taskID, domain.Properties{crm.TaskTimestamp: due}); err != nil {
			return res, fmt.Errorf("reschedule task: %w", err)
		}
		log.Info().Str("due", due).Msg("task rescheduled")
		res.Status, res.Message = StatusRescheduled, "moved to "+due
		return res, nil
	}
	if busy := company.Get(domain.PropAgent); busy != "" {
		log.Info().Str("busy_with", busy).Msg("company busy")
		res.Status, res.Message = StatusSkipped, ReasonCompanyBusy
		return res, nil
	}

	if err := s.crm.UpdateCompany(ctx, res.CompanyID, domain.Properties{domain.PropAgent: agent}); err != nil {
		return res, fmt.Errorf("activate agent: %w", err)
	}
	if err := s.crm.UpdateTask(ctx, taskID, domain.Properties{crm.TaskStatus: crm.TaskCompleted}); err != nil {
		return res, fmt.Errorf("complete task: %w", err)
	}
	workflow.Try(ctx, log, "activation_note", func(ctx context.Context) error {
		return s.crm.CreateNote(ctx, res.CompanyID, notes.Activation(agent, subject, now))
	})

	log.Info().Msg("agent activated")
	res.Status = StatusActivated
	return res, nil
}
