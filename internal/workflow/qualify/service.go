// Package qualify classifies a hotel lead from its CRM history: room count,
// company type and market fit, with a pipeline move for leads that do not fit.
package qualify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"leadflow/internal/crm"
	"leadflow/internal/domain"
	"leadflow/internal/llm"
	"leadflow/internal/mapper"
	"leadflow/internal/notes"
	"leadflow/internal/worker"
	"leadflow/internal/workflow"
)

const name = "Calificar Lead"

// DefaultNoFitStage is the lead pipeline stage for companies that do not fit.
const DefaultNoFitStage = "1178022266"

// Lead actions.
const (
	ActionStageUpdated = "stage_updated"
	ActionTaskCreated  = "task_created"
	ActionError        = "error"
)

var companyTypes = map[string]bool{
	"Hotel": true, "Apart hotel": true, "Hostel": true, "Resort": true, "Boutique hotel": true,
	"Motel": true, "Bed and breakfasts": true, "Campamento / Glamping": true,
	"Cadena hotelera": true, "Agencia de viaje": true, "Otro": true,
}

const systemPrompt = "Eres un asistente de calificación de leads hoteleros. " +
	"Analiza toda la información disponible del hotel y determina:\n" +
	"1. cantidad_de_habitaciones: número estimado de habitaciones (string numérico o null si no se puede determinar)\n" +
	"2. market_fit: una de estas categorías exactas: " +
	`"No es FIT" (menos de 5 habitaciones o no es hotel), ` +
	`"Hormiga" (5-13 habitaciones), ` +
	`"Conejo" (14-27 habitaciones), ` +
	`"Elefante" (28+ habitaciones)` + "\n" +
	"3. razonamiento: breve explicación en español de por qué llegaste a esa conclusión\n" +
	"4. tipo_de_empresa: una de estas opciones exactas: " +
	`"Hotel", "Apart hotel", "Hostel", "Resort", "Boutique hotel", ` +
	`"Motel", "Bed and breakfasts", "Campamento / Glamping", ` +
	`"Cadena hotelera", "Agencia de viaje", "Otro"` + "\n" +
	"5. resumen_interacciones: resumen en bullets (uno por línea con guión) " +
	"del historial de interacciones con el hotel (llamadas, emails, WhatsApp, notas relevantes). " +
	"Si no hay interacciones significativas, devuelve null.\n\n" +
	"Responde SOLO con JSON válido, sin markdown ni explicación adicional. " +
	"Ejemplo: " +
	`{"cantidad_de_habitaciones": "15", "market_fit": "Conejo", ` +
	`"razonamiento": "Según la nota de enriquecimiento, el hotel tiene 15 habitaciones.", ` +
	`"tipo_de_empresa": "Hotel", ` +
	`"resumen_interacciones": "- Se realizó llamada el 2024-01-15, contactaron al director\n` +
	`- Email de seguimiento enviado el 2024-01-20"}`

type CRM interface {
	SearchCompanies(ctx context.Context, agentValue string) ([]domain.Record, error)
	GetCompany(ctx context.Context, id string) (domain.Record, error)
	UpdateCompany(ctx context.Context, id string, props domain.Properties) error
	CreateNote(ctx context.Context, companyID, body string) error
	Associated(ctx context.Context, from crm.ObjectType, id string, to crm.ObjectType) ([]string, error)
	GetObjects(ctx context.Context, typ crm.ObjectType, ids []string, props []string) ([]domain.Record, error)
	UpdateLead(ctx context.Context, id string, props domain.Properties) error
	CreateTask(ctx context.Context, companyID string, props domain.Properties) (string, error)
}

// Analyzer returns the JSON object of a model reply, or nil when there is none.
// *llm.Client satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, system, user string) (map[string]any, error)
}

type Options struct {
	// NoFitStage replaces DefaultNoFitStage when set.
	NoFitStage string
}

type Service struct {
	crm   CRM
	model Analyzer
	stage string
	log   zerolog.Logger
	now   func() time.Time
}

var (
	_ worker.Workflow = (*Service)(nil)
	_ worker.Resolver = (*Service)(nil)
)

func New(c CRM, model Analyzer, opts Options, logger zerolog.Logger) *Service {
	stage := opts.NoFitStage
	if stage == "" {
		stage = DefaultNoFitStage
	}
	return &Service{
		crm:   c,
		model: model,
		stage: stage,
		log:   logger.With().Str("component", "qualify").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type Result struct {
	CompanyID   string              `json:"company_id"`
	CompanyName string              `json:"company_name,omitempty"`
	Status      string              `json:"status"`
	Message     string              `json:"message,omitempty"`
	MarketFit   string              `json:"market_fit,omitempty"`
	Rooms       string              `json:"rooms,omitempty"`
	Reasoning   string              `json:"reasoning,omitempty"`
	CompanyType string              `json:"tipo_de_empresa,omitempty"`
	Summary     string              `json:"resumen_interacciones,omitempty"`
	Lifecycle   string              `json:"lifecyclestage,omitempty"`
	LeadActions []domain.LeadAction `json:"lead_actions,omitempty"`
	Note        string              `json:"note,omitempty"`
}

func (s *Service) ResolveNextSubject(ctx context.Context) (string, error) {
	found, err := s.crm.SearchCompanies(ctx, domain.AgentQualifyLead)
	if err != nil || len(found) == 0 {
		return "", err
	}
	return found[0].ID, nil
}

func (s *Service) Run(ctx context.Context, subjectID string) (any, error) {
	var company domain.Record
	if subjectID != "" {
		c, err := s.crm.GetCompany(ctx, subjectID)
		if err != nil {
			return nil, fmt.Errorf("load company %s: %w", subjectID, err)
		}
		company = c
	} else {
		found, err := s.crm.SearchCompanies(ctx, domain.AgentQualifyLead)
		if err != nil {
			return nil, fmt.Errorf("search companies: %w", err)
		}
		if len(found) == 0 {
			return Result{
				Status:  workflow.StatusError,
				Message: fmt.Sprintf("No companies found with %s=%q", domain.PropAgent, domain.AgentQualifyLead),
			}, nil
		}
		company = found[0]
	}

	res, err := s.Qualify(ctx, company)
	if err != nil {
		return Result{
			CompanyID:   company.ID,
			CompanyName: company.Get(domain.PropName),
			Status:      workflow.StatusError,
			Message:     workflow.Abort(ctx, s.crm, s.log, name, company, err, s.now()),
		}, nil
	}
	return res, nil
}

// history is the CRM context the model reads.
type history struct {
	notes, calls, emails, contacts, whatsapp []domain.Record
}

func (s *Service) fetchHistory(ctx context.Context, log zerolog.Logger, companyID string) history {
	var h history
	var g errgroup.Group
	fetch := func(dst *[]domain.Record, to crm.ObjectType, props []string) {
		g.Go(func() error {
			*dst = workflow.BestEffort(ctx, log, "fetch_"+string(to), nil, func(ctx context.Context) ([]domain.Record, error) {
				return crm.AssociatedRecords(ctx, s.crm, companyID, to, props)
			})
			return nil
		})
	}
	var comms []domain.Record
	fetch(&h.notes, crm.Notes, crm.NoteProperties)
	fetch(&h.calls, crm.Calls, crm.CallProperties)
	fetch(&h.emails, crm.Emails, crm.EmailProperties)
	fetch(&h.contacts, crm.Contacts, crm.ContactProperties)
	fetch(&comms, crm.Communications, crm.CommunicationProperties)
	_ = g.Wait()

	for _, c := range comms {
		if strings.EqualFold(c.Get("hs_communication_channel_type"), "WHATS_APP") {
			h.whatsapp = append(h.whatsapp, c)
		}
	}
	return h
}

// Qualify runs the analysis for one company. A returned error means the
// caller must clear the busy flag and record the failure.
func (s *Service) Qualify(ctx context.Context, company domain.Record) (Result, error) {
	props := company.Properties
	log := s.log.With().Str("company_id", company.ID).Logger()
	res := Result{CompanyID: company.ID, CompanyName: props.Get(domain.PropName)}

	workflow.Try(ctx, log, "mark_busy", func(ctx context.Context) error {
		return s.crm.UpdateCompany(ctx, company.ID, domain.Properties{domain.PropAgent: domain.AgentPending})
	})

	h := s.fetchHistory(ctx, log, company.ID)

	analysis, err := s.model.Analyze(ctx, systemPrompt, buildPrompt(props, h))
	if err != nil {
		return res, fmt.Errorf("analysis: %w", err)
	}
	if analysis == nil {
		if err := s.crm.UpdateCompany(ctx, company.ID, domain.Properties{domain.PropAgent: ""}); err != nil {
			return res, fmt.Errorf("clear %s: %w", domain.PropAgent, err)
		}
		res.Status = workflow.StatusError
		res.Message = "analysis returned no results"
		return res, nil
	}

	res.Rooms = llm.String(analysis, "cantidad_de_habitaciones")
	res.Reasoning = workflow.FixEncoding(llm.String(analysis, "razonamiento"))
	res.Summary = workflow.FixEncoding(llm.String(analysis, "resumen_interacciones"))
	if t := llm.String(analysis, "tipo_de_empresa"); t != "" {
		if companyTypes[t] {
			res.CompanyType = t
		} else {
			log.Warn().Str("tipo_de_empresa", t).Msg("discarding unknown company type")
		}
	}

	rooms := -1
	if n, err := strconv.Atoi(res.Rooms); err == nil {
		rooms = n
	}
	res.MarketFit = mapper.MarketFitWithType(rooms, res.CompanyType, props.Get(domain.PropBooking) != "")
	res.Lifecycle = "lead"
	if res.MarketFit == mapper.FitNone {
		res.Lifecycle = "subscriber"
	}

	update := domain.Properties{
		domain.PropAgent:     "",
		domain.PropMarketFit: res.MarketFit,
		domain.PropLifecycle: res.Lifecycle,
	}
	if res.Rooms != "" {
		update[domain.PropRooms] = res.Rooms
		update["habitaciones"] = res.Rooms
	}
	if res.CompanyType != "" {
		update[domain.PropType] = res.CompanyType
	}
	if err := s.crm.UpdateCompany(ctx, company.ID, update); err != nil {
		return res, fmt.Errorf("update company: %w", err)
	}

	if res.MarketFit == mapper.FitNone {
		res.LeadActions = s.handleNoFit(ctx, log, company)
	}

	res.Note = notes.Qualification{
		CompanyName: res.CompanyName,
		MarketFit:   res.MarketFit,
		Rooms:       res.Rooms,
		CompanyType: res.CompanyType,
		Lifecycle:   res.Lifecycle,
		Reasoning:   res.Reasoning,
		Summary:     res.Summary,
		LeadActions: res.LeadActions,
		Now:         s.now(),
	}.Render()
	workflow.Try(ctx, log, "qualification_note", func(ctx context.Context) error {
		return s.crm.CreateNote(ctx, company.ID, res.Note)
	})

	res.Status = workflow.StatusCompleted
	log.Info().Str("market_fit", res.MarketFit).Str("rooms", res.Rooms).Msg("lead qualified")
	return res, nil
}

// handleNoFit moves every associated lead to the no-fit stage and asks the
// lead owner, when known, to double-check the verdict.
func (s *Service) handleNoFit(ctx context.Context, log zerolog.Logger, company domain.Record) []domain.LeadAction {
	leads := workflow.BestEffort(ctx, log, "fetch_leads", nil, func(ctx context.Context) ([]domain.Record, error) {
		return crm.AssociatedRecords(ctx, s.crm, company.ID, crm.Leads, crm.LeadProperties)
	})
	hotel := company.Get(domain.PropName)
	if hotel == "" {
		hotel = "Hotel"
	}

	var actions []domain.LeadAction
	for _, lead := range leads {
		leadName := lead.Get("hs_lead_name")
		if err := s.crm.UpdateLead(ctx, lead.ID, domain.Properties{"hs_pipeline_stage": s.stage}); err != nil {
			log.Warn().Err(err).Str("lead_id", lead.ID).Msg("lead stage update failed")
			actions = append(actions, domain.LeadAction{LeadID: lead.ID, LeadName: leadName, Action: ActionError, Message: "Failed to update lead"})
			continue
		}
		actions = append(actions, domain.LeadAction{
			LeadID: lead.ID, LeadName: leadName, Action: ActionStageUpdated,
			Message: "Pipeline stage updated to " + s.stage,
		})

		owner := lead.Get("hubspot_owner_id")
		if owner == "" {
			continue
		}
		ok := workflow.Try(ctx, log, "verification_task", func(ctx context.Context) error {
			_, err := s.crm.CreateTask(ctx, company.ID, domain.Properties{
				crm.TaskSubject:    "\U0001f50e Verificar " + hotel,
				crm.TaskBody:       fmt.Sprintf("El agente calificó a %s como 'No es FIT'. Verificar si la clasificación es correcta.", hotel),
				crm.TaskStatus:     "NOT_STARTED",
				crm.TaskTimestamp:  s.now().Format(time.RFC3339),
				"hs_task_priority": "MEDIUM",
				"hs_task_type":     "TODO",
				"hubspot_owner_id": owner,
			})
			return err
		})
		if ok {
			actions = append(actions, domain.LeadAction{
				LeadID: lead.ID, LeadName: leadName, Action: ActionTaskCreated,
				Message: "Verification task created for owner " + owner,
			})
		}
	}
	return actions
}
