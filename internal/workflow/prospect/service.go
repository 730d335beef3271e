// Package prospect phones a hotel through a voice agent, trying the company
// number and then its contacts' numbers until one call connects, and files
// what the agent collected.
package prospect

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"leadflow/internal/crm"
	"leadflow/internal/domain"
	"leadflow/internal/mapper"
	"leadflow/internal/notes"
	"leadflow/internal/places"
	"leadflow/internal/upstream"
	"leadflow/internal/voice"
	"leadflow/internal/worker"
	"leadflow/internal/workflow"
)

const name = "Llamada Prospeccion"

const (
	StatusCompleted = workflow.StatusCompleted
	StatusNoPhone   = "no_phone"
	StatusAllFailed = "all_failed"
	StatusError     = workflow.StatusError
)

type CRM interface {
	SearchCompanies(ctx context.Context, agentValue string) ([]domain.Record, error)
	GetCompany(ctx context.Context, id string) (domain.Record, error)
	UpdateCompany(ctx context.Context, id string, props domain.Properties) error
	CreateNote(ctx context.Context, companyID, body string) error
	Associated(ctx context.Context, from crm.ObjectType, id string, to crm.ObjectType) ([]string, error)
	GetObjects(ctx context.Context, typ crm.ObjectType, ids []string, props []string) ([]domain.Record, error)
	CreateContact(ctx context.Context, companyID string, props domain.Properties) (string, error)
	UpdateContact(ctx context.Context, id string, props domain.Properties) error
	CreateCall(ctx context.Context, companyID string, props domain.Properties) (string, error)
}

// Caller is the voice agent. *voice.Client satisfies it.
type Caller interface {
	StartOutboundCall(ctx context.Context, to string, vars map[string]string) (voice.CallStart, error)
	Conversation(ctx context.Context, id string) (voice.Conversation, error)
}

// PlaceLookup fills in a missing state. Optional.
type PlaceLookup interface {
	SearchText(ctx context.Context, query string) (*places.Place, error)
	Get(ctx context.Context, id string) (*places.Place, error)
}

type Options struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
	// AnalysisRetries bounds the re-reads of a finished conversation while
	// its analysis is still being computed.
	AnalysisRetries int
	AnalysisDelay   time.Duration
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 5 * time.Minute
	}
	if o.AnalysisRetries <= 0 {
		o.AnalysisRetries = 6
	}
	if o.AnalysisDelay <= 0 {
		o.AnalysisDelay = 5 * time.Second
	}
}

type Service struct {
	crm    CRM
	caller Caller
	places PlaceLookup
	opts   Options
	log    zerolog.Logger
	now    func() time.Time
}

var (
	_ worker.Workflow = (*Service)(nil)
	_ worker.Resolver = (*Service)(nil)
)

// New builds the service. pl may be nil.
func New(c CRM, caller Caller, pl PlaceLookup, opts Options, logger zerolog.Logger) *Service {
	opts.defaults()
	return &Service{
		crm:    c,
		caller: caller,
		places: pl,
		opts:   opts,
		log:    logger.With().Str("component", "prospect").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type Result struct {
	CompanyID   string               `json:"company_id"`
	CompanyName string               `json:"company_name,omitempty"`
	Status      string               `json:"status"`
	Message     string               `json:"message,omitempty"`
	Attempts    []domain.CallAttempt `json:"call_attempts,omitempty"`
	Data        *domain.CallData     `json:"extracted_data,omitempty"`
	Transcript  string               `json:"transcript,omitempty"`
	Note        string               `json:"note,omitempty"`
	CallID      string               `json:"call_id,omitempty"`
}

func (s *Service) ResolveNextSubject(ctx context.Context) (string, error) {
	found, err := s.crm.SearchCompanies(ctx, domain.AgentProspecting)
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
		found, err := s.crm.SearchCompanies(ctx, domain.AgentProspecting)
		if err != nil {
			return nil, fmt.Errorf("search companies: %w", err)
		}
		if len(found) == 0 {
			return Result{
				Status:  StatusError,
				Message: fmt.Sprintf("No companies found with %s=%q", domain.PropAgent, domain.AgentProspecting),
			}, nil
		}
		company = found[0]
	}

	res, err := s.Prospect(ctx, company)
	if err != nil {
		res.Status = StatusError
		res.Message = workflow.Abort(ctx, s.crm, s.log, name, company, err, s.now())
	}
	return res, nil
}

type history struct {
	notes, emails, contacts []domain.Record
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
	fetch(&h.notes, crm.Notes, crm.NoteProperties)
	fetch(&h.emails, crm.Emails, crm.EmailProperties)
	fetch(&h.contacts, crm.Contacts, crm.ContactProperties)
	_ = g.Wait()
	return h
}

// Prospect calls one company. A returned error leaves cleanup to the caller.
func (s *Service) Prospect(ctx context.Context, company domain.Record) (Result, error) {
	props := company.Properties
	log := s.log.With().Str("company_id", company.ID).Logger()
	res := Result{CompanyID: company.ID, CompanyName: props.Get(domain.PropName)}

	h := s.fetchHistory(ctx, log, company.ID)

	phones := phoneList(props, h.contacts)
	if len(phones) == 0 {
		if err := s.crm.UpdateCompany(ctx, company.ID, domain.Properties{domain.PropAgent: ""}); err != nil {
			return res, fmt.Errorf("clear %s: %w", domain.PropAgent, err)
		}
		res.Status = StatusNoPhone
		res.Message = "No phone numbers found for company or contacts"
		workflow.Try(ctx, log, "error_note", func(ctx context.Context) error {
			return s.crm.CreateNote(ctx, company.ID, notes.Error(name, res.CompanyName, StatusNoPhone, res.Message, s.now()))
		})
		return res, nil
	}

	vars := dynamicVariables(props, h)
	var conv *voice.Conversation
	var connected domain.CallAttempt
	for _, p := range phones {
		attempt := s.tryCall(ctx, log, p.number, p.source, vars)
		res.Attempts = append(res.Attempts, attempt)
		if attempt.Status == domain.CallConnected {
			c, err := s.fetchWithAnalysis(ctx, log, attempt.ConversationID)
			if err != nil {
				return res, fmt.Errorf("read conversation %s: %w", attempt.ConversationID, err)
			}
			conv, connected = &c, attempt
			break
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
	}

	if conv == nil {
		if err := s.crm.UpdateCompany(ctx, company.ID, domain.Properties{domain.PropAgent: ""}); err != nil {
			return res, fmt.Errorf("clear %s: %w", domain.PropAgent, err)
		}
		res.Status = StatusAllFailed
		res.Message = "All phone numbers failed"
		res.Note = notes.ProspectCall(res.CompanyName, res.Attempts, nil, s.now())
		workflow.Try(ctx, log, "call_note", func(ctx context.Context) error {
			return s.crm.CreateNote(ctx, company.ID, res.Note)
		})
		return res, nil
	}

	data := extract(*conv)
	res.Data = &data
	res.Transcript = transcript(*conv)

	update := domain.Properties{domain.PropAgent: ""}
	if props.Get(domain.PropMarketFit) == "" {
		if n, ok := parseRooms(data.NumRooms); ok {
			update[domain.PropMarketFit] = callMarketFit(n)
		}
	}
	if props.Get(domain.PropState) == "" && s.places != nil {
		if state := workflow.BestEffort(ctx, log, "state_lookup", "", func(ctx context.Context) (string, error) {
			return s.lookupState(ctx, log, props)
		}); state != "" {
			update[domain.PropState] = state
		}
	}
	if err := s.crm.UpdateCompany(ctx, company.ID, update); err != nil {
		return res, fmt.Errorf("update company: %w", err)
	}

	res.Note = notes.ProspectCall(res.CompanyName, res.Attempts, &data, s.now())
	workflow.Try(ctx, log, "call_note", func(ctx context.Context) error {
		return s.crm.CreateNote(ctx, company.ID, res.Note)
	})

	workflow.Try(ctx, log, "decision_maker_contact", func(ctx context.Context) error {
		return s.upsertDecisionMaker(ctx, log, company.ID, data, h.contacts)
	})

	res.CallID = workflow.BestEffort(ctx, log, "register_call", "", func(ctx context.Context) (string, error) {
		return s.crm.CreateCall(ctx, company.ID, callProperties(company, *conv, connected, data, s.now()))
	})

	res.Status = StatusCompleted
	log.Info().Str("phone", connected.PhoneNumber).Msg("prospecting call completed")
	return res, nil
}

func (s *Service) tryCall(ctx context.Context, log zerolog.Logger, phone, source string, vars map[string]string) domain.CallAttempt {
	attempt := domain.CallAttempt{PhoneNumber: phone, Source: source}
	start, err := s.caller.StartOutboundCall(ctx, phone, vars)
	if err != nil {
		log.Warn().Err(err).Str("phone", phone).Msg("call failed")
		attempt.Status, attempt.Error = domain.CallError, describeError(err)
		return attempt
	}
	if start.ConversationID == "" {
		attempt.Status = domain.CallFailed
		attempt.Error = start.Message
		if attempt.Error == "" {
			attempt.Error = "Call not started"
		}
		return attempt
	}
	attempt.ConversationID = start.ConversationID
	// SIP errors come back unsuccessful with a conversation id; nothing to poll.
	if !start.Success && start.Message != "" {
		attempt.Status, attempt.Error = domain.CallFailed, start.Message
		return attempt
	}

	conv, err := s.poll(ctx, log, start.ConversationID)
	if err != nil {
		log.Warn().Err(err).Str("phone", phone).Msg("conversation polling failed")
		attempt.Status, attempt.Error = domain.CallError, describeError(err)
		return attempt
	}
	if conv.Status == voice.StatusDone {
		attempt.Status = domain.CallConnected
		return attempt
	}
	attempt.Status = domain.CallFailed
	attempt.Error = "Conversation ended with status: " + conv.Status
	return attempt
}

// poll waits for the conversation to finish. A timeout reads as failed.
func (s *Service) poll(ctx context.Context, log zerolog.Logger, id string) (voice.Conversation, error) {
	deadline := s.now().Add(s.opts.PollTimeout)
	for !s.now().After(deadline) {
		if err := workflow.Sleep(ctx, s.opts.PollInterval); err != nil {
			return voice.Conversation{}, err
		}
		conv, err := s.caller.Conversation(ctx, id)
		if err != nil {
			return voice.Conversation{}, err
		}
		log.Debug().Str("conversation_id", id).Str("status", conv.Status).Msg("conversation status")
		if conv.Finished() {
			return conv, nil
		}
	}
	log.Warn().Str("conversation_id", id).Dur("timeout", s.opts.PollTimeout).Msg("conversation timed out")
	return voice.Conversation{ConversationID: id, Status: voice.StatusFailed}, nil
}

// fetchWithAnalysis re-reads a finished conversation until the collected
// data shows up, then settles for whatever is there.
func (s *Service) fetchWithAnalysis(ctx context.Context, log zerolog.Logger, id string) (voice.Conversation, error) {
	var conv voice.Conversation
	for i := 0; i < s.opts.AnalysisRetries; i++ {
		if i > 0 {
			if err := workflow.Sleep(ctx, s.opts.AnalysisDelay); err != nil {
				return conv, err
			}
		}
		c, err := s.caller.Conversation(ctx, id)
		if err != nil {
			return conv, err
		}
		conv = c
		if a := conv.Analysis; a != nil && (len(a.DataCollectionResults) > 0 || len(a.ExtractedData) > 0) {
			return conv, nil
		}
	}
	log.Warn().Str("conversation_id", id).Msg("conversation analysis not available, proceeding without")
	return conv, nil
}

func (s *Service) lookupState(ctx context.Context, log zerolog.Logger, props domain.Properties) (string, error) {
	var place *places.Place
	if id := props.Get(domain.PropPlaceID); id != "" {
		p, err := s.places.Get(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("place_id", id).Msg("place id lookup failed, falling back to text search")
		}
		place = p
	}
	if place == nil {
		q := places.BuildQuery(props.Get(domain.PropName), props.Get(domain.PropCity), props.Get(domain.PropCountry))
		if q == "" {
			return "", nil
		}
		p, err := s.places.SearchText(ctx, q)
		if err != nil {
			return "", err
		}
		place = p
	}
	if place == nil {
		return "", nil
	}
	return mapper.ParseAddress(place.AddressComponents).State, nil
}

// upsertDecisionMaker fills the blanks of the contact with the same email,
// or creates one.
func (s *Service) upsertDecisionMaker(ctx context.Context, log zerolog.Logger, companyID string, d domain.CallData, contacts []domain.Record) error {
	if d.DecisionMakerName == "" && d.DecisionMakerPhone == "" && d.DecisionMakerEmail == "" {
		return nil
	}
	props := domain.Properties{}
	first, last := splitName(d.DecisionMakerName)
	for k, v := range map[string]string{
		"firstname": first,
		"lastname":  last,
		"phone":     d.DecisionMakerPhone,
		"email":     d.DecisionMakerEmail,
	} {
		if v != "" {
			props[k] = v
		}
	}

	if d.DecisionMakerEmail != "" {
		for _, c := range contacts {
			if !strings.EqualFold(c.Get("email"), d.DecisionMakerEmail) {
				continue
			}
			missing := domain.Properties{}
			for k, v := range props {
				if c.Get(k) == "" {
					missing[k] = v
				}
			}
			if len(missing) == 0 {
				return nil
			}
			log.Info().Str("contact_id", c.ID).Msg("updating decision maker contact")
			return s.crm.UpdateContact(ctx, c.ID, missing)
		}
	}
	id, err := s.crm.CreateContact(ctx, companyID, props)
	if err == nil {
		log.Info().Str("contact_id", id).Msg("created decision maker contact")
	}
	return err
}

type phone struct {
	number string
	source string
}

// phoneList orders the company phone first, then each contact's phone and
// mobile, dropping numbers whose digits were already seen.
func phoneList(company domain.Properties, contacts []domain.Record) []phone {
	seen := map[string]bool{}
	var out []phone
	add := func(raw, source string) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		if !strings.HasPrefix(raw, "+") {
			raw = "+" + raw
		}
		d := mapper.Digits(raw)
		if d == "" || seen[d] {
			return
		}
		seen[d] = true
		out = append(out, phone{number: raw, source: source})
	}
	add(company.Get(domain.PropPhone), "company")
	for _, c := range contacts {
		add(c.Get("phone"), "contact:"+c.ID+":phone")
		add(c.Get("mobilephone"), "contact:"+c.ID+":mobile")
	}
	return out
}

func joinOr(items []string, sep, none string) string {
	if len(items) == 0 {
		return none
	}
	return strings.Join(items, sep)
}

// dynamicVariables is the context handed to the voice agent.
func dynamicVariables(p domain.Properties, h history) map[string]string {
	var contacts, recent, subjects []string
	for _, c := range h.contacts[:min(3, len(h.contacts))] {
		who := strings.TrimSpace(c.Get("firstname") + " " + c.Get("lastname"))
		if who == "" {
			who = "Sin nombre"
		}
		if job := c.Get("jobtitle"); job != "" {
			who += " (" + job + ")"
		}
		contacts = append(contacts, who)
	}
	for _, n := range h.notes[:min(3, len(h.notes))] {
		if body := n.Get("hs_note_body"); body != "" {
			recent = append(recent, workflow.Clean(body, 200))
		}
	}
	for _, e := range h.emails[:min(3, len(h.emails))] {
		if subj := e.Get("hs_email_subject"); subj != "" {
			subjects = append(subjects, subj)
		}
	}
	return map[string]string{
		"hotel_name":     p.Get(domain.PropName),
		"hotel_city":     p.Get(domain.PropCity),
		"hotel_country":  p.Get(domain.PropCountry),
		"hotel_website":  p.Get(domain.PropWebsite),
		"hotel_address":  p.Get(domain.PropAddress),
		"known_contacts": joinOr(contacts, ", ", "Ninguno"),
		"recent_notes":   joinOr(recent, " | ", "Ninguna"),
		"recent_emails":  joinOr(subjects, ", ", "Ninguno"),
	}
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return workflow.FixEncoding(strings.TrimSpace(t))
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// extract reads the collected data, preferring the data-collection results
// over the free-form extraction.
func extract(conv voice.Conversation) domain.CallData {
	raw := map[string]any{}
	if a := conv.Analysis; a != nil {
		if len(a.DataCollectionResults) > 0 {
			for k, v := range a.DataCollectionResults {
				raw[k] = v.Value
			}
		} else {
			raw = a.ExtractedData
		}
	}
	get := func(k string) string { return scalar(raw[k]) }
	return domain.CallData{
		HotelName:          get("hotel_name"),
		NumRooms:           get("num_rooms"),
		DecisionMakerName:  get("decision_maker_name"),
		DecisionMakerPhone: get("decision_maker_phone"),
		DecisionMakerEmail: get("decision_maker_email"),
		DateAndTime:        get("date_and_time"),
	}
}

func transcript(conv voice.Conversation) string {
	lines := make([]string, 0, len(conv.Transcript))
	for _, e := range conv.Transcript {
		role := "Hotel"
		if e.Role == "agent" {
			role = "Agente"
		}
		lines = append(lines, role+": "+workflow.FixEncoding(e.Message))
	}
	return strings.Join(lines, "\n")
}

var digitsRe = regexp.MustCompile(`\d+`)

func parseRooms(s string) (int, bool) {
	m := digitsRe.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	return n, err == nil
}

// callMarketFit classifies a room count heard on a call. A hotel that took
// the call is never written off as no-fit.
func callMarketFit(rooms int) string {
	if fit := mapper.MarketFit(rooms); fit != mapper.FitNone {
		return fit
	}
	return mapper.FitHormiga
}

func splitName(full string) (first, last string) {
	parts := strings.SplitN(strings.Join(strings.Fields(full), " "), " ", 2)
	switch len(parts) {
	case 2:
		return parts[0], parts[1]
	case 1:
		return parts[0], ""
	}
	return "", ""
}

func callProperties(company domain.Record, conv voice.Conversation, attempt domain.CallAttempt, d domain.CallData, now time.Time) domain.Properties {
	var body []string
	for _, kv := range [][2]string{
		{"Hotel", d.HotelName},
		{"Habitaciones", d.NumRooms},
		{"Contacto", d.DecisionMakerName},
		{"Disponibilidad demo", d.DateAndTime},
	} {
		if kv[1] != "" {
			body = append(body, kv[0]+": "+kv[1])
		}
	}
	title := company.Get(domain.PropName)
	if title == "" {
		title = company.ID
	}
	props := domain.Properties{
		"hs_timestamp":      now.Format(time.RFC3339),
		"hs_call_title":     "Llamada de Prospeccion - " + title,
		"hs_call_body":      strings.Join(body, ". "),
		"hs_call_status":    "COMPLETED",
		"hs_call_direction": "OUTBOUND",
		"hs_call_to_number": attempt.PhoneNumber,
	}
	if ms, ok := durationMillis(conv.Metadata); ok {
		props["hs_call_duration"] = strconv.FormatInt(ms, 10)
	}
	return props
}

func durationMillis(meta map[string]any) (int64, bool) {
	start, ok1 := meta["start_time_unix_secs"].(float64)
	end, ok2 := meta["end_time_unix_secs"].(float64)
	if !ok1 || !ok2 {
		return 0, false
	}
	return int64((end - start) * 1000), true
}

// describeError turns a dial failure into the reason shown in the call note.
func describeError(err error) string {
	var ue *upstream.Error
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Tiempo de espera agotado"
	case errors.As(err, &ue):
		return fmt.Sprintf("HTTP %d", ue.StatusCode)
	case upstream.IsRateLimit(err):
		return "HTTP 429"
	case errors.As(err, &ne) && ne.Timeout():
		return "Tiempo de espera agotado"
	case errors.As(err, new(*net.OpError)):
		return "Error de conexión"
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return fmt.Sprintf("%T", err)
}
