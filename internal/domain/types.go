package domain

import (
	"strings"
	"time"
)

// Task types. Each names one workflow; the job store scopes all lookups by it.
const (
	TaskEnrichment  = "datos"
	TaskQualifyLead = "calificar_lead"
	TaskProspecting = "prospeccion"
	TaskActivation  = "hacer_tareas"
)

// Busy-flag values written to the company's agent property.
const (
	AgentEnrichment  = "datos"
	AgentQualifyLead = "calificar_lead"
	AgentProspecting = "llamada_prospeccion"
	AgentPending     = "pendiente"
)

// CRM company property names.
const (
	PropName      = "name"
	PropDomain    = "domain"
	PropPhone     = "phone"
	PropWebsite   = "website"
	PropAddress   = "address"
	PropCity      = "city"
	PropState     = "state"
	PropZip       = "zip"
	PropCountry   = "country"
	PropPlaza     = "plaza"
	PropAgent     = "agente"
	PropPlaceID   = "id_hotel"
	PropReviewID  = "id_tripadvisor"
	PropBooking   = "booking_url"
	PropMarketFit = "market_fit"
	PropType      = "tipo_de_empresa"
	PropRooms     = "cantidad_de_habitaciones"
	PropLifecycle = "lifecyclestage"
)

// CompanyProperties is the property set read for every company lookup.
var CompanyProperties = []string{
	PropName, PropDomain, PropPhone, PropWebsite, PropAddress, PropCity, PropState,
	PropZip, PropCountry, PropPlaza, PropAgent, PropPlaceID, PropReviewID,
	"ta_rating", "ta_reviews_count", "ta_ranking", "ta_price_level",
	"ta_category", "ta_subcategory", "ta_url",
	PropBooking, PropMarketFit, PropType, PropRooms,
}

// Properties is a CRM property bag. Missing and empty values are equivalent.
type Properties map[string]string

// Get returns the trimmed value for key.
func (p Properties) Get(key string) string {
	return strings.TrimSpace(p[key])
}

// Clone returns a shallow copy; a nil receiver yields an empty map.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Record is any CRM object: a company, contact, note, task, lead or call.
type Record struct {
	ID         string     `json:"id"`
	Properties Properties `json:"properties"`
}

func (r Record) Get(key string) string { return r.Properties.Get(key) }

// FieldChange records one staged property update.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the job has finished, successfully or not.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is one unit of asynchronous work. SubjectID is empty for workflows
// without a natural subject.
type Job struct {
	ID         string     `json:"job_id"`
	TaskType   string     `json:"task_type"`
	Status     JobStatus  `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	SubjectID  string     `json:"company_id,omitempty"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Call attempt statuses.
const (
	CallConnected = "connected"
	CallNoAnswer  = "no_answer"
	CallFailed    = "failed"
	CallError     = "error"
)

// CallAttempt is one outbound dial made by the prospecting workflow. Source
// is "company" or "contact:<id>:phone|mobile".
type CallAttempt struct {
	PhoneNumber    string `json:"phone_number"`
	Source         string `json:"source"`
	Status         string `json:"status"`
	ConversationID string `json:"conversation_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// CallData is what the voice agent collected during a connected call.
type CallData struct {
	HotelName          string `json:"hotel_name,omitempty"`
	NumRooms           string `json:"num_rooms,omitempty"`
	DecisionMakerName  string `json:"decision_maker_name,omitempty"`
	DecisionMakerPhone string `json:"decision_maker_phone,omitempty"`
	DecisionMakerEmail string `json:"decision_maker_email,omitempty"`
	DateAndTime        string `json:"date_and_time,omitempty"`
}

// Empty reports whether nothing was collected.
func (d CallData) Empty() bool {
	return d == CallData{}
}

// LeadAction records what lead qualification did to one associated lead.
type LeadAction struct {
	LeadID   string `json:"lead_id"`
	LeadName string `json:"lead_name,omitempty"`
	Action   string `json:"action"`
	Message  string `json:"message,omitempty"`
}
