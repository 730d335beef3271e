// Package crm defines the CRM contract used by the workflows. Two backends
// implement it: crm/hubspot (remote) and crm/sqlite (local).
package crm

import (
	"context"
	"errors"
	"fmt"

	"leadflow/internal/domain"
)

type ObjectType string

const (
	Companies      ObjectType = "companies"
	Contacts       ObjectType = "contacts"
	Notes          ObjectType = "notes"
	Calls          ObjectType = "calls"
	Emails         ObjectType = "emails"
	Communications ObjectType = "communications"
	Leads          ObjectType = "leads"
	Tasks          ObjectType = "tasks"
)

// Task property names.
const (
	TaskSubject   = "hs_task_subject"
	TaskBody      = "hs_task_body"
	TaskStatus    = "hs_task_status"
	TaskTimestamp = "hs_timestamp"
	TaskCompleted = "COMPLETED"
)

var ErrNotFound = errors.New("crm: record not found")

// DuplicateValueError reports a uniqueness violation on Field. ConflictingID
// names the record that already holds Value.
type DuplicateValueError struct {
	Field         string
	Value         string
	ConflictingID string
}

func (e *DuplicateValueError) Error() string {
	return fmt.Sprintf("crm: %s=%q already held by record %s", e.Field, e.Value, e.ConflictingID)
}

// AsDuplicate unwraps a *DuplicateValueError from err.
func AsDuplicate(err error) (*DuplicateValueError, bool) {
	var dup *DuplicateValueError
	if errors.As(err, &dup) {
		return dup, true
	}
	return nil, false
}

// Client is the full CRM surface. Consumers declare the narrower interfaces
// they need.
type Client interface {
	// SearchCompanies returns every company whose busy-flag equals agentValue.
	SearchCompanies(ctx context.Context, agentValue string) ([]domain.Record, error)
	GetCompany(ctx context.Context, id string) (domain.Record, error)
	UpdateCompany(ctx context.Context, id string, props domain.Properties) error
	MergeCompanies(ctx context.Context, winnerID, loserID string) error
	CreateNote(ctx context.Context, companyID, body string) error

	Associated(ctx context.Context, from ObjectType, id string, to ObjectType) ([]string, error)
	GetObjects(ctx context.Context, typ ObjectType, ids []string, props []string) ([]domain.Record, error)

	CreateContact(ctx context.Context, companyID string, props domain.Properties) (string, error)
	UpdateContact(ctx context.Context, id string, props domain.Properties) error

	// SearchOpenTasks returns tasks not yet completed.
	SearchOpenTasks(ctx context.Context) ([]domain.Record, error)
	UpdateTask(ctx context.Context, id string, props domain.Properties) error
	CreateTask(ctx context.Context, companyID string, props domain.Properties) (string, error)

	UpdateLead(ctx context.Context, id string, props domain.Properties) error
	CreateCall(ctx context.Context, companyID string, props domain.Properties) (string, error)
}

// Reader is the lookup half of Client used by AssociatedRecords.
type Reader interface {
	Associated(ctx context.Context, from ObjectType, id string, to ObjectType) ([]string, error)
	GetObjects(ctx context.Context, typ ObjectType, ids []string, props []string) ([]domain.Record, error)
}

// Properties read for associated objects.
var (
	ContactProperties       = []string{"firstname", "lastname", "email", "phone", "mobilephone", "jobtitle", "hs_whatsapp_phone_number"}
	NoteProperties          = []string{"hs_note_body", "hs_timestamp"}
	CallProperties          = []string{"hs_call_body", "hs_call_direction", "hs_call_status", "hs_timestamp"}
	EmailProperties         = []string{"hs_email_subject", "hs_email_direction", "hs_timestamp"}
	CommunicationProperties = []string{"hs_communication_channel_type", "hs_communication_body", "hs_body_preview", "hs_timestamp"}
	LeadProperties          = []string{"hs_lead_name", "hs_pipeline_stage", "hubspot_owner_id"}
)

// AssociatedRecords resolves the associations of a company and reads them.
func AssociatedRecords(ctx context.Context, r Reader, companyID string, to ObjectType, props []string) ([]domain.Record, error) {
	ids, err := r.Associated(ctx, Companies, companyID, to)
	if err != nil {
		return nil, fmt.Errorf("list %s of company %s: %w", to, companyID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return r.GetObjects(ctx, to, ids, props)
}
