// Package crmtest provides an in-memory CRM for workflow tests and a
// wrapper that injects failures into selected calls.
package crmtest

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"leadflow/internal/crm"
	crmsqlite "leadflow/internal/crm/sqlite"
	"leadflow/internal/domain"
)

// NewStore opens a fresh in-memory CRM.
func NewStore(t testing.TB) *crmsqlite.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, crmsqlite.EnsureSchema(db))
	return crmsqlite.New(db)
}

// Company creates a company and returns its id.
func Company(t testing.TB, s *crmsqlite.Store, props domain.Properties) string {
	t.Helper()
	id, err := s.CreateCompany(context.Background(), props)
	require.NoError(t, err)
	return id
}

// Hook is consulted before every call. A non-nil error is returned
// instead of calling through.
type Hook func(method string, args ...any) error

// Faulty wraps a crm.Client. It also counts calls per method.
type Faulty struct {
	crm.Client

	mu    sync.Mutex
	hook  Hook
	calls map[string]int
}

func Wrap(c crm.Client) *Faulty {
	return &Faulty{Client: c, calls: map[string]int{}}
}

func (f *Faulty) SetHook(h Hook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = h
}

func (f *Faulty) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *Faulty) before(method string, args ...any) error {
	f.mu.Lock()
	f.calls[method]++
	h := f.hook
	f.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(method, args...)
}

func (f *Faulty) SearchCompanies(ctx context.Context, agentValue string) ([]domain.Record, error) {
	if err := f.before("SearchCompanies", agentValue); err != nil {
		return nil, err
	}
	return f.Client.SearchCompanies(ctx, agentValue)
}

func (f *Faulty) GetCompany(ctx context.Context, id string) (domain.Record, error) {
	if err := f.before("GetCompany", id); err != nil {
		return domain.Record{}, err
	}
	return f.Client.GetCompany(ctx, id)
}

func (f *Faulty) UpdateCompany(ctx context.Context, id string, props domain.Properties) error {
	if err := f.before("UpdateCompany", id, props); err != nil {
		return err
	}
	return f.Client.UpdateCompany(ctx, id, props)
}

func (f *Faulty) MergeCompanies(ctx context.Context, winnerID, loserID string) error {
	if err := f.before("MergeCompanies", winnerID, loserID); err != nil {
		return err
	}
	return f.Client.MergeCompanies(ctx, winnerID, loserID)
}

func (f *Faulty) CreateNote(ctx context.Context, companyID, body string) error {
	if err := f.before("CreateNote", companyID, body); err != nil {
		return err
	}
	return f.Client.CreateNote(ctx, companyID, body)
}

func (f *Faulty) Associated(ctx context.Context, from crm.ObjectType, id string, to crm.ObjectType) ([]string, error) {
	if err := f.before("Associated", from, id, to); err != nil {
		return nil, err
	}
	return f.Client.Associated(ctx, from, id, to)
}

func (f *Faulty) GetObjects(ctx context.Context, typ crm.ObjectType, ids []string, props []string) ([]domain.Record, error) {
	if err := f.before("GetObjects", typ, ids); err != nil {
		return nil, err
	}
	return f.Client.GetObjects(ctx, typ, ids, props)
}

func (f *Faulty) CreateContact(ctx context.Context, companyID string, props domain.Properties) (string, error) {
	if err := f.before("CreateContact", companyID, props); err != nil {
		return "", err
	}
	return f.Client.CreateContact(ctx, companyID, props)
}

func (f *Faulty) UpdateContact(ctx context.Context, id string, props domain.Properties) error {
	if err := f.before("UpdateContact", id, props); err != nil {
		return err
	}
	return f.Client.UpdateContact(ctx, id, props)
}

func (f *Faulty) SearchOpenTasks(ctx context.Context) ([]domain.Record, error) {
	if err := f.before("SearchOpenTasks"); err != nil {
		return nil, err
	}
	return f.Client.SearchOpenTasks(ctx)
}

func (f *Faulty) UpdateTask(ctx context.Context, id string, props domain.Properties) error {
	if err := f.before("UpdateTask", id, props); err != nil {
		return err
	}
	return f.Client.UpdateTask(ctx, id, props)
}

func (f *Faulty) CreateTask(ctx context.Context, companyID string, props domain.Properties) (string, error) {
	if err := f.before("CreateTask", companyID, props); err != nil {
		return "", err
	}
	return f.Client.CreateTask(ctx, companyID, props)
}

func (f *Faulty) UpdateLead(ctx context.Context, id string, props domain.Properties) error {
	if err := f.before("UpdateLead", id, props); err != nil {
		return err
	}
	return f.Client.UpdateLead(ctx, id, props)
}

func (f *Faulty) CreateCall(ctx context.Context, companyID string, props domain.Properties) (string, error) {
	if err := f.before("CreateCall", companyID, props); err != nil {
		return "", err
	}
	return f.Client.CreateCall(ctx, companyID, props)
}
