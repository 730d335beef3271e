// Package sqlite is a local crm.Client backed by database/sql. The external
// place id column carries a UNIQUE index so duplicate-value conflicts behave
// the way they do on the hosted CRM.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"leadflow/internal/crm"
	"leadflow/internal/domain"
)

var _ crm.Client = (*Store)(nil)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS companies (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  place_id TEXT,
  agent TEXT NOT NULL DEFAULT '',
  properties TEXT NOT NULL DEFAULT '{}',
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_place ON companies(place_id) WHERE place_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_companies_agent ON companies(agent);
CREATE TABLE IF NOT EXISTS objects (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  type TEXT NOT NULL,
  properties TEXT NOT NULL DEFAULT '{}',
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_objects_type ON objects(type);
CREATE TABLE IF NOT EXISTS associations (
  from_type TEXT NOT NULL,
  from_id TEXT NOT NULL,
  to_type TEXT NOT NULL,
  to_id TEXT NOT NULL,
  PRIMARY KEY (from_type, from_id, to_type, to_id)
);
CREATE INDEX IF NOT EXISTS idx_assoc_to ON associations(to_type, to_id);
`
	_, err := db.Exec(schema)
	return err
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store { return &Store{db: db, now: time.Now} }

// CreateCompany inserts a company and returns its id.
func (s *Store) CreateCompany(ctx context.Context, props domain.Properties) (string, error) {
	raw, err := encode(props)
	if err != nil {
		return "", err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO companies (place_id, agent, properties) VALUES (?,?,?)`,
		nullable(props.Get(domain.PropPlaceID)), props.Get(domain.PropAgent), raw)
	if err != nil {
		return "", s.uniqueness(ctx, err, "", props.Get(domain.PropPlaceID))
	}
	id, _ := res.LastInsertId()
	return strconv.FormatInt(id, 10), nil
}

func (s *Store) SearchCompanies(ctx context.Context, agentValue string) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, properties FROM companies WHERE agent = ? ORDER BY id`, agentValue)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (s *Store) GetCompany(ctx context.Context, id string) (domain.Record, error) {
	props, err := s.companyProps(ctx, s.db, id)
	if err != nil {
		return domain.Record{}, err
	}
	return domain.Record{ID: id, Properties: props}, nil
}

// UpdateCompany applies a partial patch. Empty values clear the property.
func (s *Store) UpdateCompany(ctx context.Context, id string, patch domain.Properties) error {
	props, err := s.companyProps(ctx, s.db, id)
	if err != nil {
		return err
	}
	apply(props, patch)
	raw, err := encode(props)
	if err != nil {
		return err
	}
	placeID := props.Get(domain.PropPlaceID)
	_, err = s.db.ExecContext(ctx, `
UPDATE companies SET place_id=?, agent=?, properties=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`,
		nullable(placeID), props.Get(domain.PropAgent), raw, id)
	if err != nil {
		return s.uniqueness(ctx, err, id, placeID)
	}
	return nil
}

// MergeCompanies folds the loser into the winner: blank winner properties are
// filled from the loser, associations move over and the loser row is deleted.
func (s *Store) MergeCompanies(ctx context.Context, winnerID, loserID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	winner, err := s.companyProps(ctx, tx, winnerID)
	if err != nil {
		return err
	}
	loser, err := s.companyProps(ctx, tx, loserID)
	if err != nil {
		return err
	}
	for k, v := range loser {
		if winner.Get(k) == "" && strings.TrimSpace(v) != "" {
			winner[k] = v
		}
	}
	raw, err := encode(winner)
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM companies WHERE id=?`, loserID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `
UPDATE companies SET place_id=?, agent=?, properties=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`,
		nullable(winner.Get(domain.PropPlaceID)), winner.Get(domain.PropAgent), raw, winnerID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `
UPDATE OR IGNORE associations SET to_id=? WHERE to_type=? AND to_id=?`, winnerID, string(crm.Companies), loserID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM associations WHERE to_type=? AND to_id=?`, string(crm.Companies), loserID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateNote(ctx context.Context, companyID, body string) error {
	_, err := s.createObject(ctx, crm.Notes, companyID, domain.Properties{
		"hs_note_body": body,
		"hs_timestamp": s.now().UTC().Format(time.RFC3339),
	})
	return err
}

// Associated lists ids linked to (from, id) in either direction.
func (s *Store) Associated(ctx context.Context, from crm.ObjectType, id string, to crm.ObjectType) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT to_id FROM associations WHERE from_type=? AND from_id=? AND to_type=?
UNION
SELECT from_id FROM associations WHERE to_type=? AND to_id=? AND from_type=?`,
		string(from), id, string(to), string(from), id, string(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		ids = append(ids, v)
	}
	return ids, rows.Err()
}

// GetObjects reads objects by id. Missing ids are skipped. props is ignored;
// every stored property is returned.
func (s *Store) GetObjects(ctx context.Context, typ crm.ObjectType, ids []string, _ []string) ([]domain.Record, error) {
	if typ == crm.Companies {
		var out []domain.Record
		for _, id := range ids {
			rec, err := s.GetCompany(ctx, id)
			if errors.Is(err, crm.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		return out, nil
	}
	if len(ids) == 0 {
		return nil, nil
	}
	args := []any{string(typ)}
	for _, id := range ids {
		args = append(args, id)
	}
	q := `SELECT id, properties FROM objects WHERE type=? AND id IN (?` + strings.Repeat(",?", len(ids)-1) + `) ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (s *Store) CreateContact(ctx context.Context, companyID string, props domain.Properties) (string, error) {
	return s.createObject(ctx, crm.Contacts, companyID, props)
}

func (s *Store) UpdateContact(ctx context.Context, id string, props domain.Properties) error {
	return s.updateObject(ctx, crm.Contacts, id, props)
}

func (s *Store) SearchOpenTasks(ctx context.Context) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, properties FROM objects
WHERE type=? AND COALESCE(json_extract(properties, '$.hs_task_status'), '') <> ?
ORDER BY id`, string(crm.Tasks), crm.TaskCompleted)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (s *Store) UpdateTask(ctx context.Context, id string, props domain.Properties) error {
	return s.updateObject(ctx, crm.Tasks, id, props)
}

func (s *Store) CreateTask(ctx context.Context, companyID string, props domain.Properties) (string, error) {
	return s.createObject(ctx, crm.Tasks, companyID, props)
}

func (s *Store) UpdateLead(ctx context.Context, id string, props domain.Properties) error {
	return s.updateObject(ctx, crm.Leads, id, props)
}

func (s *Store) CreateCall(ctx context.Context, companyID string, props domain.Properties) (string, error) {
	return s.createObject(ctx, crm.Calls, companyID, props)
}

// CreateObject inserts an engagement or contact of any type linked to a
// company. Used for seeding and tests.
func (s *Store) CreateObject(ctx context.Context, typ crm.ObjectType, companyID string, props domain.Properties) (string, error) {
	return s.createObject(ctx, typ, companyID, props)
}

func (s *Store) createObject(ctx context.Context, typ crm.ObjectType, companyID string, props domain.Properties) (id string, err error) {
	raw, err := encode(props)
	if err != nil {
		return "", err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx, `INSERT INTO objects (type, properties) VALUES (?,?)`, string(typ), raw)
	if err != nil {
		return "", err
	}
	n, _ := res.LastInsertId()
	id = strconv.FormatInt(n, 10)
	if companyID != "" {
		if _, err = tx.ExecContext(ctx, `
INSERT OR IGNORE INTO associations (from_type, from_id, to_type, to_id) VALUES (?,?,?,?)`,
			string(typ), id, string(crm.Companies), companyID); err != nil {
			return "", err
		}
	}
	return id, tx.Commit()
}

func (s *Store) updateObject(ctx context.Context, typ crm.ObjectType, id string, patch domain.Properties) error {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT properties FROM objects WHERE type=? AND id=?`, string(typ), id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", crm.ErrNotFound, typ, id)
	}
	if err != nil {
		return err
	}
	props, err := decode(raw)
	if err != nil {
		return err
	}
	apply(props, patch)
	enc, err := encode(props)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE objects SET properties=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`, enc, id)
	return err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) companyProps(ctx context.Context, q queryer, id string) (domain.Properties, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT properties FROM companies WHERE id=?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: company %s", crm.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

// uniqueness turns a place id constraint violation into a typed error naming
// the company that holds the value.
func (s *Store) uniqueness(ctx context.Context, err error, selfID, placeID string) error {
	if placeID == "" || !strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return err
	}
	var holder int64
	qerr := s.db.QueryRowContext(ctx, `SELECT id FROM companies WHERE place_id=? AND CAST(id AS TEXT)<>?`, placeID, selfID).Scan(&holder)
	if qerr != nil {
		return err
	}
	return &crm.DuplicateValueError{
		Field:         domain.PropPlaceID,
		Value:         placeID,
		ConflictingID: strconv.FormatInt(holder, 10),
	}
}

func scanRecords(rows *sql.Rows) ([]domain.Record, error) {
	defer rows.Close()
	var out []domain.Record
	for rows.Next() {
		var (
			id  int64
			raw string
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		props, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Record{ID: strconv.FormatInt(id, 10), Properties: props})
	}
	return out, rows.Err()
}

func apply(props, patch domain.Properties) {
	for k, v := range patch {
		if v == "" {
			delete(props, k)
			continue
		}
		props[k] = v
	}
}

func encode(p domain.Properties) (string, error) {
	if p == nil {
		p = domain.Properties{}
	}
	b, err := json.Marshal(p)
	return string(b), err
}

func decode(raw string) (domain.Properties, error) {
	p := domain.Properties{}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	return p, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
