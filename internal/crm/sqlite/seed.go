package sqlite

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"leadflow/internal/crm"
	"leadflow/internal/domain"
)

// SeedFile is the YAML layout accepted by Seed:
//
//	companies:
//	  - properties: {name: Hotel Sol, city: Santiago, country: Chile, agente: datos}
//	    contacts: [{firstname: Ana, phone: "+56 9 1234 5678"}]
//	    notes: ["<p>Llamar en la tarde</p>"]
//	    tasks: [{hs_task_subject: "Agente:calificar_lead | Hotel Sol"}]
type SeedFile struct {
	Companies []SeedCompany `yaml:"companies"`
}

type SeedCompany struct {
	Properties domain.Properties   `yaml:"properties"`
	Contacts   []domain.Properties `yaml:"contacts"`
	Notes      []string            `yaml:"notes"`
	Tasks      []domain.Properties `yaml:"tasks"`
}

// Seed loads companies and their engagements from YAML. It returns the
// number of companies created.
func (s *Store) Seed(ctx context.Context, r io.Reader) (int, error) {
	var f SeedFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return 0, fmt.Errorf("decode seed: %w", err)
	}
	for i, c := range f.Companies {
		id, err := s.CreateCompany(ctx, c.Properties)
		if err != nil {
			return i, fmt.Errorf("seed company %q: %w", c.Properties.Get(domain.PropName), err)
		}
		for _, p := range c.Contacts {
			if _, err := s.CreateContact(ctx, id, p); err != nil {
				return i, fmt.Errorf("seed contact: %w", err)
			}
		}
		for _, body := range c.Notes {
			if err := s.CreateNote(ctx, id, body); err != nil {
				return i, fmt.Errorf("seed note: %w", err)
			}
		}
		for _, t := range c.Tasks {
			if t.Get(crm.TaskStatus) == "" {
				t = t.Clone()
				t[crm.TaskStatus] = "NOT_STARTED"
			}
			if _, err := s.CreateTask(ctx, id, t); err != nil {
				return i, fmt.Errorf("seed task: %w", err)
			}
		}
	}
	return len(f.Companies), nil
}
