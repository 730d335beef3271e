package enrichment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"leadflow/internal/crm"
	"leadflow/internal/domain"
	"leadflow/internal/notes"
)

// How a place id uniqueness violation was resolved.
const (
	ResolutionMerged   = "merged"
	ResolutionConflict = "conflict"
	ResolutionDropped  = "dropped"
)

// Resolution describes the handling of a duplicate place id.
type Resolution struct {
	Outcome       string `json:"outcome"`
	ConflictingID string `json:"conflicting_id"`
	ConflictName  string `json:"conflicting_name,omitempty"`
	PlaceID       string `json:"place_id"`
}

func (r *Resolution) note(companyName string, now time.Time) string {
	if r == nil {
		return ""
	}
	switch r.Outcome {
	case ResolutionMerged:
		return notes.Merge(companyName, r.ConflictingID, r.ConflictName, r.PlaceID, now)
	case ResolutionConflict:
		return notes.Conflict(companyName, r.ConflictingID, r.ConflictName, r.PlaceID, now)
	}
	return ""
}

// apply writes patch. When the CRM rejects it because another company
// holds the same place id, the two are merged if they look like the same
// hotel; otherwise the place id is left out. A nil Resolution means the
// first write succeeded.
func (s *Service) apply(ctx context.Context, log zerolog.Logger, company domain.Record, patch domain.Properties) (*Resolution, error) {
	err := s.CRM.UpdateCompany(ctx, company.ID, patch)
	if err == nil {
		return nil, nil
	}
	dup, ok := crm.AsDuplicate(err)
	if !ok || dup.Field != domain.PropPlaceID || dup.ConflictingID == "" {
		return nil, fmt.Errorf("update company: %w", err)
	}

	res := &Resolution{ConflictingID: dup.ConflictingID, PlaceID: dup.Value}
	log = log.With().Str("conflicting_id", dup.ConflictingID).Str("place_id", dup.Value).Logger()
	withoutPlace := patch.Clone()
	delete(withoutPlace, domain.PropPlaceID)

	other, err := s.CRM.GetCompany(ctx, dup.ConflictingID)
	if err == nil {
		res.ConflictName = other.Get(domain.PropName)
		if !SameCompany(company.Properties, other.Properties) {
			if err := s.CRM.UpdateCompany(ctx, company.ID, withoutPlace); err != nil {
				return nil, fmt.Errorf("update company without %s: %w", domain.PropPlaceID, err)
			}
			res.Outcome = ResolutionConflict
			log.Info().Msg("place id held by a different company, left unset")
			return res, nil
		}
		err = s.CRM.MergeCompanies(ctx, company.ID, dup.ConflictingID)
		if err == nil {
			err = s.CRM.UpdateCompany(ctx, company.ID, patch)
		}
		if err == nil {
			res.Outcome = ResolutionMerged
			log.Info().Msg("merged duplicate company")
			return res, nil
		}
	}
	log.Warn().Err(err).Msg("conflict resolution failed, retrying without place id")

	if err := s.CRM.UpdateCompany(ctx, company.ID, withoutPlace); err != nil {
		return nil, fmt.Errorf("update company without %s: %w", domain.PropPlaceID, err)
	}
	res.Outcome = ResolutionDropped
	return res, nil
}

// SameCompany guesses whether two CRM companies describe the same hotel:
// one name contains the other, and city, state and country agree wherever
// both records carry them.
func SameCompany(a, b domain.Properties) bool {
	na, nb := normalize(a.Get(domain.PropName)), normalize(b.Get(domain.PropName))
	if na == "" || nb == "" {
		return false
	}
	if !strings.Contains(na, nb) && !strings.Contains(nb, na) {
		return false
	}
	for _, field := range []string{domain.PropCity, domain.PropState, domain.PropCountry} {
		fa, fb := normalize(a.Get(field)), normalize(b.Get(field))
		if fa != "" && fb != "" && fa != fb {
			return false
		}
	}
	return true
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
