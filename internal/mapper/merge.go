package mapper

import (
	"strings"

	"leadflow/internal/domain"
	"leadflow/internal/places"
)

// Field is a discovered value for one CRM property.
type Field struct {
	Name  string
	Value string
}

// MergeFields stages the discovered values that fill a gap in current, or
// that differ from it when overwrite is set. Blank discoveries and unchanged
// values are skipped. Changes come back in input order.
func MergeFields(current domain.Properties, fields []Field, overwrite bool) (domain.Properties, []domain.FieldChange) {
	updates := domain.Properties{}
	var changes []domain.FieldChange
	for _, f := range fields {
		next := strings.TrimSpace(f.Value)
		if next == "" {
			continue
		}
		old := current.Get(f.Name)
		if old != "" && !overwrite {
			continue
		}
		if old == next {
			continue
		}
		updates[f.Name] = next
		changes = append(changes, domain.FieldChange{Field: f.Name, OldValue: old, NewValue: next})
	}
	return updates, changes
}

// PlaceFields lists the mergeable contact fields of a place. The phone is
// normalized and omitted when it does not normalize.
func PlaceFields(p *places.Place, addr Address) []Field {
	return []Field{
		{domain.PropAddress, addr.Address},
		{domain.PropZip, addr.Zip},
		{domain.PropCountry, addr.Country},
		{domain.PropPhone, NormalizePhone(p.Phone())},
		{domain.PropWebsite, p.WebsiteURI},
	}
}
