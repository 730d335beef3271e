package mapper

import (
	"strings"

	"leadflow/internal/domain"
	"leadflow/internal/reviews"
)

// ReviewFields maps a TripAdvisor location to ta_* properties. Empty
// values are left out.
func ReviewFields(loc *reviews.Location) domain.Properties {
	out := domain.Properties{}
	if loc == nil {
		return out
	}
	set := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	set("ta_rating", loc.Rating)
	set("ta_reviews_count", loc.NumReviews)
	set("ta_ranking", loc.Ranking())
	set("ta_price_level", loc.PriceLevel)
	if loc.Category != nil {
		set("ta_category", loc.Category.Name)
	}
	var subs []string
	for _, s := range loc.Subcategory {
		if s.Name != "" {
			subs = append(subs, s.Name)
		}
	}
	set("ta_subcategory", strings.Join(subs, ", "))
	set("ta_url", loc.WebURL)
	return out
}
