// Package booking finds a hotel's Booking.com listing and reads its rating.
package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"leadflow/internal/llm"
	"leadflow/internal/perplexity"
	"leadflow/internal/scrape"
)

type Listing struct {
	URL         string  `json:"url,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	ReviewCount int     `json:"review_count,omitempty"`
	PriceRange  string  `json:"price_range,omitempty"`
	HotelName   string  `json:"hotel_name,omitempty"`
}

// Useful reports whether the listing carries a rating or a review count.
// Anything else is treated as noise.
func (l *Listing) Useful() bool {
	return l != nil && (l.Rating > 0 || l.ReviewCount > 0)
}

var listingRe = regexp.MustCompile(`https?://(?:www\.)?booking\.com/hotel/[a-z]{2}/[^"'<>\s]+`)

const searchPrompt = `Find the Booking.com listing for the hotel "%s"%s. ` +
	`Return a JSON object with exactly these fields: "url" (the full Booking.com URL or null), ` +
	`"rating" (number out of 10 or null), "review_count" (integer or null), ` +
	`"hotel_name" (name as listed on Booking.com or null). ` +
	`If you cannot find a Booking.com listing, return all nulls.`

// Fetcher downloads a page. *scrape.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) string
}

// Service never fails: every lookup problem degrades to an emptier listing.
type Service struct {
	ask   scrape.Asker
	fetch Fetcher
	log   zerolog.Logger
}

func New(ask scrape.Asker, fetch Fetcher, logger zerolog.Logger) *Service {
	return &Service{ask: ask, fetch: fetch, log: logger.With().Str("component", "booking").Logger()}
}

// Search looks for the listing URL in the hotel's own website first, then
// asks the search assistant. The listing page's JSON-LD supplies rating and
// review count when reachable. Returns nil when no listing was found.
func (s *Service) Search(ctx context.Context, name, city, country, websiteHTML string) *Listing {
	var listing *Listing
	if u := FindListingURL(websiteHTML); u != "" {
		s.log.Info().Str("url", u).Msg("booking url found on hotel website")
		listing = &Listing{URL: u}
	} else {
		listing = s.askListing(ctx, name, city, country)
	}
	if listing == nil || listing.URL == "" {
		return listing
	}

	if html := s.fetch.Fetch(ctx, listing.URL); html != "" {
		mergeLD(listing, parseListingPage(html))
	}
	return listing
}

func (s *Service) askListing(ctx context.Context, name, city, country string) *Listing {
	if s.ask == nil {
		return nil
	}
	var loc []string
	for _, p := range []string{city, country} {
		if p != "" {
			loc = append(loc, p)
		}
	}
	where := ""
	if len(loc) > 0 {
		where = " in " + strings.Join(loc, ", ")
	}
	answer, err := s.ask.Ask(ctx, perplexity.SystemPrompt, fmt.Sprintf(searchPrompt, name, where))
	if err != nil {
		s.log.Warn().Err(err).Str("hotel", name).Msg("booking search failed")
		return nil
	}
	data := llm.ExtractJSON(answer)
	if data == nil {
		s.log.Warn().Str("hotel", name).Msg("booking search returned no json")
		return nil
	}

	l := &Listing{HotelName: llm.String(data, "hotel_name")}
	if u := llm.String(data, "url"); strings.Contains(strings.ToLower(u), "booking.com") {
		l.URL = u
	}
	if f, ok := llm.Float(data, "rating"); ok {
		l.Rating = f
	}
	if f, ok := llm.Float(data, "review_count"); ok {
		l.ReviewCount = int(f)
	}
	if l.URL == "" && !l.Useful() {
		return nil
	}
	return l
}

// FindListingURL returns the first booking.com/hotel link in html.
func FindListingURL(html string) string {
	if html == "" {
		return ""
	}
	return strings.TrimRight(listingRe.FindString(html), `"'>;)`)
}

// parseListingPage reads the Hotel or LodgingBusiness JSON-LD block, with
// og:title as the name fallback.
func parseListingPage(html string) Listing {
	var out Listing
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return out
	}
	found := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw any
		if json.Unmarshal([]byte(s.Text()), &raw) != nil {
			return true
		}
		items, ok := raw.([]any)
		if !ok {
			items = []any{raw}
		}
		for _, it := range items {
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			if t, _ := m["@type"].(string); t == "Hotel" || t == "LodgingBusiness" {
				fromLD(&out, m)
				found = true
				return false
			}
		}
		return true
	})
	if !found {
		if title, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
			out.HotelName = title
		}
	}
	return out
}

func fromLD(l *Listing, m map[string]any) {
	l.HotelName = llm.String(m, "name")
	l.PriceRange = llm.String(m, "priceRange")
	agg, ok := m["aggregateRating"].(map[string]any)
	if !ok {
		return
	}
	if f, ok := llm.Float(agg, "ratingValue"); ok {
		l.Rating = f
	}
	if n, err := strconv.Atoi(llm.String(agg, "reviewCount")); err == nil {
		l.ReviewCount = n
	}
}

// mergeLD lets page data override what the search assistant reported.
func mergeLD(dst *Listing, ld Listing) {
	if ld.Rating > 0 {
		dst.Rating = ld.Rating
	}
	if ld.ReviewCount > 0 {
		dst.ReviewCount = ld.ReviewCount
	}
	if ld.PriceRange != "" {
		dst.PriceRange = ld.PriceRange
	}
	if ld.HotelName != "" {
		dst.HotelName = ld.HotelName
	}
}
