package scrape

import (
	"context"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// Page is what a hotel website exposes about how to reach it.
type Page struct {
	URL       string   `json:"source_url"`
	Phones    []string `json:"phones,omitempty"`
	Emails    []string `json:"emails,omitempty"`
	WhatsApp  string   `json:"whatsapp,omitempty"`
	Instagram string   `json:"instagram,omitempty"`
	// HTML of the main page, kept for listing-link discovery.
	HTML string `json:"-"`
}

// Empty reports whether nothing useful was found.
func (p Page) Empty() bool {
	return len(p.Phones) == 0 && len(p.Emails) == 0 && p.WhatsApp == "" && p.Instagram == ""
}

type Website struct {
	fetch *Fetcher
	log   zerolog.Logger
}

func NewWebsite(f *Fetcher, logger zerolog.Logger) *Website {
	return &Website{fetch: f, log: logger.With().Str("component", "website_scraper").Logger()}
}

// Scrape reads the page at pageURL and, when it lists no email, the first
// same-host contact page it links to.
func (w *Website) Scrape(ctx context.Context, pageURL string) Page {
	out := Page{URL: pageURL}
	html := w.fetch.Fetch(ctx, pageURL)
	if html == "" {
		return out
	}
	out.HTML = html
	doc := parse(html)
	if doc == nil {
		return out
	}
	links := hrefs(doc)
	text := visibleText(doc)

	out.Phones = extractPhones(links, text)
	out.Emails = extractEmails(links, text)
	out.WhatsApp = extractWhatsApp(links)
	out.Instagram = instagramLink(links)

	if len(out.Emails) == 0 {
		if contact := contactLink(links, pageURL); contact != "" {
			w.fillFromContactPage(ctx, contact, &out)
		}
	}

	w.log.Info().Str("url", pageURL).
		Int("phones", len(out.Phones)).
		Int("emails", len(out.Emails)).
		Bool("whatsapp", out.WhatsApp != "").
		Msg("website scraped")
	return out
}

func (w *Website) fillFromContactPage(ctx context.Context, contactURL string, out *Page) {
	html := w.fetch.Fetch(ctx, contactURL)
	if html == "" {
		return
	}
	doc := parse(html)
	if doc == nil {
		return
	}
	links := hrefs(doc)
	text := visibleText(doc)
	out.Emails = extractEmails(links, text)
	if len(out.Phones) == 0 {
		out.Phones = extractPhones(links, text)
	}
	if out.WhatsApp == "" {
		out.WhatsApp = extractWhatsApp(links)
	}
}

func instagramLink(links []string) string {
	for _, h := range links {
		if IsSocialProfile(h) && InstagramUsername(h) != "" {
			return h
		}
	}
	return ""
}

// IsSocialProfile reports whether u points at instagram.com.
func IsSocialProfile(u string) bool {
	p, err := url.Parse(strings.TrimSpace(u))
	if err != nil {
		return false
	}
	host := strings.ToLower(p.Host)
	return host == "instagram.com" || host == "www.instagram.com"
}
