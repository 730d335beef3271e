package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"leadflow/internal/llm"
	"leadflow/internal/mapper"
	"leadflow/internal/perplexity"
)

// Asker answers a chat prompt. *perplexity.Client satisfies it.
type Asker interface {
	Ask(ctx context.Context, system, user string) (string, error)
}

type Profile struct {
	Username    string   `json:"username,omitempty"`
	FullName    string   `json:"full_name,omitempty"`
	Biography   string   `json:"biography,omitempty"`
	ProfileURL  string   `json:"profile_url,omitempty"`
	ExternalURL string   `json:"external_url,omitempty"`
	Followers   int      `json:"follower_count,omitempty"`
	Email       string   `json:"business_email,omitempty"`
	Phone       string   `json:"business_phone,omitempty"`
	BioPhones   []string `json:"bio_phones,omitempty"`
	BioEmails   []string `json:"bio_emails,omitempty"`
	WhatsApp    string   `json:"whatsapp,omitempty"`
}

// Empty reports whether the profile carries no contact data.
func (p Profile) Empty() bool {
	return p.Email == "" && p.Phone == "" && p.WhatsApp == "" && len(p.BioPhones) == 0 && len(p.BioEmails) == 0
}

var (
	usernameRe = regexp.MustCompile(`instagram\.com/([^/?#]+)`)
	// non-profile first path segments
	reservedPaths = map[string]bool{"p": true, "reel": true, "stories": true, "explore": true, "accounts": true, "api": true}
)

// InstagramUsername extracts the profile handle, or "" for non-profile URLs.
func InstagramUsername(u string) string {
	m := usernameRe.FindStringSubmatch(u)
	if m == nil {
		return ""
	}
	name := strings.ToLower(strings.TrimRight(m[1], "/"))
	if reservedPaths[name] {
		return ""
	}
	return name
}

const instagramPrompt = `Search for the public Instagram profile @%s (https://www.instagram.com/%s/)%s. ` +
	`What is their display name, biography text, phone numbers, email, WhatsApp link, and follower count? ` +
	`Return a JSON object with exactly these fields: "full_name" (profile display name or null), ` +
	`"biography" (bio text or null), "external_url" (link in bio or null), ` +
	`"business_email" (contact email or null), "business_phone" (contact phone or null), ` +
	`"follower_count" (number of followers as integer, or null), ` +
	`"whatsapp_url" (any WhatsApp link wa.me/*, wa.link/*, api.whatsapp.com/* or null). ` +
	`If a field is not available, use null.`

type Instagram struct {
	ask Asker
	// HTTP resolves wa.link short links; redirects are not followed.
	HTTP *http.Client
	log  zerolog.Logger
}

func NewInstagram(ask Asker, httpClient *http.Client, logger zerolog.Logger) *Instagram {
	noRedirect := &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	if httpClient != nil {
		noRedirect.Transport = httpClient.Transport
	}
	return &Instagram{ask: ask, HTTP: noRedirect, log: logger.With().Str("component", "instagram").Logger()}
}

// Scrape looks the profile up through the search assistant. Failures yield
// a profile holding only the username.
func (ig *Instagram) Scrape(ctx context.Context, profileURL, hotelName, city string) Profile {
	username := InstagramUsername(profileURL)
	if username == "" {
		return Profile{}
	}
	out := Profile{Username: username, ProfileURL: "https://www.instagram.com/" + username + "/"}

	var hint []string
	for _, p := range []string{hotelName, city} {
		if p != "" {
			hint = append(hint, p)
		}
	}
	belongs := ""
	if len(hint) > 0 {
		belongs = ", which belongs to " + strings.Join(hint, ", ")
	}

	answer, err := ig.ask.Ask(ctx, perplexity.SystemPrompt, fmt.Sprintf(instagramPrompt, username, username, belongs))
	if err != nil {
		ig.log.Warn().Err(err).Str("username", username).Msg("instagram lookup failed")
		return out
	}
	data := llm.ExtractJSON(answer)
	if data == nil {
		ig.log.Warn().Str("username", username).Msg("instagram lookup returned no json")
		return out
	}

	out.FullName = llm.String(data, "full_name")
	out.Biography = llm.String(data, "biography")
	out.ExternalURL = llm.String(data, "external_url")
	out.Email = strings.ToLower(llm.String(data, "business_email"))
	if f, ok := llm.Float(data, "follower_count"); ok {
		out.Followers = int(f)
	}
	if raw := llm.String(data, "business_phone"); raw != "" {
		out.Phone = mapper.NormalizePhone(raw)
	}
	out.BioPhones = bioPhones(out.Biography, out.Phone)
	out.BioEmails = bioEmails(out.Biography, out.Email)

	candidates := []string{llm.String(data, "whatsapp_url")}
	if out.ExternalURL != candidates[0] {
		candidates = append(candidates, out.ExternalURL)
	}
	out.WhatsApp = ig.resolveWhatsApp(ctx, candidates)

	ig.log.Info().Str("username", username).
		Int("phones", len(out.BioPhones)).
		Int("emails", len(out.BioEmails)).
		Bool("whatsapp", out.WhatsApp != "").
		Msg("instagram profile scraped")
	return out
}

func bioPhones(bio, known string) []string {
	ps := phoneSet{seen: map[string]bool{}}
	if known != "" {
		ps.seen[mapper.Digits(known)] = true
	}
	for _, m := range phoneRe.FindAllString(bio, -1) {
		ps.add(m)
	}
	return ps.list
}

func bioEmails(bio, known string) []string {
	seen := map[string]bool{known: true}
	var out []string
	for _, m := range emailRe.FindAllString(bio, -1) {
		e := strings.ToLower(m)
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// resolveWhatsApp reads a number from wa.me and api.whatsapp.com links and
// follows one redirect for wa.link short links.
func (ig *Instagram) resolveWhatsApp(ctx context.Context, links []string) string {
	for _, link := range links {
		if link == "" {
			continue
		}
		if n := WhatsAppNumber(link); n != "" {
			return n
		}
		if !strings.Contains(link, "wa.link/") {
			continue
		}
		if n := ig.followShortLink(ctx, link); n != "" {
			return n
		}
	}
	return ""
}

func (ig *Instagram) followShortLink(ctx context.Context, link string) string {
	if !strings.HasPrefix(link, "http") {
		link = "https://" + link
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := ig.HTTP.Do(req)
	if err != nil {
		ig.log.Debug().Err(err).Str("url", link).Msg("wa.link resolve failed")
		return ""
	}
	resp.Body.Close()

	loc := resp.Header.Get("Location")
	if loc == "" {
		return ""
	}
	if n := WhatsAppNumber(loc); n != "" {
		return n
	}
	if u, err := url.Parse(loc); err == nil {
		if d := mapper.Digits(u.Query().Get("phone")); len(d) >= 7 {
			return "+" + d
		}
	}
	return ""
}
