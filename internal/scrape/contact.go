package scrape

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"leadflow/internal/mapper"
)

var (
	phoneRe    = regexp.MustCompile(`(?:\+?\d[\d\s\-().]{5,}\d)`)
	emailRe    = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	whatsappRe = regexp.MustCompile(`(?:https?://)?(?:wa\.me/|api\.whatsapp\.com/send\?phone=)(\d+)`)
)

var blockedEmailDomains = map[string]bool{
	"google.com": true, "facebook.com": true, "twitter.com": true, "instagram.com": true,
	"youtube.com": true, "linkedin.com": true, "sentry.io": true, "example.com": true,
	"wixpress.com": true, "w3.org": true,
}

var blockedEmailPrefixes = []string{
	"noreply", "no-reply", "admin", "webmaster", "postmaster", "mailer-daemon", "root", "abuse",
}

// emailRank orders mailboxes by how likely they reach reservations.
var emailRank = []struct {
	prefix string
	rank   int
}{
	{"reserva", 0}, {"info", 1}, {"contact", 2}, {"recepcion", 3}, {"reception", 3},
	{"front", 3}, {"booking", 4},
}

func rankEmail(email string) int {
	local, _, _ := strings.Cut(email, "@")
	for _, r := range emailRank {
		if strings.Contains(local, r.prefix) {
			return r.rank
		}
	}
	return 99
}

func blockedEmail(email string) bool {
	local, domain, ok := strings.Cut(strings.ToLower(email), "@")
	if !ok || blockedEmailDomains[domain] {
		return true
	}
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg"} {
		if strings.HasSuffix(domain, ext) {
			return true
		}
	}
	for _, p := range blockedEmailPrefixes {
		if local == p || strings.HasPrefix(local, p+".") {
			return true
		}
	}
	return false
}

// phoneSet collects normalized phones, deduplicated by digits.
type phoneSet struct {
	seen map[string]bool
	list []string
}

func (p *phoneSet) add(raw string) {
	if len(mapper.Digits(raw)) < 7 {
		return
	}
	n := mapper.NormalizePhone(raw)
	if n == "" {
		return
	}
	if p.seen == nil {
		p.seen = map[string]bool{}
	}
	if d := mapper.Digits(n); !p.seen[d] {
		p.seen[d] = true
		p.list = append(p.list, n)
	}
}

func extractPhones(links []string, text string) []string {
	var ps phoneSet
	for _, h := range links {
		if raw, ok := strings.CutPrefix(h, "tel:"); ok {
			ps.add(raw)
		}
	}
	for _, m := range phoneRe.FindAllString(text, -1) {
		ps.add(m)
	}
	return ps.list
}

func extractEmails(links []string, text string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(e string) {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || !strings.Contains(e, "@") || seen[e] || blockedEmail(e) {
			return
		}
		seen[e] = true
		out = append(out, e)
	}
	for _, h := range links {
		if raw, ok := strings.CutPrefix(h, "mailto:"); ok {
			addr, _, _ := strings.Cut(raw, "?")
			add(addr)
		}
	}
	for _, m := range emailRe.FindAllString(text, -1) {
		add(m)
	}
	sort.SliceStable(out, func(i, j int) bool { return rankEmail(out[i]) < rankEmail(out[j]) })
	return out
}

// WhatsAppNumber extracts "+digits" from a wa.me or api.whatsapp.com link.
func WhatsAppNumber(link string) string {
	m := whatsappRe.FindStringSubmatch(link)
	if m == nil || len(m[1]) < 7 {
		return ""
	}
	return "+" + m[1]
}

func extractWhatsApp(links []string) string {
	for _, h := range links {
		if n := WhatsAppNumber(h); n != "" {
			return n
		}
	}
	return ""
}

var contactPaths = map[string]bool{
	"/contacto": true, "/contact": true, "/contact-us": true, "/contactanos": true,
}

// contactLink finds a same-host link to a contact page.
func contactLink(links []string, base string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	for _, h := range links {
		ref, err := url.Parse(h)
		if err != nil {
			continue
		}
		full := b.ResolveReference(ref)
		if full.Host != b.Host {
			continue
		}
		if contactPaths[strings.ToLower(strings.TrimRight(full.Path, "/"))] {
			return full.String()
		}
	}
	return ""
}
