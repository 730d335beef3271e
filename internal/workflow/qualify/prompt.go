package qualify

import (
	"fmt"
	"strings"

	"leadflow/internal/domain"
	"leadflow/internal/workflow"
)

const (
	maxItems    = 10
	maxWhatsApp = 15
)

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// buildPrompt renders the company and its interaction history as the user
// message. Lists are capped; long bodies are cut.
func buildPrompt(p domain.Properties, h history) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("## Datos del Hotel")
	line("- Nombre: %s", orNA(p.Get(domain.PropName)))
	line("- Ciudad: %s", orNA(p.Get(domain.PropCity)))
	line("- País: %s", orNA(p.Get(domain.PropCountry)))
	line("- Estado/Provincia: %s", orNA(p.Get(domain.PropState)))
	line("- Website: %s", orNA(p.Get(domain.PropWebsite)))
	line("- Teléfono: %s", orNA(p.Get(domain.PropPhone)))
	line("- Booking URL: %s", orNA(p.Get(domain.PropBooking)))
	if v := p.Get(domain.PropType); v != "" {
		line("- Tipo de Empresa (dato existente): %s", v)
	}
	if v := p.Get(domain.PropRooms); v != "" {
		line("- Habitaciones (dato existente): %s", v)
	}
	if v := p.Get(domain.PropMarketFit); v != "" {
		line("- Market Fit (dato existente): %s", v)
	}

	if len(h.notes) > 0 {
		line("\n## Notas")
		for _, n := range head(h.notes, maxItems) {
			if body := n.Get("hs_note_body"); body != "" {
				line("- [%s] %s", n.Get("hs_timestamp"), workflow.Clean(body, 500))
			}
		}
	}

	if len(h.calls) > 0 {
		line("\n## Llamadas")
		for _, c := range head(h.calls, maxItems) {
			entry := fmt.Sprintf("- [%s] %s (%s)", c.Get("hs_timestamp"), c.Get("hs_call_direction"), c.Get("hs_call_status"))
			if body := c.Get("hs_call_body"); body != "" {
				entry += ": " + workflow.Clean(body, 300)
			}
			line("%s", entry)
		}
	}

	if len(h.emails) > 0 {
		line("\n## Emails")
		for _, e := range head(h.emails, maxItems) {
			line("- [%s] %s: %s", e.Get("hs_timestamp"), e.Get("hs_email_direction"), e.Get("hs_email_subject"))
		}
	}

	if len(h.whatsapp) > 0 {
		line("\n## WhatsApp")
		for _, m := range head(h.whatsapp, maxWhatsApp) {
			body := m.Get("hs_communication_body")
			if body == "" {
				body = m.Get("hs_body_preview")
			}
			if body == "" {
				line("- [%s] (sin contenido)", m.Get("hs_timestamp"))
				continue
			}
			line("- [%s] %s", m.Get("hs_timestamp"), workflow.Clean(body, 300))
		}
	}

	if len(h.contacts) > 0 {
		line("\n## Contactos")
		for _, c := range head(h.contacts, maxItems) {
			who := strings.TrimSpace(c.Get("firstname") + " " + c.Get("lastname"))
			if who == "" {
				who = "Sin nombre"
			}
			if job := c.Get("jobtitle"); job != "" {
				who += " (" + job + ")"
			}
			line("- %s", who)
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func head(recs []domain.Record, n int) []domain.Record {
	if len(recs) > n {
		return recs[:n]
	}
	return recs
}
