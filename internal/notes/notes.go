// Package notes renders the HTML bodies of the CRM notes written by the
// workflows. Every interpolated value is escaped.
package notes

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"leadflow/internal/booking"
	"leadflow/internal/domain"
	"leadflow/internal/places"
	"leadflow/internal/reviews"
	"leadflow/internal/scrape"
)

const timeLayout = "2006-01-02 15:04 UTC"

type builder struct {
	strings.Builder
}

func (b *builder) h2(s string)  { fmt.Fprintf(b, "<h2>%s</h2>", html.EscapeString(s)) }
func (b *builder) h3(s string)  { fmt.Fprintf(b, "<h3>%s</h3>", html.EscapeString(s)) }
func (b *builder) p(s string)   { fmt.Fprintf(b, "<p>%s</p>", html.EscapeString(s)) }
func (b *builder) raw(s string) { b.WriteString(s) }

func (b *builder) date(now time.Time) {
	fmt.Fprintf(b, "<p><em>Fecha: %s</em></p>", now.UTC().Format(timeLayout))
}

// list renders label/value pairs, skipping empty values. It reports whether
// anything was written.
func (b *builder) list(items ...[2]string) bool {
	var rows []string
	for _, it := range items {
		if strings.TrimSpace(it[1]) == "" {
			continue
		}
		rows = append(rows, fmt.Sprintf("<li><strong>%s:</strong> %s</li>", html.EscapeString(it[0]), html.EscapeString(it[1])))
	}
	if len(rows) == 0 {
		return false
	}
	b.raw("<ul>" + strings.Join(rows, "") + "</ul>")
	return true
}

func title(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Empresa"
	}
	return name
}

// Enrichment gathers everything the enrichment workflow found. Nil or empty
// sources are left out of the note.
type Enrichment struct {
	CompanyName string
	Place       *places.Place
	Review      *reviews.Location
	Photos      []reviews.Photo
	Website     scrape.Page
	Instagram   scrape.Profile
	Listing     *booking.Listing
	Changes     []domain.FieldChange
	Now         time.Time
}

func (e Enrichment) Render() string {
	var b builder
	b.h2("Enrichment Summary - " + title(e.CompanyName))
	b.date(e.Now)

	if p := e.Place; p != nil {
		b.h3("Google Places")
		rating := ""
		if p.Rating > 0 {
			rating = fmt.Sprintf("%g/5 (%d reviews)", p.Rating, p.UserRatingCount)
		}
		if !b.list(
			[2]string{"Direccion", p.FormattedAddress},
			[2]string{"Telefono", p.Phone()},
			[2]string{"Website", p.WebsiteURI},
			[2]string{"Rating", rating},
			[2]string{"Google Maps", p.GoogleMapsURI},
		) {
			b.p("Sin datos encontrados")
		}
	}

	if r := e.Review; r != nil {
		b.h3("TripAdvisor")
		rating := r.Rating
		if rating != "" {
			rating += "/5"
			if r.NumReviews != "" {
				rating += " (" + r.NumReviews + " reviews)"
			}
		}
		var cats []string
		if r.Category != nil && r.Category.Name != "" {
			cats = append(cats, r.Category.Name)
		}
		for _, s := range r.Subcategory {
			if s.Name != "" {
				cats = append(cats, s.Name)
			}
		}
		b.list(
			[2]string{"Rating", rating},
			[2]string{"Ranking", r.Ranking()},
			[2]string{"Price Level", r.PriceLevel},
			[2]string{"Categoria", strings.Join(cats, " > ")},
			[2]string{"URL", r.WebURL},
		)
		if len(e.Photos) > 0 {
			var imgs []string
			for _, ph := range e.Photos {
				imgs = append(imgs, fmt.Sprintf(`<li><a href="%s">%s</a></li>`,
					html.EscapeString(ph.URL), html.EscapeString(orDefault(ph.Caption, "Foto"))))
			}
			b.raw("<p><strong>Fotos:</strong></p><ul>" + strings.Join(imgs, "") + "</ul>")
		}
	}

	if w := e.Website; !w.Empty() {
		b.h3("Website")
		b.list(
			[2]string{"URL", w.URL},
			[2]string{"Telefonos", strings.Join(w.Phones, ", ")},
			[2]string{"Emails", strings.Join(w.Emails, ", ")},
			[2]string{"WhatsApp", w.WhatsApp},
			[2]string{"Instagram", w.Instagram},
		)
	}

	if ig := e.Instagram; ig.Username != "" || !ig.Empty() {
		b.h3("Instagram")
		followers := ""
		if ig.Followers > 0 {
			followers = strconv.Itoa(ig.Followers)
		}
		b.list(
			[2]string{"Usuario", ig.Username},
			[2]string{"Nombre", ig.FullName},
			[2]string{"Seguidores", followers},
			[2]string{"Email", ig.Email},
			[2]string{"Telefono", ig.Phone},
			[2]string{"Telefonos en bio", strings.Join(ig.BioPhones, ", ")},
			[2]string{"Emails en bio", strings.Join(ig.BioEmails, ", ")},
			[2]string{"WhatsApp", ig.WhatsApp},
			[2]string{"Sitio", ig.ExternalURL},
		)
	}

	if l := e.Listing; l != nil {
		b.h3("Booking.com")
		rating, reviewsCount := "", ""
		if l.Rating > 0 {
			rating = fmt.Sprintf("%g/10", l.Rating)
		}
		if l.ReviewCount > 0 {
			reviewsCount = strconv.Itoa(l.ReviewCount)
		}
		b.list(
			[2]string{"URL", l.URL},
			[2]string{"Rating", rating},
			[2]string{"Reviews", reviewsCount},
			[2]string{"Precios", l.PriceRange},
		)
	}

	if e.Place == nil && e.Review == nil {
		b.p("No se encontraron datos en ninguna fuente.")
	}

	if len(e.Changes) > 0 {
		b.h3("Campos actualizados")
		var rows []string
		for _, c := range e.Changes {
			old := html.EscapeString(c.OldValue)
			if old == "" {
				old = "<em>vacio</em>"
			}
			rows = append(rows, fmt.Sprintf("<li><strong>%s:</strong> %s &rarr; %s</li>",
				html.EscapeString(c.Field), old, html.EscapeString(c.NewValue)))
		}
		b.raw("<ul>" + strings.Join(rows, "") + "</ul>")
	}
	return b.String()
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// Merge describes a duplicate company folded into the enriched one.
func Merge(companyName, mergedID, mergedName, placeID string, now time.Time) string {
	var b builder
	b.h2("Empresas fusionadas - " + title(companyName))
	b.date(now)
	b.p("Se encontro otra empresa con el mismo Google Place ID y se fusiono en esta.")
	b.list(
		[2]string{"Empresa fusionada", fmt.Sprintf("%s (ID %s)", orDefault(mergedName, "Sin nombre"), mergedID)},
		[2]string{"Google Place ID", placeID},
	)
	return b.String()
}

// Conflict describes a place id left unwritten because another, distinct
// company already holds it.
func Conflict(companyName, otherID, otherName, placeID string, now time.Time) string {
	var b builder
	b.h2("Conflicto de Google Place ID - " + title(companyName))
	b.date(now)
	b.p("El Google Place ID encontrado ya pertenece a otra empresa. No se actualizo en esta empresa; revisar manualmente.")
	b.list(
		[2]string{"Google Place ID", placeID},
		[2]string{"Empresa con el ID", fmt.Sprintf("%s (ID %s)", orDefault(otherName, "Sin nombre"), otherID)},
	)
	return b.String()
}

// Error reports a failed workflow run.
func Error(workflow, companyName, status, message string, now time.Time) string {
	var b builder
	b.h2(fmt.Sprintf("%s - %s", workflow, title(companyName)))
	b.date(now)
	fmt.Fprintf(&b, "<p>&#9888;&#65039; <strong>Estado:</strong> %s</p>", html.EscapeString(status))
	if message != "" {
		fmt.Fprintf(&b, "<p><strong>Detalle:</strong> %s</p>", html.EscapeString(message))
	}
	return b.String()
}

// Qualification summarizes a lead qualification.
type Qualification struct {
	CompanyName string
	MarketFit   string
	Rooms       string
	CompanyType string
	Lifecycle   string
	Reasoning   string
	Summary     string
	LeadActions []domain.LeadAction
	Now         time.Time
}

func (q Qualification) Render() string {
	var b builder
	b.h2("Calificacion de Lead - " + title(q.CompanyName))
	b.date(q.Now)
	b.list(
		[2]string{"Market Fit", orDefault(q.MarketFit, "Sin determinar")},
		[2]string{"Habitaciones", orDefault(q.Rooms, "Sin determinar")},
		[2]string{"Tipo de empresa", q.CompanyType},
		[2]string{"Lifecycle stage", q.Lifecycle},
	)
	if q.Reasoning != "" {
		b.h3("Razonamiento")
		b.p(q.Reasoning)
	}
	if q.Summary != "" {
		b.h3("Resumen de interacciones")
		var rows []string
		for _, line := range strings.Split(q.Summary, "\n") {
			line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-•"))
			if line != "" {
				rows = append(rows, "<li>"+html.EscapeString(line)+"</li>")
			}
		}
		b.raw("<ul>" + strings.Join(rows, "") + "</ul>")
	}
	if len(q.LeadActions) > 0 {
		b.h3("Acciones sobre leads")
		var rows []string
		for _, a := range q.LeadActions {
			rows = append(rows, fmt.Sprintf("<li>%s (%s): %s</li>",
				html.EscapeString(orDefault(a.LeadName, a.LeadID)), html.EscapeString(a.Action), html.EscapeString(a.Message)))
		}
		b.raw("<ul>" + strings.Join(rows, "") + "</ul>")
	}
	return b.String()
}

var callEmoji = map[string]string{
	domain.CallConnected: "✅",
	domain.CallNoAnswer:  "☎️",
	domain.CallFailed:    "❌",
	domain.CallError:     "⚠️",
}

func friendlySource(source string) string {
	if source == "company" {
		return "Empresa"
	}
	if rest, ok := strings.CutPrefix(source, "contact:"); ok {
		label := "telefono"
		if strings.HasSuffix(rest, ":mobile") {
			label = "celular"
		}
		return "Contacto (" + label + ")"
	}
	return source
}

// ProspectCall summarizes the outbound-call attempts for a company.
func ProspectCall(companyName string, attempts []domain.CallAttempt, data *domain.CallData, now time.Time) string {
	var b builder
	b.h2("Llamada de Prospeccion - " + title(companyName))
	b.date(now)

	connected := false
	for _, a := range attempts {
		if a.Status == domain.CallConnected {
			connected = true
			break
		}
	}
	switch {
	case connected:
		b.raw("<p>✅ <strong>Llamada conectada</strong></p>")
	case len(attempts) > 0:
		b.raw("<p>❌ <strong>No se pudo conectar</strong></p>")
	}

	if data != nil {
		fields := [][2]string{
			{"Hotel", data.HotelName},
			{"Habitaciones", data.NumRooms},
			{"Decisor", data.DecisionMakerName},
			{"Telefono decisor", data.DecisionMakerPhone},
			{"Email decisor", data.DecisionMakerEmail},
			{"Disponibilidad demo", data.DateAndTime},
		}
		b.h3("Datos clave")
		b.raw(`<table border="1" cellpadding="6" cellspacing="0">`)
		for _, f := range fields {
			value := "<em>No proporcionado</em>"
			if f[1] != "" {
				value = html.EscapeString(f[1])
			}
			fmt.Fprintf(&b, "<tr><td><strong>%s</strong></td><td>%s</td></tr>", f[0], value)
		}
		b.raw("</table>")
	}

	if len(attempts) > 0 {
		b.h3("Intentos de llamada")
		b.raw("<ul>")
		for _, a := range attempts {
			emoji, ok := callEmoji[a.Status]
			if !ok {
				emoji = "❓"
			}
			fmt.Fprintf(&b, "<li>%s %s (%s)", emoji, html.EscapeString(a.PhoneNumber), html.EscapeString(friendlySource(a.Source)))
			if a.Error != "" {
				fmt.Fprintf(&b, "<br>&nbsp;&nbsp;&nbsp;Motivo: <strong>%s</strong>", html.EscapeString(a.Error))
			}
			b.raw("</li>")
		}
		b.raw("</ul>")
	}
	return b.String()
}

// Activation records that the task sweep handed a company to an agent.
func Activation(agent, taskSubject string, now time.Time) string {
	var b builder
	b.h2("Agente activado: " + agent)
	b.date(now)
	b.list([2]string{"Tarea", taskSubject})
	return b.String()
}
