package notes

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"leadflow/internal/booking"
	"leadflow/internal/domain"
	"leadflow/internal/places"
	"leadflow/internal/reviews"
	"leadflow/internal/scrape"
)

var now = time.Date(2025, 3, 4, 15, 30, 0, 0, time.UTC)

func TestEnrichmentAllSources(t *testing.T) {
	body := Enrichment{
		CompanyName: "Hotel <Sol>",
		Place: &places.Place{
			FormattedAddress:    "Av. Providencia 123, Santiago",
			NationalPhoneNumber: "(2) 1234 5678",
			WebsiteURI:          "https://sol.cl",
		},
		Review: &reviews.Location{
			Rating: "4.5", NumReviews: "120", PriceLevel: "$$",
			Category:    &reviews.Named{Name: "Hotel"},
			Subcategory: []reviews.Named{{Name: "Boutique"}},
			RankingData: map[string]any{"ranking_string": "#3 of 80 hotels in Santiago"},
		},
		Photos:    []reviews.Photo{{Caption: "Lobby", URL: "https://img/1.jpg"}},
		Website:   scrape.Page{URL: "https://sol.cl", Emails: []string{"reservas@sol.cl"}},
		Instagram: scrape.Profile{Username: "hotelsol", Followers: 1200},
		Listing:   &booking.Listing{URL: "https://www.booking.com/hotel/cl/sol.html", Rating: 8.7},
		Changes:   []domain.FieldChange{{Field: "phone", NewValue: "+5621234567"}},
		Now:       now,
	}.Render()

	assert.Contains(t, body, "Enrichment Summary - Hotel &lt;Sol&gt;")
	assert.Contains(t, body, "2025-03-04 15:30 UTC")
	assert.Contains(t, body, "Av. Providencia 123")
	assert.Contains(t, body, "4.5/5 (120 reviews)")
	assert.Contains(t, body, "Hotel &gt; Boutique")
	assert.Contains(t, body, "#3 of 80 hotels")
	assert.Contains(t, body, "https://img/1.jpg")
	assert.Contains(t, body, "reservas@sol.cl")
	assert.Contains(t, body, "hotelsol")
	assert.Contains(t, body, "8.7/10")
	assert.Contains(t, body, "<em>vacio</em> &rarr; +5621234567")
	assert.NotContains(t, body, "No se encontraron datos")
}

func TestEnrichmentNoSources(t *testing.T) {
	body := Enrichment{Now: now}.Render()
	assert.Contains(t, body, "Enrichment Summary - Empresa")
	assert.Contains(t, body, "No se encontraron datos en ninguna fuente.")
	assert.NotContains(t, body, "Google Places")
	assert.NotContains(t, body, "Website")
}

func TestEnrichmentEmptyPlace(t *testing.T) {
	body := Enrichment{CompanyName: "X", Place: &places.Place{}, Now: now}.Render()
	assert.Contains(t, body, "Sin datos encontrados")
}

func TestMergeAndConflict(t *testing.T) {
	m := Merge("Hotel Sol", "51090765207", "Hotel Sol Lima", "ChIJ123", now)
	assert.Contains(t, m, "Hotel Sol Lima (ID 51090765207)")
	assert.Contains(t, m, "ChIJ123")

	c := Conflict("Hotel Sol", "9", "", "ChIJ123", now)
	assert.Contains(t, c, "Sin nombre (ID 9)")
	assert.Contains(t, c, "revisar manualmente")
}

func TestErrorNote(t *testing.T) {
	body := Error("Enrichment", "Hotel Sol", "error", `HubSpot: HTTP 500: <html>`, now)
	assert.Contains(t, body, "Enrichment - Hotel Sol")
	assert.Contains(t, body, "&lt;html&gt;")
	assert.NotContains(t, body, "<html>")
}

func TestQualification(t *testing.T) {
	body := Qualification{
		CompanyName: "Hotel Sol",
		MarketFit:   "Conejo",
		Rooms:       "20",
		Lifecycle:   "lead",
		Reasoning:   "La nota indica 20 habitaciones.",
		Summary:     "- Llamada el lunes\n- Email de seguimiento\n",
		LeadActions: []domain.LeadAction{{LeadID: "7", Action: "stage_updated", Message: "moved"}},
		Now:         now,
	}.Render()
	assert.Contains(t, body, "Conejo")
	assert.Contains(t, body, "<li>Llamada el lunes</li><li>Email de seguimiento</li>")
	assert.Contains(t, body, "7 (stage_updated): moved")
	assert.NotContains(t, body, "Tipo de empresa", "empty values are skipped")
}

func TestProspectCall(t *testing.T) {
	attempts := []domain.CallAttempt{
		{PhoneNumber: "+5621234567", Source: "company", Status: domain.CallFailed, Error: "busy"},
		{PhoneNumber: "+56987654321", Source: "contact:12:mobile", Status: domain.CallConnected},
	}
	body := ProspectCall("Hotel Sol", attempts, &domain.CallData{NumRooms: "18"}, now)
	assert.Contains(t, body, "Llamada conectada")
	assert.Contains(t, body, "<td>18</td>")
	assert.Contains(t, body, "No proporcionado")
	assert.Contains(t, body, "Contacto (celular)")
	assert.Contains(t, body, "(Empresa)")
	assert.Contains(t, body, "Motivo: <strong>busy</strong>")

	failed := ProspectCall("Hotel Sol", attempts[:1], nil, now)
	assert.Contains(t, failed, "No se pudo conectar")
	assert.NotContains(t, failed, "Datos clave")
}

func TestFriendlySource(t *testing.T) {
	assert.Equal(t, "Empresa", friendlySource("company"))
	assert.Equal(t, "Contacto (telefono)", friendlySource("contact:3:phone"))
	assert.Equal(t, "Contacto (celular)", friendlySource("contact:3:mobile"))
	assert.Equal(t, "other", friendlySource("other"))
}

func TestActivation(t *testing.T) {
	body := Activation("calificar_lead", "Agente:calificar_lead | Hotel Sol", now)
	assert.True(t, strings.HasPrefix(body, "<h2>Agente activado: calificar_lead</h2>"))
	assert.Contains(t, body, "Agente:calificar_lead | Hotel Sol")
}
