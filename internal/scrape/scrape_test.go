package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hotelPage = `<html><head><script>var x = "555 123 4567";</script></head><body>
<a href="tel:+56 2 2345 6789">Call</a>
<p>Llámenos: +56 9 8765 4321</p><p>o al</p><p>+56 2 2345 6789</p>
<a href="mailto:info@hotelsol.cl?subject=hola">Info</a>
<p>reservas@hotelsol.cl noreply@hotelsol.cl pixel@sentry.io logo@2x.png</p>
<a href="https://wa.me/56987654321">WhatsApp</a>
<a href="https://www.instagram.com/hotelsol/">IG</a>
</body></html>`

func newSite(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if strings.HasPrefix(page, "%PDF") {
			w.Header().Set("Content-Type", "application/pdf")
		} else {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		}
		fmt.Fprint(w, page)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebsiteScrape(t *testing.T) {
	srv := newSite(t, map[string]string{"/": hotelPage})
	w := NewWebsite(NewFetcher(srv.Client(), zerolog.Nop()), zerolog.Nop())

	page := w.Scrape(context.Background(), srv.URL+"/")
	assert.Equal(t, []string{"+56223456789", "+56987654321"}, page.Phones)
	assert.Equal(t, []string{"reservas@hotelsol.cl", "info@hotelsol.cl"}, page.Emails)
	assert.Equal(t, "+56987654321", page.WhatsApp)
	assert.Equal(t, "https://www.instagram.com/hotelsol/", page.Instagram)
	assert.NotEmpty(t, page.HTML)
}

func TestWebsiteContactPageFallback(t *testing.T) {
	srv := newSite(t, map[string]string{
		"/":          `<html><body><a href="/contacto/">Contacto</a><a href="https://other.com/contact">x</a></body></html>`,
		"/contacto/": `<html><body><a href="mailto:contacto@hotel.cl">m</a><a href="tel:+5112345678">t</a></body></html>`,
	})
	w := NewWebsite(NewFetcher(srv.Client(), zerolog.Nop()), zerolog.Nop())

	page := w.Scrape(context.Background(), srv.URL+"/")
	assert.Equal(t, []string{"contacto@hotel.cl"}, page.Emails)
	assert.Equal(t, []string{"+5112345678"}, page.Phones)
}

func TestWebsiteSkipsBadPages(t *testing.T) {
	srv := newSite(t, map[string]string{
		"/pdf": "%PDF-1.4 +56 2 2345 6789",
		"/big": "<html><body>" + strings.Repeat("a", 200) + "</body></html>",
	})
	f := NewFetcher(srv.Client(), zerolog.Nop())
	f.MaxBody = 100
	w := NewWebsite(f, zerolog.Nop())

	for _, path := range []string{"/pdf", "/big", "/missing"} {
		page := w.Scrape(context.Background(), srv.URL+path)
		assert.True(t, page.Empty(), path)
		assert.Equal(t, srv.URL+path, page.URL)
	}
	assert.True(t, w.Scrape(context.Background(), "http://127.0.0.1:0/").Empty())
}

func TestEmailRankingAndBlocking(t *testing.T) {
	assert.True(t, blockedEmail("no-reply@x.com"))
	assert.True(t, blockedEmail("admin.site@x.com"))
	assert.False(t, blockedEmail("administracion@x.com"))
	assert.True(t, blockedEmail("a@wixpress.com"))
	assert.Less(t, rankEmail("reservas@x.com"), rankEmail("info@x.com"))
	assert.Less(t, rankEmail("info@x.com"), rankEmail("bookings@x.com"))
	assert.Equal(t, 99, rankEmail("juan@x.com"))
}

func TestInstagramUsername(t *testing.T) {
	assert.Equal(t, "hotelsol", InstagramUsername("https://www.instagram.com/HotelSol/?hl=es"))
	assert.Empty(t, InstagramUsername("https://www.instagram.com/p/abc123/"))
	assert.Empty(t, InstagramUsername("https://example.com/hotelsol"))
	assert.True(t, IsSocialProfile("https://instagram.com/hotelsol"))
	assert.False(t, IsSocialProfile("https://hotelsol.cl"))
}

type fakeAsker struct {
	answer string
	err    error
	prompt string
}

func (f *fakeAsker) Ask(_ context.Context, _, user string) (string, error) {
	f.prompt = user
	return f.answer, f.err
}

func TestInstagramScrape(t *testing.T) {
	ask := &fakeAsker{answer: "```json\n" + `{"full_name":"Hotel Sol","biography":"Reservas +56 9 1111 2222 o ventas@hotelsol.cl","business_email":"Info@HotelSol.cl","business_phone":"+56 2 2345 6789","follower_count":"1500","whatsapp_url":"https://api.whatsapp.com/send?phone=56911112222"}` + "\n```"}
	ig := NewInstagram(ask, nil, zerolog.Nop())

	p := ig.Scrape(context.Background(), "https://www.instagram.com/hotelsol/", "Hotel Sol", "Santiago")
	assert.Contains(t, ask.prompt, "@hotelsol")
	assert.Contains(t, ask.prompt, "which belongs to Hotel Sol, Santiago")
	assert.Equal(t, "Hotel Sol", p.FullName)
	assert.Equal(t, "info@hotelsol.cl", p.Email)
	assert.Equal(t, "+56223456789", p.Phone)
	assert.Equal(t, 1500, p.Followers)
	assert.Equal(t, []string{"+56911112222"}, p.BioPhones)
	assert.Equal(t, []string{"ventas@hotelsol.cl"}, p.BioEmails)
	assert.Equal(t, "+56911112222", p.WhatsApp)
}

func TestInstagramScrapeFailureKeepsUsername(t *testing.T) {
	ig := NewInstagram(&fakeAsker{err: errors.New("down")}, nil, zerolog.Nop())
	p := ig.Scrape(context.Background(), "https://instagram.com/hotelsol", "", "")
	assert.Equal(t, "hotelsol", p.Username)
	assert.True(t, p.Empty())

	p = ig.Scrape(context.Background(), "https://instagram.com/explore", "", "")
	assert.Equal(t, Profile{}, p)
}

func TestResolveWaLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://api.whatsapp.com/send/?phone=56933334444&text=hola", http.StatusFound)
	}))
	defer srv.Close()

	ig := NewInstagram(&fakeAsker{}, srv.Client(), zerolog.Nop())
	n := ig.resolveWhatsApp(context.Background(), []string{"", srv.URL + "/wa.link/abc"})
	require.Equal(t, "+56933334444", n)
}
