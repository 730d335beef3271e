// Package scrape extracts contact data from hotel websites and Instagram
// profiles. Scrapers never fail: a page that cannot be read yields an empty
// result.
package scrape

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxBody = 2 << 20
	DefaultTimeout = 10 * time.Second
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// Fetcher downloads HTML pages with a size cap and a content-type check.
type Fetcher struct {
	HTTP    *http.Client
	MaxBody int64
	Timeout time.Duration
	Log     zerolog.Logger
}

func NewFetcher(httpClient *http.Client, logger zerolog.Logger) *Fetcher {
	return &Fetcher{HTTP: httpClient, MaxBody: DefaultMaxBody, Timeout: DefaultTimeout, Log: logger}
}

// Fetch returns the page body, or "" when the page is unreachable, not
// HTML or larger than MaxBody.
func (f *Fetcher) Fetch(ctx context.Context, url string) string {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		f.Log.Debug().Err(err).Str("url", url).Msg("bad url")
		return ""
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "es,en;q=0.9")

	hc := f.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		f.Log.Debug().Err(err).Str("url", url).Msg("fetch failed")
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		f.Log.Debug().Int("status", resp.StatusCode).Str("url", url).Msg("fetch failed")
		return ""
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		f.Log.Debug().Str("content_type", ct).Str("url", url).Msg("skipping non-html page")
		return ""
	}
	limit := f.MaxBody
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		f.Log.Debug().Err(err).Str("url", url).Msg("read failed")
		return ""
	}
	if int64(len(body)) > limit {
		f.Log.Debug().Str("url", url).Msg("skipping oversized page")
		return ""
	}
	return string(body)
}

// parse returns nil for unparseable HTML.
func parse(html string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	return doc
}

// visibleText joins the document's text nodes with spaces, skipping scripts
// and styles, so adjacent elements do not run together.
func visibleText(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()
	var parts []string
	doc.Find("*").Contents().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) != "#text" {
			return
		}
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, " ")
}

func hrefs(doc *goquery.Document) []string {
	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if h, ok := s.Attr("href"); ok {
			out = append(out, strings.TrimSpace(h))
		}
	})
	return out
}
