// Package reviews is the TripAdvisor Content API adapter.
package reviews

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"leadflow/internal/upstream"
)

const DefaultBaseURL = "https://api.content.tripadvisor.com/api/v1"

type Location struct {
	LocationID  string            `json:"location_id"`
	Name        string            `json:"name"`
	Rating      string            `json:"rating"`
	NumReviews  string            `json:"num_reviews"`
	RankingData map[string]any    `json:"ranking_data"`
	PriceLevel  string            `json:"price_level"`
	Category    *Named            `json:"category"`
	Subcategory []Named           `json:"subcategory"`
	WebURL      string            `json:"web_url"`
	Phone       string            `json:"phone"`
	Email       string            `json:"email"`
	Website     string            `json:"website"`
	Address     map[string]string `json:"address_obj"`
}

type Named struct {
	Name string `json:"name"`
}

// Ranking returns ranking_data.ranking_string, or "".
func (l *Location) Ranking() string {
	if l == nil {
		return ""
	}
	s, _ := l.RankingData["ranking_string"].(string)
	return s
}

type Photo struct {
	Caption string `json:"caption"`
	URL     string `json:"url"`
}

type Client struct {
	api     *upstream.Client
	baseURL string
	key     string
	log     zerolog.Logger
}

func New(httpClient *http.Client, apiKey string, logger zerolog.Logger) *Client {
	return &Client{
		api:     &upstream.Client{Service: "TripAdvisor", HTTP: httpClient},
		baseURL: DefaultBaseURL,
		key:     apiKey,
		log:     logger.With().Str("component", "tripadvisor").Logger(),
	}
}

func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

func (c *Client) params(extra url.Values) url.Values {
	q := url.Values{"key": {c.key}, "language": {"es"}}
	for k, v := range extra {
		q[k] = v
	}
	return q
}

// Search returns the location id of the best hotel match for query, or "".
// With a hintName, only candidates whose name overlaps it are accepted.
// latLong ("lat,long") biases the search when set.
func (c *Client) Search(ctx context.Context, query, hintName, latLong string) (string, error) {
	q := url.Values{"searchQuery": {query}, "category": {"hotels"}}
	if latLong != "" {
		q.Set("latLong", latLong)
	}
	var resp struct {
		Data []struct {
			LocationID string `json:"location_id"`
			Name       string `json:"name"`
		} `json:"data"`
	}
	if err := c.api.Do(ctx, upstream.Request{URL: c.baseURL + "/location/search", Query: c.params(q)}, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		c.log.Info().Str("query", query).Msg("no tripadvisor results")
		return "", nil
	}
	if hintName == "" {
		return resp.Data[0].LocationID, nil
	}
	for _, d := range resp.Data {
		if NamesOverlap(d.Name, hintName) {
			return d.LocationID, nil
		}
	}
	c.log.Info().Str("query", query).Str("hint", hintName).Int("candidates", len(resp.Data)).Msg("no tripadvisor candidate matches name")
	return "", nil
}

// Details returns the location, or nil for an unknown id.
func (c *Client) Details(ctx context.Context, id string) (*Location, error) {
	var loc Location
	err := c.api.Do(ctx, upstream.Request{
		URL:   c.baseURL + "/location/" + url.PathEscape(id) + "/details",
		Query: c.params(nil),
	}, &loc)
	if upstream.StatusCode(err) == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if loc.LocationID == "" {
		loc.LocationID = id
	}
	return &loc, nil
}

// SearchDetails chains Search and Details.
func (c *Client) SearchDetails(ctx context.Context, query, hintName, latLong string) (*Location, error) {
	id, err := c.Search(ctx, query, hintName, latLong)
	if err != nil || id == "" {
		return nil, err
	}
	return c.Details(ctx, id)
}

// Photos returns up to five photos, largest size available.
func (c *Client) Photos(ctx context.Context, id string) ([]Photo, error) {
	type image struct {
		URL string `json:"url"`
	}
	var resp struct {
		Data []struct {
			Caption string `json:"caption"`
			Images  struct {
				Original *image `json:"original"`
				Large    *image `json:"large"`
				Medium   *image `json:"medium"`
			} `json:"images"`
		} `json:"data"`
	}
	err := c.api.Do(ctx, upstream.Request{
		URL:   c.baseURL + "/location/" + url.PathEscape(id) + "/photos",
		Query: c.params(url.Values{"limit": {"5"}}),
	}, &resp)
	if err != nil {
		return nil, err
	}
	var out []Photo
	for _, d := range resp.Data {
		var u string
		for _, img := range []*image{d.Images.Large, d.Images.Original, d.Images.Medium} {
			if img != nil && img.URL != "" {
				u = img.URL
				break
			}
		}
		if u != "" {
			out = append(out, Photo{Caption: d.Caption, URL: u})
		}
	}
	return out, nil
}
