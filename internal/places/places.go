// Package places looks up businesses in the Google Places API (v1).
package places

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"leadflow/internal/upstream"
)

const DefaultBaseURL = "https://places.googleapis.com/v1"

var placeFields = []string{
	"id", "displayName", "formattedAddress", "nationalPhoneNumber",
	"internationalPhoneNumber", "websiteUri", "rating", "userRatingCount",
	"googleMapsUri", "businessStatus", "location", "addressComponents",
}

type AddressComponent struct {
	LongText  string   `json:"longText"`
	ShortText string   `json:"shortText"`
	Types     []string `json:"types"`
}

type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type LocalizedText struct {
	Text string `json:"text"`
}

type Place struct {
	ID                       string             `json:"id"`
	DisplayName              *LocalizedText     `json:"displayName,omitempty"`
	FormattedAddress         string             `json:"formattedAddress"`
	NationalPhoneNumber      string             `json:"nationalPhoneNumber"`
	InternationalPhoneNumber string             `json:"internationalPhoneNumber"`
	WebsiteURI               string             `json:"websiteUri"`
	Rating                   float64            `json:"rating"`
	UserRatingCount          int                `json:"userRatingCount"`
	GoogleMapsURI            string             `json:"googleMapsUri"`
	BusinessStatus           string             `json:"businessStatus"`
	Location                 *LatLng            `json:"location,omitempty"`
	AddressComponents        []AddressComponent `json:"addressComponents"`
}

// Name returns the display name, or "".
func (p *Place) Name() string {
	if p == nil || p.DisplayName == nil {
		return ""
	}
	return p.DisplayName.Text
}

// Phone prefers the international format.
func (p *Place) Phone() string {
	if p.InternationalPhoneNumber != "" {
		return p.InternationalPhoneNumber
	}
	return p.NationalPhoneNumber
}

// LatLong renders the location as "lat,long", or "" when unknown.
func (p *Place) LatLong() string {
	if p == nil || p.Location == nil {
		return ""
	}
	return fmt.Sprintf("%g,%g", p.Location.Latitude, p.Location.Longitude)
}

type Client struct {
	api     *upstream.Client
	baseURL string
}

func New(httpClient *http.Client, apiKey string) *Client {
	return &Client{
		api: &upstream.Client{
			Service: "Google Places",
			HTTP:    httpClient,
			Header:  http.Header{"X-Goog-Api-Key": {apiKey}},
		},
		baseURL: DefaultBaseURL,
	}
}

// WithBaseURL points the client at another endpoint (tests, proxies).
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

// SearchText returns the best match for query, or nil when there is none.
func (c *Client) SearchText(ctx context.Context, query string) (*Place, error) {
	mask := make([]string, len(placeFields))
	for i, f := range placeFields {
		mask[i] = "places." + f
	}
	var resp struct {
		Places []Place `json:"places"`
	}
	err := c.api.Do(ctx, upstream.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + "/places:searchText",
		Header: map[string]string{"X-Goog-FieldMask": strings.Join(mask, ",")},
		Body:   map[string]string{"textQuery": query},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Places) == 0 {
		return nil, nil
	}
	return &resp.Places[0], nil
}

// Get fetches a place by id. A 404 is reported as no result.
func (c *Client) Get(ctx context.Context, id string) (*Place, error) {
	var p Place
	err := c.api.Do(ctx, upstream.Request{
		URL:    c.baseURL + "/places/" + url.PathEscape(id),
		Header: map[string]string{"X-Goog-FieldMask": strings.Join(placeFields, ",")},
	}, &p)
	if upstream.StatusCode(err) == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// BuildQuery joins the non-empty parts with ", ".
func BuildQuery(name, city, country string) string {
	var parts []string
	for _, p := range []string{name, city, country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
