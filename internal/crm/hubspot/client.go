// Package hubspot implements crm.Client against the HubSpot CRM REST API.
package hubspot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"leadflow/internal/crm"
	"leadflow/internal/domain"
	"leadflow/internal/upstream"
)

const (
	DefaultBaseURL = "https://api.hubapi.com"
	pageSize       = 100
	batchSize      = 100
)

// HubSpot-defined association type ids, object to company.
const (
	assocNoteCompany    = 190
	assocCallCompany    = 182
	assocTaskCompany    = 192
	assocContactCompany = 279
)

var _ crm.Client = (*Client)(nil)

type Client struct {
	api     *upstream.Client
	baseURL string
	log     zerolog.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithRateLimit paces requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.api.Limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

func New(httpClient *http.Client, token string, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		api: &upstream.Client{
			Service: "HubSpot",
			HTTP:    httpClient,
			Header:  http.Header{"Authorization": {"Bearer " + token}},
		},
		baseURL: DefaultBaseURL,
		log:     logger.With().Str("component", "hubspot").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// duplicateRe matches HubSpot's VALIDATION_ERROR text for a unique property:
// "... propertyName=id_hotel, value=ChIJ123} on 48328838322. 51090765207 already has that value."
var duplicateRe = regexp.MustCompile(`propertyName=([A-Za-z0-9_]+), value=([^}]*)\} on \d+\. (\d+) already has that value`)

// translateWriteError converts a uniqueness violation into a typed error.
// Anything else passes through unchanged.
func translateWriteError(err error) error {
	var ue *upstream.Error
	if !errors.As(err, &ue) || ue.StatusCode != http.StatusBadRequest {
		return err
	}
	m := duplicateRe.FindStringSubmatch(ue.Body)
	if m == nil {
		return err
	}
	return &crm.DuplicateValueError{Field: m[1], Value: m[2], ConflictingID: m[3]}
}

func notFound(err error, what, id string) error {
	if upstream.StatusCode(err) == http.StatusNotFound {
		return fmt.Errorf("%w: %s %s", crm.ErrNotFound, what, id)
	}
	return err
}

type apiObject struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
}

func (o apiObject) record() domain.Record {
	props := make(domain.Properties, len(o.Properties))
	for k, v := range o.Properties {
		switch t := v.(type) {
		case nil:
		case string:
			props[k] = t
		case float64:
			props[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			props[k] = strconv.FormatBool(t)
		default:
			props[k] = fmt.Sprint(t)
		}
	}
	return domain.Record{ID: o.ID, Properties: props}
}

type searchFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type searchRequest struct {
	FilterGroups []map[string][]searchFilter `json:"filterGroups"`
	Properties   []string                    `json:"properties"`
	Limit        int                         `json:"limit"`
	After        string                      `json:"after,omitempty"`
}

type searchResponse struct {
	Results []apiObject `json:"results"`
	Paging  struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

// search pages through /search. A client error on a later page returns
// what was collected so far; a rate limit always fails.
func (c *Client) search(ctx context.Context, typ crm.ObjectType, filter searchFilter, props []string) ([]domain.Record, error) {
	req := searchRequest{
		FilterGroups: []map[string][]searchFilter{{"filters": {filter}}},
		Properties:   props,
		Limit:        pageSize,
	}
	var out []domain.Record
	for {
		var resp searchResponse
		err := c.api.Do(ctx, upstream.Request{
			Method: http.MethodPost,
			URL:    fmt.Sprintf("%s/crm/v3/objects/%s/search", c.baseURL, typ),
			Body:   req,
		}, &resp)
		if err != nil {
			if len(out) > 0 && !upstream.IsRateLimit(err) && upstream.StatusCode(err) > 0 {
				c.log.Warn().Err(err).Int("collected", len(out)).Msg("search page failed, returning partial results")
				return out, nil
			}
			return nil, err
		}
		for _, o := range resp.Results {
			out = append(out, o.record())
		}
		if resp.Paging.Next == nil || resp.Paging.Next.After == "" {
			return out, nil
		}
		req.After = resp.Paging.Next.After
	}
}

type association struct {
	To struct {
		ID string `json:"id"`
	} `json:"to"`
	Types []associationType `json:"types"`
}

type associationType struct {
	Category string `json:"associationCategory"`
	TypeID   int    `json:"associationTypeId"`
}

func companyAssociation(companyID string, typeID int) []association {
	a := association{Types: []associationType{{Category: "HUBSPOT_DEFINED", TypeID: typeID}}}
	a.To.ID = companyID
	return []association{a}
}

type createRequest struct {
	Properties   domain.Properties `json:"properties"`
	Associations []association     `json:"associations,omitempty"`
}

func (c *Client) create(ctx context.Context, typ crm.ObjectType, props domain.Properties, assoc []association) (string, error) {
	var out apiObject
	err := c.api.Do(ctx, upstream.Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/crm/v3/objects/%s", c.baseURL, typ),
		Body:   createRequest{Properties: props, Associations: assoc},
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) patch(ctx context.Context, typ crm.ObjectType, id string, props domain.Properties) error {
	err := c.api.Do(ctx, upstream.Request{
		Method: http.MethodPatch,
		URL:    fmt.Sprintf("%s/crm/v3/objects/%s/%s", c.baseURL, typ, id),
		Body:   map[string]domain.Properties{"properties": props},
	}, nil)
	return notFound(translateWriteError(err), string(typ), id)
}
