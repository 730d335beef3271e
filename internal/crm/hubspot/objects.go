package hubspot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"leadflow/internal/crm"
	"leadflow/internal/domain"
	"leadflow/internal/upstream"
)

func (c *Client) SearchCompanies(ctx context.Context, agentValue string) ([]domain.Record, error) {
	out, err := c.search(ctx, crm.Companies, searchFilter{
		PropertyName: domain.PropAgent, Operator: "EQ", Value: agentValue,
	}, domain.CompanyProperties)
	if err != nil {
		return nil, err
	}
	c.log.Info().Int("count", len(out)).Str("agente", agentValue).Msg("companies found")
	return out, nil
}

func (c *Client) GetCompany(ctx context.Context, id string) (domain.Record, error) {
	var out apiObject
	err := c.api.Do(ctx, upstream.Request{
		URL:   fmt.Sprintf("%s/crm/v3/objects/companies/%s", c.baseURL, id),
		Query: url.Values{"properties": {strings.Join(domain.CompanyProperties, ",")}},
	}, &out)
	if err != nil {
		return domain.Record{}, notFound(err, "company", id)
	}
	return out.record(), nil
}

// UpdateCompany returns *crm.DuplicateValueError when a unique property
// value is already held by another company.
func (c *Client) UpdateCompany(ctx context.Context, id string, props domain.Properties) error {
	if err := c.patch(ctx, crm.Companies, id, props); err != nil {
		return err
	}
	c.log.Debug().Str("company_id", id).Int("fields", len(props)).Msg("company updated")
	return nil
}

// MergeCompanies folds loserID into winnerID; the winner keeps its id.
func (c *Client) MergeCompanies(ctx context.Context, winnerID, loserID string) error {
	return c.api.Do(ctx, upstream.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + "/crm/v3/objects/companies/merge",
		Body:   map[string]string{"primaryObjectId": winnerID, "objectIdToMerge": loserID},
	}, nil)
}

func (c *Client) CreateNote(ctx context.Context, companyID, body string) error {
	_, err := c.create(ctx, crm.Notes, domain.Properties{
		"hs_note_body": body,
		"hs_timestamp": time.Now().UTC().Format(time.RFC3339),
	}, companyAssociation(companyID, assocNoteCompany))
	return err
}

type associationsResponse struct {
	Results []struct {
		ToObjectID json.Number `json:"toObjectId"`
	} `json:"results"`
	Paging struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

func (c *Client) Associated(ctx context.Context, from crm.ObjectType, id string, to crm.ObjectType) ([]string, error) {
	var ids []string
	after := ""
	for {
		q := url.Values{"limit": {"500"}}
		if after != "" {
			q.Set("after", after)
		}
		var resp associationsResponse
		err := c.api.Do(ctx, upstream.Request{
			URL:   fmt.Sprintf("%s/crm/v4/objects/%s/%s/associations/%s", c.baseURL, from, id, to),
			Query: q,
		}, &resp)
		if err != nil {
			return nil, err
		}
		for _, r := range resp.Results {
			ids = append(ids, r.ToObjectID.String())
		}
		if resp.Paging.Next == nil || resp.Paging.Next.After == "" {
			return ids, nil
		}
		after = resp.Paging.Next.After
	}
}

type batchReadRequest struct {
	Properties []string            `json:"properties"`
	Inputs     []map[string]string `json:"inputs"`
}

func (c *Client) GetObjects(ctx context.Context, typ crm.ObjectType, ids []string, props []string) ([]domain.Record, error) {
	var out []domain.Record
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		req := batchReadRequest{Properties: props}
		for _, id := range ids[start:end] {
			req.Inputs = append(req.Inputs, map[string]string{"id": id})
		}
		var resp struct {
			Results []apiObject `json:"results"`
		}
		err := c.api.Do(ctx, upstream.Request{
			Method: http.MethodPost,
			URL:    fmt.Sprintf("%s/crm/v3/objects/%s/batch/read", c.baseURL, typ),
			Body:   req,
		}, &resp)
		if err != nil {
			return nil, err
		}
		for _, o := range resp.Results {
			out = append(out, o.record())
		}
	}
	return out, nil
}

func (c *Client) CreateContact(ctx context.Context, companyID string, props domain.Properties) (string, error) {
	return c.create(ctx, crm.Contacts, props, companyAssociation(companyID, assocContactCompany))
}

func (c *Client) UpdateContact(ctx context.Context, id string, props domain.Properties) error {
	return c.patch(ctx, crm.Contacts, id, props)
}

func (c *Client) SearchOpenTasks(ctx context.Context) ([]domain.Record, error) {
	return c.search(ctx, crm.Tasks, searchFilter{
		PropertyName: crm.TaskStatus, Operator: "NEQ", Value: crm.TaskCompleted,
	}, []string{crm.TaskSubject, crm.TaskStatus, crm.TaskTimestamp})
}

func (c *Client) UpdateTask(ctx context.Context, id string, props domain.Properties) error {
	return c.patch(ctx, crm.Tasks, id, props)
}

func (c *Client) CreateTask(ctx context.Context, companyID string, props domain.Properties) (string, error) {
	return c.create(ctx, crm.Tasks, props, companyAssociation(companyID, assocTaskCompany))
}

func (c *Client) UpdateLead(ctx context.Context, id string, props domain.Properties) error {
	return c.patch(ctx, crm.Leads, id, props)
}

func (c *Client) CreateCall(ctx context.Context, companyID string, props domain.Properties) (string, error) {
	return c.create(ctx, crm.Calls, props, companyAssociation(companyID, assocCallCompany))
}
