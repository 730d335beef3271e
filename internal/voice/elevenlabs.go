// Package voice places outbound calls through an ElevenLabs conversational
// agent and reads back the conversation analysis.
package voice

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"leadflow/internal/upstream"
)

const DefaultBaseURL = "https://api.elevenlabs.io/v1"

// Conversation statuses reported by the API.
const (
	StatusInitiated  = "initiated"
	StatusInProgress = "in-progress"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

type CallStart struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	SIPCallID      string `json:"sip_call_id"`
}

type TranscriptEntry struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// DataResult is one collected data point. Value may be any JSON scalar.
type DataResult struct {
	Value     any    `json:"value"`
	Rationale string `json:"rationale"`
}

type Analysis struct {
	ExtractedData         map[string]any        `json:"extracted_data"`
	DataCollectionResults map[string]DataResult `json:"data_collection_results"`
	TranscriptSummary     string                `json:"transcript_summary"`
	CallSuccessful        string                `json:"call_successful"`
}

type Conversation struct {
	ConversationID string            `json:"conversation_id"`
	Status         string            `json:"status"`
	Transcript     []TranscriptEntry `json:"transcript"`
	Analysis       *Analysis         `json:"analysis"`
	Metadata       map[string]any    `json:"metadata"`
}

// Finished reports whether the conversation reached a terminal status.
func (c *Conversation) Finished() bool {
	return c.Status == StatusDone || c.Status == StatusFailed
}

type Client struct {
	api           *upstream.Client
	baseURL       string
	agentID       string
	phoneNumberID string
}

func New(httpClient *http.Client, apiKey, agentID, phoneNumberID string) *Client {
	return &Client{
		api: &upstream.Client{
			Service: "ElevenLabs",
			HTTP:    httpClient,
			Header:  http.Header{"xi-api-key": {apiKey}},
		},
		baseURL:       DefaultBaseURL,
		agentID:       agentID,
		phoneNumberID: phoneNumberID,
	}
}

func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

// StartOutboundCall dials to through the SIP trunk. vars are exposed to the
// agent as dynamic variables.
func (c *Client) StartOutboundCall(ctx context.Context, to string, vars map[string]string) (CallStart, error) {
	body := map[string]any{
		"agent_id":              c.agentID,
		"agent_phone_number_id": c.phoneNumberID,
		"to_number":             to,
	}
	if len(vars) > 0 {
		body["conversation_initiation_client_data"] = map[string]any{"dynamic_variables": vars}
	}
	var out CallStart
	err := c.api.Do(ctx, upstream.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + "/convai/sip-trunk/outbound-call",
		Body:   body,
	}, &out)
	return out, err
}

func (c *Client) Conversation(ctx context.Context, id string) (Conversation, error) {
	var out Conversation
	err := c.api.Do(ctx, upstream.Request{URL: c.baseURL + "/convai/conversations/" + url.PathEscape(id)}, &out)
	return out, err
}
