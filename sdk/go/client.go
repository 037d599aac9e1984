package pledgelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Pledgeline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Trigger represents the API trigger model (partial).
type Trigger struct {
	ID                string `json:"id"`
	Key               string `json:"key"`
	Title             string `json:"title"`
	State             string `json:"state"`
	PledgeCount       int64  `json:"pledge_count"`
	TotalPledgedCents int64  `json:"total_pledged_cents"`
}

// Pledge represents the API pledge model (partial).
type Pledge struct {
	ID             string `json:"id"`
	TriggerID      string `json:"trigger_id"`
	UserID         string `json:"user_id"`
	DesiredOutcome int    `json:"desired_outcome"`
	AmountCents    int64  `json:"amount_cents"`
	State          string `json:"state"`
}

// PledgeExecution represents the result of charging a pledge.
type PledgeExecution struct {
	ID            string `json:"id"`
	PledgeID      string `json:"pledge_id"`
	Problem       string `json:"problem"`
	ProblemDetail string `json:"problem_detail,omitempty"`
	ChargedCents  int64  `json:"charged_cents"`
	FeesCents     int64  `json:"fees_cents"`
}

// BatchResult summarizes a batch execution run.
type BatchResult struct {
	Executed int `json:"executed"`
	Problems int `json:"problems"`
	Skipped  []struct {
		PledgeID string `json:"pledge_id"`
		Error    string `json:"error"`
	} `json:"skipped,omitempty"`
}

// Slice is one contribution aggregate row.
type Slice struct {
	ExecutionID string `json:"execution_id"`
	CampaignID  string `json:"campaign_id"`
	Outcome     string `json:"outcome"`
	ActorID     string `json:"actor_id"`
	Incumbent   string `json:"incumbent"`
	Party       string `json:"party"`
	District    string `json:"district"`
	Count       int64  `json:"count"`
	TotalCents  int64  `json:"total_cents"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	CampaignID string         `json:"campaign_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// GetTrigger fetches a trigger by id.
func (c *Client) GetTrigger(ctx context.Context, id string) (Trigger, error) {
	var resp Trigger
	err := c.do(ctx, http.MethodGet, "v0/triggers/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListTriggers returns all triggers.
func (c *Client) ListTriggers(ctx context.Context) ([]Trigger, error) {
	var resp []Trigger
	err := c.do(ctx, http.MethodGet, "v0/triggers", nil, &resp)
	return resp, err
}

// CreatePledge creates a pledge against a trigger.
func (c *Client) CreatePledge(ctx context.Context, triggerID, userID, profileID string, desiredOutcome int, amountCents int64) (Pledge, error) {
	body := map[string]any{
		"trigger_id":      triggerID,
		"user_id":         userID,
		"profile_id":      profileID,
		"desired_outcome": desiredOutcome,
		"amount_cents":    amountCents,
	}
	var resp Pledge
	err := c.do(ctx, http.MethodPost, "v0/pledges", body, &resp)
	return resp, err
}

// GetPledge fetches a pledge by id.
func (c *Client) GetPledge(ctx context.Context, id string) (Pledge, error) {
	var resp Pledge
	err := c.do(ctx, http.MethodGet, "v0/pledges/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// CancelPledge cancels an open pledge.
func (c *Client) CancelPledge(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/pledges/"+url.PathEscape(id), nil, nil)
}

// ExecutePledge charges a single pledge.
func (c *Client) ExecutePledge(ctx context.Context, id string) (PledgeExecution, error) {
	var resp PledgeExecution
	err := c.do(ctx, http.MethodPost, "v0/pledges/"+url.PathEscape(id)+"/execute", nil, &resp)
	return resp, err
}

// ExecuteTriggerPledges charges all open pledges on an executed trigger.
func (c *Client) ExecuteTriggerPledges(ctx context.Context, triggerID string) (BatchResult, error) {
	var resp BatchResult
	err := c.do(ctx, http.MethodPost, "v0/triggers/"+url.PathEscape(triggerID)+"/execute-pledges", nil, &resp)
	return resp, err
}

// StatsSlice returns one aggregate slice; unset dimensions mean all.
func (c *Client) StatsSlice(ctx context.Context, dims map[string]string) (Slice, error) {
	var resp Slice
	err := c.do(ctx, http.MethodGet, "v0/stats/slice"+queryString(dims), nil, &resp)
	return resp, err
}

// StatsSlices returns slices broken down across the named dimensions.
func (c *Client) StatsSlices(ctx context.Context, across []string, dims map[string]string) ([]Slice, error) {
	if dims == nil {
		dims = map[string]string{}
	}
	dims["across"] = strings.Join(across, ",")
	var resp []Slice
	err := c.do(ctx, http.MethodGet, "v0/stats/slices"+queryString(dims), nil, &resp)
	return resp, err
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func queryString(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	values := url.Values{}
	for k, v := range params {
		if v != "" {
			values.Set(k, v)
		}
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
