package opsboardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal opsboard HTTP API client.
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

// Instance represents a dated task (partial).
type Instance struct {
	ID               string   `json:"id"`
	TemplateID       string   `json:"template_id,omitempty"`
	Date             string   `json:"date"`
	Title            string   `json:"title"`
	OwnerID          string   `json:"owner_id"`
	ChannelID        string   `json:"channel_id,omitempty"`
	TimeOfDay        string   `json:"time_of_day"`
	IsCritical       bool     `json:"is_critical"`
	EvidenceRequired bool     `json:"evidence_required"`
	Status           string   `json:"status"`
	Evidence         []string `json:"evidence,omitempty"`
	SkipReason       string   `json:"skip_reason,omitempty"`
	PointsAwarded    *int     `json:"points_awarded,omitempty"`
}

// PointsEntry is one ledger row.
type PointsEntry struct {
	ID         string `json:"id"`
	OwnerID    string `json:"owner_id"`
	Date       string `json:"date"`
	Amount     int    `json:"amount"`
	Reason     string `json:"reason,omitempty"`
	SourceKind string `json:"source_kind"`
	SourceID   string `json:"source_id,omitempty"`
}

// Transition is returned by Complete and Skip.
type Transition struct {
	Instance Instance    `json:"instance"`
	Entry    PointsEntry `json:"points_entry"`
}

type ApplyResult struct {
	Month   string `json:"month"`
	Created int    `json:"created"`
	Skipped int    `json:"skipped"`
}

type Standing struct {
	OwnerID string `json:"owner_id"`
	Total   int    `json:"total"`
}

// InstancePage wraps list responses with cursors.
type InstancePage struct {
	Items      []Instance `json:"items"`
	NextCursor string     `json:"next_cursor"`
}

// InstanceQuery filters ListInstances. Zero fields are omitted.
type InstanceQuery struct {
	Month   string
	Date    string
	OwnerID string
	Status  string
	Limit   int
	Cursor  string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ApplyMonth generates the month's tasks. month is YYYY-MM or "next".
func (c *Client) ApplyMonth(ctx context.Context, month string) (ApplyResult, error) {
	var resp ApplyResult
	err := c.do(ctx, http.MethodPost, "v0/months/"+url.PathEscape(month)+"/apply", nil, &resp)
	return resp, err
}

// ListInstances returns one page of visible tasks.
func (c *Client) ListInstances(ctx context.Context, q InstanceQuery) (InstancePage, error) {
	params := url.Values{}
	for k, v := range map[string]string{"month": q.Month, "date": q.Date, "owner_id": q.OwnerID, "status": q.Status, "cursor": q.Cursor} {
		if v != "" {
			params.Set(k, v)
		}
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	endpoint := "v0/instances"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp InstancePage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Complete marks a pending task done.
func (c *Client) Complete(ctx context.Context, instanceID string, evidence []string) (Transition, error) {
	var resp Transition
	err := c.do(ctx, http.MethodPost, "v0/instances/"+url.PathEscape(instanceID)+"/complete", map[string]any{"evidence": evidence}, &resp)
	return resp, err
}

// Skip marks a pending task skipped with a reason.
func (c *Client) Skip(ctx context.Context, instanceID, reason string) (Transition, error) {
	var resp Transition
	err := c.do(ctx, http.MethodPost, "v0/instances/"+url.PathEscape(instanceID)+"/skip", map[string]any{"reason": reason}, &resp)
	return resp, err
}

// Ranking returns the standings for a YYYY-MM month.
func (c *Client) Ranking(ctx context.Context, month string) ([]Standing, error) {
	var resp struct {
		Items []Standing `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/points/ranking?month="+url.QueryEscape(month), nil, &resp)
	return resp.Items, err
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
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
