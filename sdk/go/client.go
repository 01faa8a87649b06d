package piplansdk

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

// Client is a minimal piplan HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  30 * time.Second,
	}
}

// PlanRequest is the body of a planning run. Snapshot holds a raw snapshot
// document in JSON; set Demo to plan the server's built-in sample instead.
type PlanRequest struct {
	Snapshot       json.RawMessage `json:"snapshot,omitempty"`
	Demo           bool            `json:"demo,omitempty"`
	Iterations     []string        `json:"iterations,omitempty"`
	Teams          []string        `json:"teams,omitempty"`
	CapacityBuffer *float64        `json:"capacity_buffer,omitempty"`
	MaxRounds      int             `json:"max_rounds,omitempty"`
	FallbackEffort float64         `json:"fallback_effort,omitempty"`
}

// Run is the stored header of a planning run.
type Run struct {
	ID             string   `json:"id"`
	ProjectID      string   `json:"project_id"`
	Status         string   `json:"status"`
	Iterations     []string `json:"iterations"`
	CapacityBuffer float64  `json:"capacity_buffer"`
	MaxRounds      int      `json:"max_rounds"`
	Rounds         int      `json:"rounds"`
	TotalStories   int      `json:"total_stories"`
	Accepted       int      `json:"accepted"`
	Rejected       int      `json:"rejected"`
	CreatedAt      string   `json:"created_at"`
}

type Assignment struct {
	StoryID       int     `json:"story_id"`
	FeatureID     int     `json:"feature_id"`
	TeamID        string  `json:"team_id"`
	Iteration     string  `json:"iteration"`
	Effort        float64 `json:"effort"`
	Status        string  `json:"status"`
	SequenceOrder int     `json:"sequence_order"`
}

type Rejection struct {
	StoryID   int    `json:"story_id"`
	FeatureID int    `json:"feature_id"`
	TeamID    string `json:"team_id"`
	Round     int    `json:"round"`
	Reason    string `json:"reason"`
	Blocking  []int  `json:"blocking,omitempty"`
}

type Risk struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Probability     float64 `json:"probability"`
	Impact          string  `json:"impact"`
	Score           float64 `json:"risk_score"`
	Mitigation      string  `json:"mitigation,omitempty"`
	RelatedFeatures []int   `json:"related_features,omitempty"`
	RelatedStories  []int   `json:"related_stories,omitempty"`
}

type Summary struct {
	TotalStories int `json:"total_stories"`
	Schedulable  int `json:"schedulable_stories"`
	Unassigned   int `json:"unassigned_stories"`
	Accepted     int `json:"accepted"`
	Rejected     int `json:"rejected"`
}

// Plan is the outcome of a planning run.
type Plan struct {
	Run         Run          `json:"run"`
	Summary     Summary      `json:"summary"`
	Assignments []Assignment `json:"assignments"`
	Rejections  []Rejection  `json:"rejections"`
	Unassigned  []int        `json:"unassigned_stories"`
	Risks       []Risk       `json:"risks"`
}

// Event is one entry of a run's negotiation trace.
type Event struct {
	ID      int64  `json:"id"`
	RunID   string `json:"run_id"`
	Seq     int    `json:"seq"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	StoryID *int   `json:"story_id,omitempty"`
	TeamID  string `json:"team_id,omitempty"`
	Payload string `json:"payload_json"`
}

type Risks struct {
	Risks  []Risk         `json:"risks"`
	Counts map[string]int `json:"counts"`
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

// PaginatedRuns wraps run listings with cursors.
type PaginatedRuns struct {
	Items      []Run  `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// PaginatedEvents wraps trace listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

// CreatePlan runs a negotiation on the server and returns its result.
func (c *Client) CreatePlan(ctx context.Context, req PlanRequest) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodPost, "plans", req, &resp)
	return resp, err
}

// ListRuns returns one page of runs, newest first.
func (c *Client) ListRuns(ctx context.Context, limit int, cursor string) (PaginatedRuns, error) {
	var resp PaginatedRuns
	err := c.do(ctx, http.MethodGet, withQuery("plans", pageQuery(limit, cursor)), nil, &resp)
	return resp, err
}

// GetPlan fetches a stored run and its result.
func (c *Client) GetPlan(ctx context.Context, runID string) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodGet, runPath(runID, ""), nil, &resp)
	return resp, err
}

// Assignments lists a run's accepted assignments, optionally filtered.
func (c *Client) Assignments(ctx context.Context, runID, team, iteration string) ([]Assignment, error) {
	q := url.Values{}
	if team != "" {
		q.Set("team", team)
	}
	if iteration != "" {
		q.Set("iteration", iteration)
	}
	var resp []Assignment
	err := c.do(ctx, http.MethodGet, withQuery(runPath(runID, "assignments"), q), nil, &resp)
	return resp, err
}

// EventsPage returns a page of a run's negotiation trace.
func (c *Client) EventsPage(ctx context.Context, runID, eventType string, limit int, cursor string) (PaginatedEvents, error) {
	q := pageQuery(limit, cursor)
	if eventType != "" {
		q.Set("type", eventType)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery(runPath(runID, "events"), q), nil, &resp)
	return resp, err
}

// Events walks every page of a run's trace.
func (c *Client) Events(ctx context.Context, runID, eventType string) ([]Event, error) {
	var (
		out    []Event
		cursor string
	)
	for {
		page, err := c.EventsPage(ctx, runID, eventType, 200, cursor)
		if err != nil {
			return out, err
		}
		out = append(out, page.Items...)
		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

// Risks returns the risk register of a run.
func (c *Client) Risks(ctx context.Context, runID string) (Risks, error) {
	var resp Risks
	err := c.do(ctx, http.MethodGet, runPath(runID, "risks"), nil, &resp)
	return resp, err
}

// Board renders the program board in format (text, markdown, html or csv).
func (c *Client) Board(ctx context.Context, runID, format string) ([]byte, error) {
	q := url.Values{}
	if format != "" {
		q.Set("format", format)
	}
	var buf bytes.Buffer
	err := c.do(ctx, http.MethodGet, withQuery(runPath(runID, "board"), q), nil, &buf)
	return buf.Bytes(), err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
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
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	switch dst := out.(type) {
	case nil:
		return nil
	case *bytes.Buffer:
		_, err := io.Copy(dst, resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func (c *Client) base() string {
	basePath := strings.Trim(c.BasePath, "/")
	if basePath == "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + basePath
}

func runPath(runID, sub string) string {
	p := "plans/" + url.PathEscape(runID)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func pageQuery(limit int, cursor string) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return q
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}
