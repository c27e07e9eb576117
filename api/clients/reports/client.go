// Package reports is a Go client for the grantdesk report API.
package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Principal struct {
	Subject string
	Roles   []string
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Principal  Principal
}

// Payload is the editable content of a report.
type Payload struct {
	Activities   string     `json:"activities"`
	Results      string     `json:"results"`
	Difficulties string     `json:"difficulties,omitempty"`
	NextSteps    string     `json:"next_steps,omitempty"`
	Remarks      string     `json:"remarks,omitempty"`
	Hours        *int       `json:"hours,omitempty"`
	Deliverables []string   `json:"deliverables"`
	LastSavedAt  *time.Time `json:"last_saved_at,omitempty"`
}

type Report struct {
	ID             string   `json:"id"`
	SubjectID      string   `json:"subject_id"`
	ProjectID      string   `json:"project_id"`
	OrganizationID string   `json:"organization_id"`
	Year           int      `json:"year"`
	Month          int      `json:"month"`
	Status         string   `json:"status"`
	Version        int64    `json:"version"`
	ReturnReason   string   `json:"return_reason,omitempty"`
	PDFSHA256      string   `json:"pdf_sha256,omitempty"`
	AllowedActions []string `json:"allowed_actions"`
}

type ReportView struct {
	Report                  Report  `json:"report"`
	Payload                 Payload `json:"payload"`
	AutosaveIntervalSeconds int     `json:"autosave_interval_seconds"`
}

// AutosaveInterval is the save cadence the server asks editors to use, or
// DefaultAutosaveInterval when it names none.
func (v ReportView) AutosaveInterval() time.Duration {
	if v.AutosaveIntervalSeconds <= 0 {
		return DefaultAutosaveInterval
	}
	return time.Duration(v.AutosaveIntervalSeconds) * time.Second
}

type StatusResult struct {
	Status  string `json:"status"`
	Version int64  `json:"version"`
	JobID   string `json:"job_id,omitempty"`
}

type JobOutcome struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Location    string `json:"location,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	Message     string `json:"message,omitempty"`
}

func (o JobOutcome) Done() bool {
	return o.Status == "success" || o.Status == "error"
}

type DocumentLink struct {
	DocumentID  string `json:"document_id"`
	Version     int    `json:"version"`
	URL         string `json:"url"`
	ExpiresAt   string `json:"expires_at"`
	ContentHash string `json:"content_hash"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int            `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("grantdesk: %d %s: %s", e.Status, e.Code, e.Message)
}

func hasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func IsNotEditable(err error) bool { return hasCode(err, "NOT_EDITABLE") }
func IsConflict(err error) bool    { return hasCode(err, "CONFLICT") }
func IsRateLimited(err error) bool { return hasCode(err, "RATE_LIMITED") }

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.HTTPClient = client
	}
}

func WithPrincipal(principal Principal) Option {
	return func(c *Client) {
		c.Principal = principal
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func (c *Client) Open(ctx context.Context, subjectID, projectID string, year, month int) (ReportView, error) {
	var out ReportView
	err := c.do(ctx, http.MethodPost, "/v1/reports/open", map[string]any{
		"subject_id": subjectID,
		"project_id": projectID,
		"year":       year,
		"month":      month,
	}, &out)
	return out, err
}

func (c *Client) Get(ctx context.Context, reportID string) (ReportView, error) {
	var out ReportView
	err := c.do(ctx, http.MethodGet, reportPath(reportID, ""), nil, &out)
	return out, err
}

// Save overwrites the report payload and returns the server save time.
func (c *Client) Save(ctx context.Context, reportID string, payload Payload) (time.Time, error) {
	var out struct {
		SavedAt time.Time `json:"saved_at"`
	}
	if err := c.do(ctx, http.MethodPut, reportPath(reportID, "payload"), payload, &out); err != nil {
		return time.Time{}, err
	}
	return out.SavedAt, nil
}

// Submit locks the report and starts document generation. A zero
// expectedVersion skips the optimistic check.
func (c *Client) Submit(ctx context.Context, reportID string, expectedVersion int64) (StatusResult, error) {
	return c.transition(ctx, reportID, "submit", expectedVersion, "")
}

func (c *Client) StartReview(ctx context.Context, reportID string, expectedVersion int64) (StatusResult, error) {
	return c.transition(ctx, reportID, "review", expectedVersion, "")
}

func (c *Client) Approve(ctx context.Context, reportID string, expectedVersion int64) (StatusResult, error) {
	return c.transition(ctx, reportID, "approve", expectedVersion, "")
}

func (c *Client) Return(ctx context.Context, reportID string, expectedVersion int64, reason string) (StatusResult, error) {
	return c.transition(ctx, reportID, "return", expectedVersion, reason)
}

func (c *Client) Reopen(ctx context.Context, reportID string, expectedVersion int64) (StatusResult, error) {
	return c.transition(ctx, reportID, "reopen", expectedVersion, "")
}

func (c *Client) Cancel(ctx context.Context, reportID string, expectedVersion int64) (StatusResult, error) {
	return c.transition(ctx, reportID, "cancel", expectedVersion, "")
}

func (c *Client) transition(ctx context.Context, reportID, action string, expectedVersion int64, reason string) (StatusResult, error) {
	body := map[string]any{"expected_version": expectedVersion}
	if reason != "" {
		body["reason"] = reason
	}
	var out StatusResult
	err := c.do(ctx, http.MethodPost, reportPath(reportID, action), body, &out)
	return out, err
}

func (c *Client) Regenerate(ctx context.Context, reportID string) (string, error) {
	var out struct {
		JobID string `json:"job_id"`
	}
	err := c.do(ctx, http.MethodPost, reportPath(reportID, "regenerate"), nil, &out)
	return out.JobID, err
}

func (c *Client) Poll(ctx context.Context, jobID string) (JobOutcome, error) {
	var out JobOutcome
	err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, &out)
	return out, err
}

// AwaitJob polls until the job leaves processing or ctx is done.
func (c *Client) AwaitJob(ctx context.Context, jobID string, interval time.Duration) (JobOutcome, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		outcome, err := c.Poll(ctx, jobID)
		if err != nil || outcome.Done() {
			return outcome, err
		}
		select {
		case <-ctx.Done():
			return outcome, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) DocumentLink(ctx context.Context, reportID string) (DocumentLink, error) {
	var out DocumentLink
	err := c.do(ctx, http.MethodGet, reportPath(reportID, "document"), nil, &out)
	return out, err
}

func (c *Client) VerifyDocument(ctx context.Context, documentID string) error {
	return c.do(ctx, http.MethodPost, "/v1/documents/"+url.PathEscape(documentID)+"/verify", nil, nil)
}

func reportPath(reportID, action string) string {
	path := "/v1/reports/" + url.PathEscape(reportID)
	if action != "" {
		path += "/" + action
	}
	return path
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c == nil {
		return fmt.Errorf("reports client is nil")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("grantdesk base URL is required")
	}
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Principal.Subject != "" {
		req.Header.Set("X-Principal-Subject", c.Principal.Subject)
	}
	if len(c.Principal.Roles) > 0 {
		req.Header.Set("X-Principal-Roles", strings.Join(c.Principal.Roles, ","))
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(raw, apiErr); jsonErr != nil || apiErr.Code == "" {
			apiErr.Code = "HTTP_ERROR"
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
