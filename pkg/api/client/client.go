package client

import (
	"bufio"
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

const maxErrorBodySize = 4096

// Sentinel errors matched by APIError through errors.Is.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrRateLimited  = errors.New("rate limited")
)

// Client provides typed access to the deployment API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithTimeout sets the request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:8000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status     int
	Message    string
	RetryAfter int
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// Is maps status codes onto the package sentinels.
func (e APIError) Is(target error) bool {
	switch e.Status {
	case http.StatusUnauthorized:
		return target == ErrUnauthorized
	case http.StatusForbidden:
		return target == ErrForbidden
	case http.StatusNotFound:
		return target == ErrNotFound
	case http.StatusConflict:
		return target == ErrConflict
	case http.StatusTooManyRequests:
		return target == ErrRateLimited
	default:
		return false
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any, token string) (*http.Request, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	req, err := c.newRequest(ctx, method, path, body, token)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return extractError(resp)
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(resp *http.Response) error {
	apiErr := APIError{Status: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retry_after"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(payload.Error)
	apiErr.RetryAfter = payload.RetryAfter
	return apiErr
}

func pageQuery(skip, limit int) string {
	values := url.Values{}
	if skip > 0 {
		values.Set("skip", fmt.Sprint(skip))
	}
	if limit > 0 {
		values.Set("limit", fmt.Sprint(limit))
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}

// User reflects API user payloads.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenPair includes access and refresh tokens.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, email, password string) (User, error) {
	var user User
	if err := c.do(ctx, http.MethodPost, "/auth/register", credentials{email, password}, "", &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (TokenPair, error) {
	var pair TokenPair
	if err := c.do(ctx, http.MethodPost, "/auth/login", credentials{email, password}, "", &pair); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Refresh rotates a refresh token into a new pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var pair TokenPair
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", body, "", &pair); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Logout revokes the refresh token.
func (c *Client) Logout(ctx context.Context, token, refreshToken string) error {
	body := map[string]string{"refresh_token": refreshToken}
	return c.do(ctx, http.MethodPost, "/auth/logout", body, token, nil)
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context, token string) (User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, token, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Project describes a deployable unit.
type Project struct {
	ID          int64        `json:"id"`
	UserID      int64        `json:"user_id"`
	Name        string       `json:"name"`
	GithubURL   string       `json:"github_url"`
	Status      string       `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	Deployments []Deployment `json:"deployments,omitempty"`
}

// ProjectInput captures the payload for project creation and update.
type ProjectInput struct {
	Name      string `json:"name,omitempty"`
	GithubURL string `json:"github_url,omitempty"`
	Status    string `json:"status,omitempty"`
}

// ListProjects returns the caller's projects.
func (c *Client) ListProjects(ctx context.Context, token string, skip, limit int) ([]Project, error) {
	var projects []Project
	if err := c.do(ctx, http.MethodGet, "/projects"+pageQuery(skip, limit), nil, token, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// GetProject fetches a project with its deployments.
func (c *Client) GetProject(ctx context.Context, token string, projectID int64) (Project, error) {
	var project Project
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/projects/%d", projectID), nil, token, &project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// CreateProject provisions a new project.
func (c *Client) CreateProject(ctx context.Context, token string, input ProjectInput) (Project, error) {
	var project Project
	if err := c.do(ctx, http.MethodPost, "/projects", input, token, &project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// UpdateProject changes name, repository or status.
func (c *Client) UpdateProject(ctx context.Context, token string, projectID int64, input ProjectInput) (Project, error) {
	var project Project
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/projects/%d", projectID), input, token, &project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// DeleteProject removes a project and its deployments.
func (c *Client) DeleteProject(ctx context.Context, token string, projectID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/projects/%d", projectID), nil, token, nil)
}

// Deployment represents API deployment payloads.
type Deployment struct {
	ID          int64      `json:"id"`
	ProjectID   int64      `json:"project_id"`
	Status      string     `json:"status"`
	Logs        string     `json:"logs"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// Terminal reports whether the deployment has finished.
func (d Deployment) Terminal() bool {
	switch d.Status {
	case "success", "failed", "cancelled":
		return true
	default:
		return false
	}
}

// TriggerDeployment requests a new deployment for the project.
func (c *Client) TriggerDeployment(ctx context.Context, token string, projectID int64) (Deployment, error) {
	var deployment Deployment
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/projects/%d/deploy", projectID), nil, token, &deployment); err != nil {
		return Deployment{}, err
	}
	return deployment, nil
}

// ListDeployments fetches deployments for a project, newest first.
func (c *Client) ListDeployments(ctx context.Context, token string, projectID int64, skip, limit int) ([]Deployment, error) {
	path := fmt.Sprintf("/projects/%d/deployments%s", projectID, pageQuery(skip, limit))
	var deployments []Deployment
	if err := c.do(ctx, http.MethodGet, path, nil, token, &deployments); err != nil {
		return nil, err
	}
	return deployments, nil
}

// GetDeployment fetches one deployment.
func (c *Client) GetDeployment(ctx context.Context, token string, deploymentID int64) (Deployment, error) {
	var deployment Deployment
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/deployments/%d", deploymentID), nil, token, &deployment); err != nil {
		return Deployment{}, err
	}
	return deployment, nil
}

// FetchLogs returns the accumulated deployment log.
func (c *Client) FetchLogs(ctx context.Context, token string, deploymentID int64) (string, error) {
	var payload struct {
		Logs string `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/deployments/%d/logs", deploymentID), nil, token, &payload); err != nil {
		return "", err
	}
	return payload.Logs, nil
}

// CancelDeployment stops an in-flight deployment.
func (c *Client) CancelDeployment(ctx context.Context, token string, deploymentID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/deployments/%d/cancel", deploymentID), nil, token, nil)
}

// UserStats returns the caller's analytics as raw JSON.
func (c *Client) UserStats(ctx context.Context, token, startDate, endDate string) (json.RawMessage, error) {
	values := url.Values{}
	if startDate != "" {
		values.Set("start_date", startDate)
	}
	if endDate != "" {
		values.Set("end_date", endDate)
	}
	path := "/analytics/user/stats"
	if len(values) > 0 {
		path += "?" + values.Encode()
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, token, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// StreamEvent is one server-sent event from a deployment stream.
type StreamEvent struct {
	Event string
	Data  string
}

// StreamLogs follows a deployment's server-sent event stream and calls fn for
// every event until the stream ends, ctx is done or fn returns false.
func (c *Client) StreamLogs(ctx context.Context, token string, deploymentID int64, fn func(StreamEvent) bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/deployments/%d/stream", deploymentID), nil, token)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	streaming := *c.httpClient
	streaming.Timeout = 0
	resp, err := streaming.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return extractError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var current StreamEvent
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) == 0 && current.Event == "" {
				continue
			}
			current.Data = strings.Join(data, "\n")
			if !fn(current) {
				return nil
			}
			current = StreamEvent{}
			data = data[:0]
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			current.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}
