// Package remote is the client for the remote task-tracking service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/taskbridge/taskbridge/pkg/api"
)

// Project is a project record as the remote service reports it.
type Project struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Task is a task record as the remote service reports it.
type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status,omitempty"`
	Priority    int        `json:"priority,omitempty"`
	Assignees   []string   `json:"assignees,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// RetryConfig controls the client's retry behavior. MaxAttempts includes
// the first call.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the standard policy: three attempts with
// exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (c *RetryConfig) applyDefaults() {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
}

// Config configures the remote client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// PageSize controls pagination; the remote caps it server-side.
	PageSize int
	// RateLimit is requests per second; zero disables client-side
	// limiting.
	RateLimit float64
	Retry     RetryConfig
}

// Client talks to the remote tracker. It is safe for concurrent use.
type Client struct {
	baseURL  *url.URL
	token    string
	http     *http.Client
	limiter  *rate.Limiter
	retry    RetryConfig
	pageSize int
	logger   *zap.Logger
}

// NewClient validates the configuration and builds a client. Missing
// credentials are a ConfigurationError: the caller must fail fast rather
// than discover them mid-sync.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, api.NewConfigurationError("remote base URL is required")
	}
	if cfg.Token == "" {
		return nil, api.NewConfigurationError("remote API token is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, api.NewConfigurationError("invalid remote base URL %q: %v", cfg.BaseURL, err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	cfg.Retry.applyDefaults()

	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Client{
		baseURL:  base,
		token:    cfg.Token,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  limiter,
		retry:    cfg.Retry,
		pageSize: cfg.PageSize,
		logger:   logger,
	}, nil
}

// ListProjects pulls all projects, following pagination.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var all []Project
	for page := 1; ; page++ {
		var batch []Project
		path := fmt.Sprintf("/api/projects?page=%d&per_page=%d", page, c.pageSize)
		if err := c.do(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < c.pageSize {
			return all, nil
		}
	}
}

// GetProject fetches one project's detail.
func (c *Client) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	if err := c.do(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListTasks pulls all tasks for a project, following pagination.
func (c *Client) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	var all []Task
	for page := 1; ; page++ {
		var batch []Task
		path := "/api/projects/" + url.PathEscape(projectID) +
			"/tasks?page=" + strconv.Itoa(page) + "&per_page=" + strconv.Itoa(c.pageSize)
		if err := c.do(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < c.pageSize {
			return all, nil
		}
	}
}

// CreateTask creates a task remotely and returns the created record.
func (c *Client) CreateTask(ctx context.Context, t Task) (*Task, error) {
	var created Task
	path := "/api/projects/" + url.PathEscape(t.ProjectID) + "/tasks"
	if err := c.do(ctx, http.MethodPost, path, t, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateTask updates a task remotely and returns the updated record.
func (c *Client) UpdateTask(ctx context.Context, t Task) (*Task, error) {
	var updated Task
	path := "/api/projects/" + url.PathEscape(t.ProjectID) + "/tasks/" + url.PathEscape(t.ID)
	if err := c.do(ctx, http.MethodPut, path, t, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Ping performs a cheap authenticated call, for health checks.
func (c *Client) Ping(ctx context.Context) error {
	var batch []Project
	return c.do(ctx, http.MethodGet, "/api/projects?page=1&per_page=1", nil, &batch)
}

// do executes one API call with rate limiting and retries. Responses
// with retryable statuses (429, 5xx) are re-attempted with exponential
// backoff up to the retry budget; other non-2xx statuses fail
// immediately with a RemoteServiceError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}

	backoff := c.retry.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := c.once(ctx, method, path, payload, out)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("remote call recovered after retries",
					zap.String("path", path),
					zap.Int("attempts", attempt),
				)
			}
			return nil
		}

		lastErr = err
		if !retryable(err) || attempt == c.retry.MaxAttempts {
			return lastErr
		}

		c.logger.Warn("remote call failed, retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.retry.MaxAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		next := time.Duration(float64(backoff) * c.retry.BackoffMultiplier)
		if next > c.retry.MaxBackoff {
			next = c.retry.MaxBackoff
		}
		backoff = next
	}

	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	u, err := c.baseURL.Parse(path)
	if err != nil {
		return fmt.Errorf("building request URL: %w", err)
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &api.RemoteServiceError{
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(msg)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}

// retryable reports whether an error is worth another attempt: typed
// remote errors consult their status code, cancellations stop the loop,
// and everything else (transport level failures) is assumed transient.
func retryable(err error) bool {
	var rse *api.RemoteServiceError
	if errors.As(err, &rse) {
		return rse.Retryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
