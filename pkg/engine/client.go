// Package engine is the outbound client for the external task engine. The
// engine executes subtasks and reports back asynchronously through the
// reporting callback; this client only fires the webhook-style trigger
// calls that start them.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// TriggerRequest is the outbound subtask trigger payload.
type TriggerRequest struct {
	JobID      string            `json:"jobId"`
	SubtaskIDs []string          `json:"subtaskIds"`
	Timestamp  time.Time         `json:"timestamp"`
	Type       string            `json:"type"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// triggerType identifies the trigger message on the wire.
const triggerType = "subtask_trigger"

// Client sends subtask trigger calls to the engine webhook.
type Client struct {
	http   *resty.Client
	retry  RetryConfig
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// WithRetryConfig sets the retry policy for trigger calls.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a client posting triggers to webhookURL.
func NewClient(webhookURL string, opts ...Option) *Client {
	c := &Client{
		http:   resty.New().SetBaseURL(webhookURL).SetTimeout(30 * time.Second),
		retry:  DefaultRetryConfig(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trigger fires one trigger call for the given subtasks. Non-2xx responses
// are errors; transient failures are retried with backoff.
func (c *Client) Trigger(ctx context.Context, jobID string, subtaskIDs []string, metadata map[string]string) error {
	req := TriggerRequest{
		JobID:      jobID,
		SubtaskIDs: subtaskIDs,
		Timestamp:  c.now(),
		Type:       triggerType,
		Metadata:   metadata,
	}

	err := retryWithBackoff(ctx, c.retry, func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(req).
			Post("")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("engine returned %s", resp.Status())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("fanin: trigger call for job %s subtasks %v: %w", jobID, subtaskIDs, err)
	}

	c.logger.Debug("subtask trigger sent", "job_id", jobID, "subtask_ids", subtaskIDs)
	return nil
}
