// Package clickup is a minimal ClickUp REST API v2 client covering the
// three calls the pipeline needs: task creation, reminder creation, and
// list member lookup. All requests share one rate limiter so task
// creation stays paced even when retries interleave.
package clickup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/birchwoodlabs/voicetask/internal/retry"
)

const (
	defaultBaseURL = "https://api.clickup.com"
	defaultTimeout = 60 * time.Second

	// requestInterval paces outgoing calls so bursts of task creations
	// do not trip the API's rate limit in the first place.
	requestInterval = 300 * time.Millisecond
)

// ErrMissingTaskID means the create call succeeded but the response
// carried no task ID, so the task cannot be confirmed.
var ErrMissingTaskID = errors.New("task created without ID in response")

// Client talks to the ClickUp REST API.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	policy     retry.Policy
	logger     *zap.Logger
}

// NewClient creates a ClickUp client. An empty baseURL selects the public
// API endpoint.
func NewClient(token, baseURL string, maxAttempts int, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		token:      token,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Every(requestInterval), 1),
		policy:     retry.HTTPPolicy(maxAttempts),
		logger:     logger,
	}
}

// CreateTask creates a task in the given list and returns its ID.
func (c *Client) CreateTask(ctx context.Context, listID string, payload *TaskPayload) (string, error) {
	var resp taskResponse
	path := fmt.Sprintf("/api/v2/list/%s/task", listID)
	if err := c.doRequest(ctx, http.MethodPost, path, payload, &resp); err != nil {
		return "", err
	}

	id := resp.ID
	if id == "" {
		id = resp.Task.ID
	}
	if id == "" {
		return "", ErrMissingTaskID
	}
	return id, nil
}

// CreateReminder creates a reminder for a task. assigneeID zero means no
// assignee on the reminder.
func (c *Client) CreateReminder(ctx context.Context, teamID, taskID string, remindAt int64, assigneeID int64) error {
	payload := reminderPayload{
		TaskID:   taskID,
		RemindAt: remindAt,
		Assignee: assigneeID,
	}
	path := fmt.Sprintf("/api/v2/team/%s/reminder", teamID)
	return c.doRequest(ctx, http.MethodPost, path, payload, nil)
}

// ListMembers fetches the member roster of a list.
func (c *Client) ListMembers(ctx context.Context, listID string) ([]Member, error) {
	var resp listResponse
	path := fmt.Sprintf("/api/v2/list/%s", listID)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Members, nil
}

// doRequest sends one API request with rate limiting and retries, decoding
// the response into out when it is non-nil.
func (c *Client) doRequest(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	return retry.Do(ctx, c.logger, c.policy, method+" "+path, func(ctx context.Context) error {
		// Wait for rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var reader io.Reader
		if reqBody != nil {
			reader = bytes.NewReader(reqBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", c.token)
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("API request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			hint, ok := retry.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
			if !ok {
				hint = retry.DefaultRetryAfter
			}
			return &retry.RateLimitError{
				Err:  fmt.Errorf("rate limited (429): %s", string(respBody)),
				Hint: hint,
			}
		}
		if retry.RetryableStatus(resp.StatusCode) {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return retry.Permanent(fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody)))
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
			}
		}
		return nil
	})
}
