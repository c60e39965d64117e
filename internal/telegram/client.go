// Package telegram is a minimal Bot API client covering what the pipeline
// needs: polling a chat for new voice and audio messages, downloading
// their payloads, and sending the run summary.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/birchwoodlabs/voicetask/internal/retry"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	defaultTimeout = 60 * time.Second

	// pageLimit is the getUpdates batch size.
	pageLimit = 100
)

// Client talks to the Telegram Bot API.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	logger     *zap.Logger
}

// NewClient creates a Telegram client. An empty baseURL selects the public
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
		policy:     retry.HTTPPolicy(maxAttempts),
		logger:     logger,
	}
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

// RecentVoiceMessages polls getUpdates for voice and audio messages in the
// given chat. With a cursor, polling resumes right after it; without one,
// only messages younger than window are taken. It returns the discovered
// messages and the highest update ID seen, which may exceed the cursor
// even when no audio was found.
func (c *Client) RecentVoiceMessages(ctx context.Context, chatID string, window time.Duration, cursor int64) ([]VoiceMessage, int64, error) {
	chat, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, cursor, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}

	var cutoff time.Time
	applyCutoff := cursor == 0 && window > 0
	if applyCutoff {
		cutoff = time.Now().Add(-window)
	}

	var messages []VoiceMessage
	maxSeen := cursor
	offset := int64(0)
	if cursor > 0 {
		offset = cursor + 1
	}

	for {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(pageLimit))
		if offset > 0 {
			params.Set("offset", strconv.FormatInt(offset, 10))
		}

		raw, err := c.call(ctx, "getUpdates", params, nil)
		if err != nil {
			return nil, maxSeen, err
		}

		var updates []Update
		if err := json.Unmarshal(raw, &updates); err != nil {
			return nil, maxSeen, fmt.Errorf("failed to parse updates: %w", err)
		}

		for i := range updates {
			u := &updates[i]
			if u.UpdateID > maxSeen {
				maxSeen = u.UpdateID
			}

			m := u.payload()
			if m == nil || m.Chat.ID != chat {
				continue
			}

			msgTime := time.Unix(m.Date, 0)
			if applyCutoff && !msgTime.After(cutoff) {
				continue
			}

			audio := m.Voice
			kind := KindVoice
			if audio == nil {
				audio = m.Audio
				kind = KindAudio
			}
			if audio == nil {
				continue
			}

			messages = append(messages, VoiceMessage{
				UpdateID:    u.UpdateID,
				FileID:      audio.FileID,
				Duration:    audio.Duration,
				Date:        msgTime,
				FromUser:    senderName(m),
				Kind:        kind,
				MimeType:    audio.MimeType,
				IsForwarded: m.ForwardFrom != nil || m.ForwardOrigin != nil,
			})
		}

		if len(updates) < pageLimit || maxSeen == 0 {
			break
		}
		offset = maxSeen + 1
	}

	return messages, maxSeen, nil
}

// Download fetches the file behind fileID into dest. Retried attempts
// restart the file from scratch.
func (c *Client) Download(ctx context.Context, fileID, dest string) error {
	params := url.Values{}
	params.Set("file_id", fileID)
	raw, err := c.call(ctx, "getFile", params, nil)
	if err != nil {
		return fmt.Errorf("failed to get file metadata: %w", err)
	}

	var meta struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return fmt.Errorf("failed to parse file metadata: %w", err)
	}
	if meta.FilePath == "" {
		return fmt.Errorf("file metadata carries no path")
	}

	downloadURL := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, meta.FilePath)
	return retry.Do(ctx, c.logger, c.policy, "download "+fileID, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("API request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if retry.RetryableStatus(resp.StatusCode) {
				return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
			}
			return retry.Permanent(fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body)))
		}

		out, err := os.Create(dest)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create file: %w", err))
		}
		if _, err := io.Copy(out, resp.Body); err != nil {
			out.Close()
			return fmt.Errorf("failed to save file: %w", err)
		}
		return out.Close()
	})
}

// SendMessage posts a plain text message to the chat.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	body := map[string]string{
		"chat_id": chatID,
		"text":    text,
	}
	_, err := c.call(ctx, "sendMessage", nil, body)
	return err
}

// call performs one Bot API method with retries and unwraps the response
// envelope.
func (c *Client) call(ctx context.Context, method string, params url.Values, body interface{}) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reqBody []byte
	httpMethod := http.MethodGet
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		httpMethod = http.MethodPost
	}

	var result json.RawMessage
	err := retry.Do(ctx, c.logger, c.policy, method, func(ctx context.Context) error {
		var reader io.Reader
		if reqBody != nil {
			reader = bytes.NewReader(reqBody)
		}
		req, err := http.NewRequestWithContext(ctx, httpMethod, endpoint, reader)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
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

		var envelope apiResponse
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
		}
		if !envelope.OK {
			return retry.Permanent(fmt.Errorf("telegram API error: %s", envelope.Description))
		}

		result = envelope.Result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
