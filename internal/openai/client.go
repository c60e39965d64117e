// Package openai calls the OpenAI speech-to-text and chat completion
// APIs: Whisper turns a downloaded audio file into a transcript, and a
// GPT model turns the transcript into structured task records.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/birchwoodlabs/voicetask/internal/retry"
	"github.com/birchwoodlabs/voicetask/internal/tasks"
)

const (
	defaultBaseURL         = "https://api.openai.com"
	defaultTranscribeModel = "whisper-1"
	defaultExtractModel    = "gpt-4.1-mini"
	defaultLanguage        = "ru"
	defaultMaxAttempts     = 3
	defaultTimeout         = 2 * time.Minute

	// OpenAI rate limits vary by tier; stay conservative.
	requestsPerSecond = 50.0 / 60.0
	requestBurst      = 5

	extractTemperature = 0.3
)

// extractionPrompt asks the model for a JSON array of task objects. The
// model answers in Russian because the source messages are Russian.
const extractionPrompt = `
Проанализируй следующий текст из голосового сообщения и извлеки все упомянутые задачи.
Для каждой задачи определи:
- Название задачи (краткое, до 100 символов)
- Описание задачи (подробное)
- Дедлайн (если упомянут, в формате YYYY-MM-DD, если нет - оставь null)
- Приоритет (1 - срочно, 2 - высокий, 3 - нормальный, 4 - низкий)
- Ответственный (имя человека, если упомянуто, иначе null)

Верни результат в формате JSON массива:
[
  {
    "name": "Название задачи",
    "description": "Подробное описание",
    "due_date": "2025-10-05" или null,
    "priority": 3,
    "assignee": "Имя" или null
  }
]

Текст голосового сообщения:
%s
`

// extractionSchema constrains the extraction response to an array of
// task objects.
const extractionSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"description": {"type": "string"},
			"due_date": {"type": ["string", "null"]},
			"priority": {"type": ["integer", "null"], "minimum": 1, "maximum": 4},
			"assignee": {"type": ["string", "null"]}
		},
		"required": ["name", "description", "due_date", "priority", "assignee"],
		"additionalProperties": false
	}
}`

// Options configures a Client. Zero fields fall back to defaults.
type Options struct {
	APIKey          string
	BaseURL         string
	TranscribeModel string
	Language        string
	ExtractModel    string
	MaxAttempts     int
}

// Client talks to the OpenAI API.
type Client struct {
	apiKey          string
	baseURL         string
	transcribeModel string
	language        string
	extractModel    string
	httpClient      *http.Client
	limiter         *rate.Limiter
	policy          retry.Policy
	logger          *zap.Logger
}

// NewClient creates an OpenAI client.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.TranscribeModel == "" {
		opts.TranscribeModel = defaultTranscribeModel
	}
	if opts.Language == "" {
		opts.Language = defaultLanguage
	}
	if opts.ExtractModel == "" {
		opts.ExtractModel = defaultExtractModel
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		apiKey:          opts.APIKey,
		baseURL:         opts.BaseURL,
		transcribeModel: opts.TranscribeModel,
		language:        opts.Language,
		extractModel:    opts.ExtractModel,
		httpClient:      &http.Client{Timeout: defaultTimeout},
		limiter:         rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		policy:          retry.GenericPolicy(opts.MaxAttempts),
		logger:          logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaSpec struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

type responseFormat struct {
	Type       string         `json:"type"`
	JSONSchema jsonSchemaSpec `json:"json_schema"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Temperature    float64         `json:"temperature"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Transcribe runs the audio file through the speech-to-text model and
// returns the transcript.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	form, contentType, err := c.buildTranscribeForm(audioPath)
	if err != nil {
		return "", err
	}

	var text string
	desc := "transcribe " + filepath.Base(audioPath)
	err = retry.Do(ctx, c.logger, c.policy, desc, func(ctx context.Context) error {
		body, err := c.post(ctx, "/v1/audio/transcriptions", contentType, form)
		if err != nil {
			return err
		}
		var parsed transcriptionResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
		}
		text = parsed.Text
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// ExtractTasks asks the chat model for the tasks mentioned in the
// transcription. The response must be a JSON array of task objects;
// anything else is an error without further retries.
func (c *Client) ExtractTasks(ctx context.Context, transcription string) ([]*tasks.Record, error) {
	req := chatRequest{
		Model:       c.extractModel,
		Temperature: extractTemperature,
		Messages: []chatMessage{
			{Role: "user", Content: fmt.Sprintf(extractionPrompt, transcription)},
		},
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaSpec{
				Name:   "extracted_tasks",
				Schema: json.RawMessage(extractionSchema),
			},
		},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var content string
	err = retry.Do(ctx, c.logger, c.policy, "extract tasks", func(ctx context.Context) error {
		body, err := c.post(ctx, "/v1/chat/completions", "application/json", payload)
		if err != nil {
			return err
		}
		var parsed chatResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
		}
		if len(parsed.Choices) == 0 {
			return retry.Permanent(fmt.Errorf("empty response from API"))
		}
		content = parsed.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return nil, err
	}

	return parseTaskList(content)
}

// parseTaskList decodes the model output into task records.
func parseTaskList(content string) ([]*tasks.Record, error) {
	// Clean up the response - sometimes LLMs wrap JSON in markdown code blocks
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	if content == "" {
		return nil, fmt.Errorf("empty task list in model response")
	}

	var records []*tasks.Record
	if err := json.Unmarshal([]byte(content), &records); err != nil {
		return nil, fmt.Errorf("model response is not a task array: %w", err)
	}
	return records, nil
}

// buildTranscribeForm assembles the multipart upload once so retried
// attempts can resend the same bytes.
func (c *Client) buildTranscribeForm(audioPath string) ([]byte, string, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read audio file: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := w.WriteField("model", c.transcribeModel); err != nil {
		return nil, "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if c.language != "" {
		if err := w.WriteField("language", c.language); err != nil {
			return nil, "", fmt.Errorf("failed to build upload form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to build upload form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// post sends one API request and returns the raw response body. Errors
// are tagged for the retry combinator: 429 carries the server's pacing
// hint, 5xx stays transient, other failures are permanent.
func (c *Client) post(ctx context.Context, path, contentType string, payload []byte) ([]byte, error) {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, retry.Permanent(fmt.Errorf("rate limiter error: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// Handle rate limiting
	if resp.StatusCode == http.StatusTooManyRequests {
		hint, ok := retry.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		if !ok {
			hint = retry.DefaultRetryAfter
		}
		return nil, &retry.RateLimitError{
			Err:  fmt.Errorf("rate limited (429)"),
			Hint: hint,
		}
	}
	if retry.RetryableStatus(resp.StatusCode) {
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp apiError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, retry.Permanent(fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message))
		}
		return nil, retry.Permanent(fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body)))
	}

	return body, nil
}
