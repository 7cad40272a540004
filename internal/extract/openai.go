package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/i-yeun/vc-assistant/internal/limiter"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4-turbo"

	openAIBackend       = "openai"
	defaultLLMTimeout   = 2 * time.Minute
	defaultRetryDelay   = 500 * time.Millisecond
	maxRetryDelay       = 8 * time.Second
	maxResponseBytes    = 4 << 20
	errorBodySnippetLen = 512
)

// OpenAIConfig configures the chat-completions backend.
// Zero values select the public endpoint, gpt-4-turbo and no retries.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	HTTPClient *http.Client
	Clock      limiter.Timer
	Logger     *zap.Logger
}

// OpenAI talks to an OpenAI-compatible /chat/completions endpoint.
type OpenAI struct {
	endpoint   string
	apiKey     string
	model      string
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	client     *http.Client
	clock      limiter.Timer
	logger     *zap.Logger
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// NewOpenAI builds the backend. It fails only when no API key is configured.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = limiter.NewClock()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OpenAI{
		endpoint:   baseURL + "/chat/completions",
		apiKey:     cfg.APIKey,
		model:      model,
		timeout:    timeout,
		retries:    max(cfg.Retries, 0),
		retryDelay: retryDelay,
		client:     client,
		clock:      clock,
		logger:     logger.With(zap.String("backend", openAIBackend), zap.String("model", model)),
	}, nil
}

// Complete posts the conversation and returns the first choice's content.
// Transient failures (network errors, 429, 5xx) are retried with backoff.
func (c *OpenAI) Complete(ctx context.Context, messages []Message) (string, error) {
	payload, err := json.Marshal(chatRequest{Model: c.model, Messages: messages})
	if err != nil {
		return "", &Error{Backend: openAIBackend, Err: fmt.Errorf("encode request: %w", err)}
	}

	attempts := c.retries + 1
	for attempt := range attempts {
		content, err := c.completeOnce(ctx, payload)
		if err == nil {
			return content, nil
		}

		if ctx.Err() != nil || !isRetryable(err) || attempt == attempts-1 {
			return "", err
		}

		delay := c.retryDelayFor(attempt + 1)
		c.logger.Warn("completion failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if sleepErr := c.clock.Sleep(ctx, delay); sleepErr != nil {
			return "", &Error{Backend: openAIBackend, Err: sleepErr}
		}
	}

	return "", &Error{Backend: openAIBackend, Err: errors.New("no attempts made")}
}

func (c *OpenAI) completeOnce(ctx context.Context, payload []byte) (string, error) {
	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(requestCtx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Backend: openAIBackend, Err: fmt.Errorf("build request: %w", err)}
	}

	request.Header.Set("Authorization", "Bearer "+c.apiKey)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := c.client.Do(request)
	if err != nil {
		return "", &Error{Backend: openAIBackend, Err: err}
	}
	defer func() {
		_ = response.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return "", &Error{Backend: openAIBackend, StatusCode: response.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return "", &Error{
			Backend:    openAIBackend,
			StatusCode: response.StatusCode,
			Body:       snippet(body),
			Err:        fmt.Errorf("unexpected status %d", response.StatusCode),
		}
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", &Error{Backend: openAIBackend, Err: fmt.Errorf("decode response: %w", err)}
	}

	if len(decoded.Choices) == 0 {
		return "", &Error{Backend: openAIBackend, Err: errNoChoices}
	}

	return decoded.Choices[0].Message.Content, nil
}

func isRetryable(err error) bool {
	var extractErr *Error
	if !errors.As(err, &extractErr) {
		return false
	}

	switch {
	case extractErr.StatusCode == http.StatusTooManyRequests:
		return true
	case extractErr.StatusCode >= http.StatusInternalServerError:
		return true
	case extractErr.StatusCode != 0:
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error

	return errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

func (c *OpenAI) retryDelayFor(attempt int) time.Duration {
	delay := c.retryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}

	return min(delay, maxRetryDelay)
}

func snippet(body []byte) string {
	if len(body) > errorBodySnippetLen {
		body = body[:errorBodySnippetLen]
	}

	return strings.TrimSpace(string(body))
}
