package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/vadiminshakov/sipbot/pkg/retrier"
	"go.uber.org/zap"
)

const (
	defaultLLMTimeout   = 60 * time.Second
	defaultLLMMaxTokens = 1024
)

// LLMConfig configures an OpenAI-compatible chat completion endpoint.
type LLMConfig struct {
	// APIURL is the full chat completions URL.
	APIURL    string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// OpenAICompatibleClient sends chat completions over plain HTTP.
type OpenAICompatibleClient struct {
	cfg     LLMConfig
	http    *resty.Client
	retrier *retrier.Retrier
	logger  *zap.Logger
}

// NewOpenAICompatibleClient creates a new client for OpenAI-compatible APIs.
func NewOpenAICompatibleClient(cfg LLMConfig, logger *zap.Logger) *OpenAICompatibleClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultLLMTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultLLMMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	return &OpenAICompatibleClient{
		cfg:    cfg,
		http:   client,
		logger: logger,
		retrier: retrier.New(
			retrier.WithMaxRetries(2),
			retrier.WithInitialInterval(2*time.Second),
			retrier.WithOnRetry(func(attempt int, err error) {
				logger.Warn("retrying LLM request", zap.Int("attempt", attempt), zap.Error(err))
			}),
		),
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Complete sends one system and one user message and returns the assistant reply.
func (c *OpenAICompatibleClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", errors.New("LLM API key is empty")
	}

	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.0,
		MaxTokens:   c.cfg.MaxTokens,
	}

	return retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) (string, error) {
		return c.send(ctx, reqBody)
	})
}

func (c *OpenAICompatibleClient) send(ctx context.Context, reqBody chatRequest) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.cfg.APIKey).
		SetBody(reqBody).
		Post(c.cfg.APIURL)
	if err != nil {
		return "", errors.Wrap(err, "HTTP request failed")
	}

	body := resp.Body()

	if apiErr := gjson.GetBytes(body, "error.message"); apiErr.Exists() {
		err := fmt.Errorf("LLM API error: %s (type: %s, code: %s)",
			apiErr.String(),
			gjson.GetBytes(body, "error.type").String(),
			gjson.GetBytes(body, "error.code").String())
		return "", classify(resp.StatusCode(), err)
	}

	if resp.StatusCode() != http.StatusOK {
		return "", classify(resp.StatusCode(), fmt.Errorf("LLM API returned status %d: %s", resp.StatusCode(), string(body)))
	}

	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() {
		return "", retrier.Permanent(errors.New("LLM API returned no choices"))
	}

	return content.String(), nil
}

// classify stops retrying on client errors other than rate limiting.
func classify(status int, err error) error {
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return retrier.Permanent(err)
	}
	return err
}
