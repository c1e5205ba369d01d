package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

// OpenRouterProvider speaks the OpenAI chat completions API, which OpenRouter
// exposes unchanged.
type OpenRouterProvider struct {
	client     *openai.Client
	model      string
	maxRetries int
	retryDelay time.Duration
}

type OpenRouterConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	SiteURL    string
	AppName    string
	MaxRetries int
	HTTPClient *http.Client
}

func NewOpenRouterProvider(cfg OpenRouterConfig) (*OpenRouterProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openrouter: api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("openrouter: model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenRouterURL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 90 * time.Second}
	}

	conf := openai.DefaultConfig(cfg.APIKey)
	conf.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	conf.HTTPClient = &attributionDoer{next: hc, siteURL: cfg.SiteURL, appName: cfg.AppName}

	return &OpenRouterProvider{
		client:     openai.NewClientWithConfig(conf),
		model:      model,
		maxRetries: cfg.MaxRetries,
		retryDelay: 500 * time.Millisecond,
	}, nil
}

func (p *OpenRouterProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	var lastErr error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", errors.New("openrouter: empty response")
			}
			return resp.Choices[0].Message.Content, nil
		}
		lastErr = err
		if !retryable(err) || attempt == p.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.retryDelay * time.Duration(attempt)):
		}
	}
	return "", fmt.Errorf("openrouter: %w", lastErr)
}

// retryable reports whether a failed completion is worth another attempt:
// transport errors, throttling and upstream failures.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}

// attributionDoer adds OpenRouter's optional ranking headers.
type attributionDoer struct {
	next    *http.Client
	siteURL string
	appName string
}

func (d *attributionDoer) Do(req *http.Request) (*http.Response, error) {
	if d.siteURL != "" {
		req.Header.Set("HTTP-Referer", d.siteURL)
	}
	if d.appName != "" {
		req.Header.Set("X-Title", d.appName)
	}
	return d.next.Do(req)
}
