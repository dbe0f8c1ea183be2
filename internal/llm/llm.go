// Package llm is a minimal client for OpenAI-compatible chat APIs.
// Every call site supplies an ordered model list; the client walks it
// until one answers, which rides out per-model 503s on shared gateways.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client talks to one chat endpoint.
type Client struct {
	http *resty.Client
}

// NewClient builds a client for baseURL (the /v1 root) authorized with
// apiKey. timeout bounds each individual request.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	// some gateways answer with text/plain; force JSON decoding anyway
	http := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &Client{http: http}
}

// Chat sends one completion request to a single model.
func (c *Client) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	var out chatResponse
	resp, err := c.http.R().
		ForceContentType("application/json").
		SetContext(ctx).
		SetBody(chatRequest{Model: model, Messages: messages, Stream: false}).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("llm: %s: %w", model, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("llm: %s: status %d: %s", model, resp.StatusCode(), resp.String())
	}
	if out.Error != nil {
		return "", fmt.Errorf("llm: %s: %s", model, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("llm: %s: empty choices", model)
	}
	return out.Choices[0].Message.Content, nil
}

// ChatFallback tries models in order and returns the first success
// along with the model that produced it.
func (c *Client) ChatFallback(ctx context.Context, models []string, messages []Message) (string, string, error) {
	if len(models) == 0 {
		return "", "", fmt.Errorf("llm: no models configured")
	}
	var lastErr error
	for _, model := range models {
		content, err := c.Chat(ctx, model, messages)
		if err == nil {
			return content, model, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", "", fmt.Errorf("llm: all models failed: %w", lastErr)
}
