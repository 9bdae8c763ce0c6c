package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Completion is the result of one completion call.
type Completion struct {
	Content      string
	FinishReason FinishReason
	TotalTokens  int
}

// CompletionClient is the single operation this core needs from the
// completion API. Cancellation travels through ctx and is the only abort
// mechanism; the request either resolves or the ctx is done.
type CompletionClient interface {
	Complete(ctx context.Context, model string, messages []Message) (Completion, error)
}

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	APIKey    string
	BaseURL   string
	MaxTokens int
	HTTP      *http.Client
}

type completionRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	Messages  []Message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func NewHTTPClient(apiKey, baseURL string, maxTokens int) *HTTPClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &HTTPClient{
		APIKey:    apiKey,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		MaxTokens: maxTokens,
		HTTP:      &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *HTTPClient) Complete(ctx context.Context, model string, messages []Message) (Completion, error) {
	if c.APIKey == "" {
		return Completion{}, errors.New("api key is required")
	}
	payload, err := json.Marshal(completionRequest{
		Model:     model,
		MaxTokens: c.MaxTokens,
		Messages:  messages,
	})
	if err != nil {
		return Completion{}, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Completion{}, err
	}
	request.Header.Set("Authorization", "Bearer "+c.APIKey)
	request.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(request)
	if err != nil {
		return Completion{}, fmt.Errorf("api request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed completionResponse
	if resp.StatusCode >= 300 {
		if json.Unmarshal(bodyBytes, &parsed) == nil && parsed.Error != nil {
			return Completion{}, fmt.Errorf("api error: status %d, message: %s", resp.StatusCode, parsed.Error.Message)
		}
		return Completion{}, fmt.Errorf("api error: status %d, response: %s", resp.StatusCode, string(bodyBytes))
	}
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return Completion{}, fmt.Errorf("invalid api response: %w", err)
	}
	if parsed.Error != nil {
		return Completion{}, fmt.Errorf("api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, fmt.Errorf("invalid api response format: %s", string(bodyBytes))
	}

	return Completion{
		Content:      parsed.Choices[0].Message.Content,
		FinishReason: parseFinishReason(parsed.Choices[0].FinishReason),
		TotalTokens:  parsed.Usage.TotalTokens,
	}, nil
}

// parseFinishReason maps the wire value onto our taxonomy. An absent or
// unknown reason counts as a normal stop; the pending sentinel must never
// come from a completed response.
func parseFinishReason(raw string) FinishReason {
	switch FinishReason(raw) {
	case FinishStop, FinishLength, FinishContentFilter:
		return FinishReason(raw)
	default:
		return FinishStop
	}
}

// MockClient echoes the last user turn after an optional delay. Used when
// no API key is configured, and in tests via the Respond hook.
type MockClient struct {
	Delay   time.Duration
	Respond func(ctx context.Context, model string, messages []Message) (Completion, error)
}

func (c *MockClient) Complete(ctx context.Context, model string, messages []Message) (Completion, error) {
	if c.Respond != nil {
		return c.Respond(ctx, model, messages)
	}
	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return Completion{}, ctx.Err()
		}
	}
	last := ""
	for _, m := range messages {
		if m.Role == RoleUser {
			last = m.Content
		}
	}
	content := fmt.Sprintf("(mock) you said: %s", last)
	tokens := 0
	for _, m := range messages {
		tokens += len(m.Content) / 4
	}
	tokens += len(content) / 4
	return Completion{Content: content, FinishReason: FinishStop, TotalTokens: tokens}, nil
}
