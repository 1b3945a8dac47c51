// Package llm is a minimal OpenRouter chat completions client.
//
// Only the non-streaming request/response cycle is implemented: submit
// messages, receive text and token usage.
package llm

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

// DefaultBaseURL is the OpenRouter API root
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// ErrNoAPIKey is returned when neither the request nor the client carry a key
var ErrNoAPIKey = errors.New("OpenRouter API key not configured")

// Message is one chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat completion request
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`

	// APIKey overrides the client's key for this call
	APIKey string `json:"-"`
}

// Usage reports token accounting
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	ReasoningTokens  int `json:"reasoning_tokens,omitempty"`
}

// Completion is the model's answer
type Completion struct {
	Model     string
	Text      string
	Reasoning string
	Usage     Usage
	Latency   time.Duration
}

// Display returns the answer with any reasoning prefixed
func (c Completion) Display() string {
	if c.Reasoning == "" {
		return c.Text
	}
	return "[REASONING]\n" + c.Reasoning + "\n\n[ANSWER]\n" + c.Text
}

// Config configures a Client
type Config struct {
	BaseURL string
	APIKey  string
	Referer string
	Title   string
	Timeout time.Duration
}

// Client talks to an OpenAI compatible chat completions endpoint
type Client struct {
	baseURL    string
	apiKey     string
	referer    string
	title      string
	httpClient *http.Client
}

// NewClient creates a Client. Zero config values fall back to defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Title == "" {
		cfg.Title = "Ultimate LLM Arena"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		referer:    cfg.Referer,
		title:      cfg.Title,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// BaseURL returns the API root the client posts to
func (c *Client) BaseURL() string {
	return c.baseURL
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			Reasoning        string `json:"reasoning"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		Usage
		CompletionTokensDetails *struct {
			ReasoningTokens int `json:"reasoning_tokens"`
		} `json:"completion_tokens_details"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Complete sends a chat completion request
func (c *Client) Complete(ctx context.Context, req Request) (*Completion, error) {
	key := req.APIKey
	if key == "" {
		key = c.apiKey
	}
	if key == "" {
		return nil, ErrNoAPIKey
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)
	if c.referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.referer)
	}
	httpReq.Header.Set("X-Title", c.title)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read response: %w", err)
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("llm: unexpected status %d: %s", resp.StatusCode, truncate(string(body), 500))
		}
		return nil, fmt.Errorf("llm: unmarshal response: %w", err)
	}

	if result.Error != nil {
		return nil, fmt.Errorf("llm: api error: %s", result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm: unexpected status %d: %s", resp.StatusCode, truncate(string(body), 500))
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("llm: response has no choices")
	}

	msg := result.Choices[0].Message
	reasoning := msg.ReasoningContent
	if reasoning == "" {
		reasoning = msg.Reasoning
	}

	usage := result.Usage.Usage
	if usage.ReasoningTokens == 0 && result.Usage.CompletionTokensDetails != nil {
		usage.ReasoningTokens = result.Usage.CompletionTokensDetails.ReasoningTokens
	}

	model := result.Model
	if model == "" {
		model = req.Model
	}

	return &Completion{
		Model:     model,
		Text:      msg.Content,
		Reasoning: reasoning,
		Usage:     usage,
		Latency:   time.Since(start),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
