// Package enrich calls the external language-model service to generate
// section metadata: a teaching plan and a short summary per section. The
// service is treated as slow, rate-limited, and transiently unavailable;
// the worker pool in this package bounds concurrency and throughput.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Generator produces enrichment artifacts for section content.
type Generator interface {
	TeachingPlan(ctx context.Context, content string) (string, error)
	Summarize(ctx context.Context, content string) (string, error)
}

// Client calls an OpenAI-compatible chat completions API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client

	Stats *Stats
}

func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		Stats: NewStats(time.Hour),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Messages  []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// TeachingPlan generates a structured teaching plan for section content.
func (c *Client) TeachingPlan(ctx context.Context, content string) (string, error) {
	return c.complete(ctx, PlanPrompt, content)
}

// Summarize generates a short summary of section content.
func (c *Client) Summarize(ctx context.Context, content string) (string, error) {
	return c.complete(ctx, SummaryPrompt, content)
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	reqBody := chatRequest{
		Model:     c.model,
		MaxTokens: 4096,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("enrichment api: %w", err)
	}
	defer resp.Body.Close()
	c.Stats.Record(time.Since(start).Milliseconds())

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", &TransientError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &PermanentError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	var apiResp chatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return "", &PermanentError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s: %s", apiResp.Error.Type, apiResp.Error.Message),
		}
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from enrichment service")
	}

	text := strings.TrimSpace(apiResp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty completion from enrichment service")
	}
	return text, nil
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
