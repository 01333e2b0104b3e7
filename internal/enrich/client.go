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

	"horse.fit/weave/internal/jobs"
)

// CompletionClient calls a chat-completions style endpoint and returns the
// model's JSON answer. Transport failures surface as classifiable errors;
// the caller decides about retries.
type CompletionClient struct {
	endpoint string
	model    string
	apiKey   string
	http     *http.Client
}

func NewCompletionClient(endpoint, model, apiKey string, timeout time.Duration) *CompletionClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CompletionClient{
		endpoint: strings.TrimSpace(endpoint),
		model:    model,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

type completionRequest struct {
	Model          string              `json:"model"`
	Messages       []completionMessage `json:"messages"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat *responseFormat     `json:"response_format,omitempty"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends the prompt pair and returns the raw JSON content of the
// first choice.
func (c *CompletionClient) Complete(ctx context.Context, system, user string) (json.RawMessage, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("completion endpoint is not configured")
	}

	body, err := json.Marshal(completionRequest{
		Model: c.model,
		Messages: []completionMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call completion endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read completion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &jobs.HTTPStatusError{Status: resp.StatusCode, Body: string(raw)}
	}

	var parsed completionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse completion envelope: %w", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return nil, jobs.WrapCategory(jobs.CategoryInvalidResponse, fmt.Errorf("completion returned no content"))
	}

	return json.RawMessage(parsed.Choices[0].Message.Content), nil
}
