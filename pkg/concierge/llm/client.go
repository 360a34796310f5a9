// Package llm implements the language-model client for chat completions and
// yes/no classification. Uses the OpenAI-compatible API format, which works
// with OpenAI and any compatible endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client handles communication with the LLM provider API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new LLM client.
func NewClient(baseURL, apiKey, model string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger.With("component", "llm"),
	}
}

// Message is one turn in a chat exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ---------- Wire Types (OpenAI-compatible) ----------

// chatRequest is the OpenAI-compatible chat completions request.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// chatResponse is the OpenAI-compatible chat completions response.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ---------- Public Methods ----------

// Complete sends a chat completion request and returns the response text.
// History entries are interleaved before the current user message.
func (c *Client) Complete(ctx context.Context, systemPrompt string, history []Message, userMessage string) (string, error) {
	messages := make([]Message, 0, len(history)+2)

	if systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: userMessage})

	return c.complete(ctx, chatRequest{
		Model:    c.model,
		Messages: messages,
	})
}

// ClassifyYesNo asks the model a yes/no question about a message and parses
// the answer strictly. Anything that is not a clear "yes" counts as no.
func (c *Client) ClassifyYesNo(ctx context.Context, question, message string) (bool, error) {
	temp := 0.0
	answer, err := c.complete(ctx, chatRequest{
		Model: c.model,
		Messages: []Message{
			{
				Role: "system",
				Content: question +
					" Answer with exactly one word: yes or no.",
			},
			{Role: "user", Content: message},
		},
		Temperature: &temp,
		MaxTokens:   3,
	})
	if err != nil {
		return false, err
	}

	normalized := strings.ToLower(strings.Trim(answer, " \t\n.!\""))
	return normalized == "yes", nil
}

// ---------- Internal ----------

// complete executes a chat completion request and returns the trimmed text.
func (c *Client) complete(ctx context.Context, reqBody chatRequest) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("API key not configured. Run 'concierge config set-key' or set CONCIERGE_API_KEY")
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("sending chat completion",
		"model", c.model,
		"messages", len(reqBody.Messages),
		"endpoint", endpoint,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	duration := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("API error",
			"status", resp.StatusCode,
			"body", truncate(string(respBody), 500),
		)
		return "", fmt.Errorf("API returned %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}

	if chatResp.Error != nil {
		return "", fmt.Errorf("API error: %s", chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response from model")
	}

	choice := chatResp.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)

	c.logger.Debug("chat completion done",
		"model", c.model,
		"duration_ms", duration.Milliseconds(),
		"prompt_tokens", chatResp.Usage.PromptTokens,
		"completion_tokens", chatResp.Usage.CompletionTokens,
		"finish_reason", choice.FinishReason,
	)

	return content, nil
}

// truncate shortens a string to maxLen characters for log output.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
