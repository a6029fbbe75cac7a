// Package provider implements the Azure OpenAI adapters: chat completion,
// Whisper transcription and speech synthesis. One resource endpoint, one
// deployment per capability, api-key header auth.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Chat implements domain.Generator against the Azure OpenAI chat
// completions endpoint.
type Chat struct {
	endpoint     string
	apiKey       string
	apiVersion   string
	deployment   string
	systemPrompt string
	fallback     string
	temperature  float64
	client       *http.Client
	logger       *slog.Logger
}

type ChatConfig struct {
	Endpoint     string // e.g. "https://myresource.openai.azure.com"
	APIKey       string
	APIVersion   string
	Deployment   string
	SystemPrompt string
	Fallback     string // non-empty reply substituted for empty backend results
	Temperature  float64
	Logger       *slog.Logger
}

func NewChat(cfg ChatConfig) *Chat {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2025-04-01-preview"
	}
	if cfg.Fallback == "" {
		cfg.Fallback = "Sorry, I could not generate a response."
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Chat{
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:       cfg.APIKey,
		apiVersion:   cfg.APIVersion,
		deployment:   cfg.Deployment,
		systemPrompt: cfg.SystemPrompt,
		fallback:     cfg.Fallback,
		temperature:  cfg.Temperature,
		client:       SharedHTTPClient(ChatTimeout),
		logger:       cfg.Logger,
	}
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate returns a reply for the prompt. The prompt is the sole context;
// no prior turns are sent. An empty or missing backend result becomes the
// configured fallback, never an empty string.
func (c *Chat) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: c.systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.deploymentURL("chat/completions"), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat API %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}

	text := ""
	if len(result.Choices) > 0 {
		text = strings.TrimSpace(result.Choices[0].Message.Content)
	}
	if text == "" {
		c.logger.Warn("chat backend returned empty result, using fallback")
		return c.fallback, nil
	}

	c.logger.Debug("reply generated", "prompt_len", len(prompt), "reply_len", len(text))
	return text, nil
}

func (c *Chat) deploymentURL(op string) string {
	return fmt.Sprintf("%s/openai/deployments/%s/%s?api-version=%s",
		c.endpoint, url.PathEscape(c.deployment), op, url.QueryEscape(c.apiVersion))
}
