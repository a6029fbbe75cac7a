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

// Speech implements domain.Synthesizer against the Azure OpenAI audio
// speech endpoint.
type Speech struct {
	endpoint   string
	apiKey     string
	apiVersion string
	deployment string
	voice      string
	format     string
	client     *http.Client
	logger     *slog.Logger
}

type SpeechConfig struct {
	Endpoint   string
	APIKey     string
	APIVersion string
	Deployment string
	Voice      string // e.g. "alloy", "echo", "nova"
	Format     string // output container, e.g. "mp3", "opus"
	Logger     *slog.Logger
}

func NewSpeech(cfg SpeechConfig) *Speech {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2025-04-01-preview"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	if cfg.Format == "" {
		cfg.Format = "mp3"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Speech{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		apiVersion: cfg.APIVersion,
		deployment: cfg.Deployment,
		voice:      cfg.Voice,
		format:     cfg.Format,
		client:     SharedHTTPClient(AudioTimeout),
		logger:     cfg.Logger,
	}
}

type speechRequest struct {
	Model  string `json:"model"`
	Input  string `json:"input"`
	Voice  string `json:"voice"`
	Format string `json:"format"`
}

// Synthesize converts reply text into audio bytes in the configured format.
func (s *Speech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	// Azure takes the deployment name as the model field.
	body, err := json.Marshal(speechRequest{
		Model:  s.deployment,
		Input:  text,
		Voice:  s.voice,
		Format: s.format,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	reqURL := fmt.Sprintf("%s/openai/deployments/%s/audio/speech?api-version=%s",
		s.endpoint, url.PathEscape(s.deployment), url.QueryEscape(s.apiVersion))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("speech API %d: %s", resp.StatusCode, string(respBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio body: %w", err)
	}

	s.logger.Debug("speech synthesized", "text_len", len(text), "audio_bytes", len(audio))
	return audio, nil
}
