package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
)

// Whisper implements domain.Transcriber against the Azure OpenAI audio
// transcriptions endpoint.
type Whisper struct {
	endpoint   string
	apiKey     string
	apiVersion string
	deployment string
	client     *http.Client
	logger     *slog.Logger
}

type WhisperConfig struct {
	Endpoint   string
	APIKey     string
	APIVersion string
	Deployment string
	Logger     *slog.Logger
}

func NewWhisper(cfg WhisperConfig) *Whisper {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2025-04-01-preview"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Whisper{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		apiVersion: cfg.APIVersion,
		deployment: cfg.Deployment,
		client:     SharedHTTPClient(AudioTimeout),
		logger:     cfg.Logger,
	}
}

// Transcribe converts raw audio bytes to text. WhatsApp voice notes are
// OGG/Opus; the declared mime type is forwarded when present. An empty
// transcript is a valid result.
func (w *Whisper) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "audio/ogg"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filenameFor(mimeType)+`"`)
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	writer.WriteField("response_format", "json")
	writer.Close()

	reqURL := fmt.Sprintf("%s/openai/deployments/%s/audio/transcriptions?api-version=%s",
		w.endpoint, url.PathEscape(w.deployment), url.QueryEscape(w.apiVersion))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("api-key", w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("transcription API %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	w.logger.Debug("transcription complete", "audio_bytes", len(audio), "text_len", len(text))
	return text, nil
}

// filenameFor picks an upload filename extension the backend recognizes
// from the declared container type.
func filenameFor(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "mpeg") || strings.Contains(mimeType, "mp3"):
		return "in.mp3"
	case strings.Contains(mimeType, "wav"):
		return "in.wav"
	case strings.Contains(mimeType, "mp4") || strings.Contains(mimeType, "m4a"):
		return "in.m4a"
	default:
		return "in.ogg"
	}
}
