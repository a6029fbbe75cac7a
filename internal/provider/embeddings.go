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
	"sort"
	"strings"
)

// Embeddings implements domain.Embedder against the Azure OpenAI embeddings
// endpoint.
type Embeddings struct {
	endpoint   string
	apiKey     string
	apiVersion string
	deployment string
	client     *http.Client
	logger     *slog.Logger
}

type EmbeddingsConfig struct {
	Endpoint   string
	APIKey     string
	APIVersion string
	Deployment string
	Logger     *slog.Logger
}

func NewEmbeddings(cfg EmbeddingsConfig) *Embeddings {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2025-04-01-preview"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Embeddings{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		apiVersion: cfg.APIVersion,
		deployment: cfg.Deployment,
		client:     SharedHTTPClient(ChatTimeout),
		logger:     cfg.Logger,
	}
}

type embeddingsRequest struct {
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, index-aligned.
func (e *Embeddings) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embeddingsRequest{Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	reqURL := fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
		e.endpoint, url.PathEscape(e.deployment), url.QueryEscape(e.apiVersion))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embeddings API %d: %s", resp.StatusCode, string(respBody))
	}

	var result embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings API returned %d vectors for %d inputs", len(result.Data), len(texts))
	}

	// Vectors carry an index tag; align them with the input order.
	sort.Slice(result.Data, func(i, j int) bool { return result.Data[i].Index < result.Data[j].Index })

	vectors := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		vectors[i] = d.Embedding
	}

	e.logger.Debug("embeddings computed", "texts", len(texts))
	return vectors, nil
}
