// Package knowledge grounds text answers in a local document file. The
// documents are embedded once at startup into an in-memory index; at answer
// time the closest chunks are retrieved and prepended to the generation
// prompt, with plain generation as the fallback.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"

	"voicebridge/internal/domain"
)

const (
	chunkSize    = 1000
	chunkOverlap = 200
)

// Store is an in-memory embedding index over document chunks.
type Store struct {
	embedder domain.Embedder
	chunks   []string
	vectors  [][]float32
	logger   *slog.Logger
}

// Hit is one retrieved chunk with its cosine similarity to the query.
type Hit struct {
	Text  string
	Score float32
}

// LoadDocuments reads a knowledge file. JSON may be a plain string array,
// an array of objects carrying text under content/{title,text,content,body}
// or a top-level text/content/body key, or an object with a documents
// array. Any other extension is read as one raw text document.
func LoadDocuments(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read knowledge file %s: %w", path, err)
	}

	if !strings.HasSuffix(strings.ToLower(path), ".json") {
		text := strings.TrimSpace(string(data))
		if text == "" {
			return nil, fmt.Errorf("knowledge file %s is empty", path)
		}
		return []string{text}, nil
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("cannot parse knowledge file %s: %w", path, err)
	}

	texts := extractTexts(raw)
	if len(texts) == 0 {
		return nil, fmt.Errorf("knowledge file %s contains no documents", path)
	}
	return texts, nil
}

func extractTexts(raw any) []string {
	switch v := raw.(type) {
	case []any:
		var texts []string
		for _, item := range v {
			switch entry := item.(type) {
			case string:
				if strings.TrimSpace(entry) != "" {
					texts = append(texts, entry)
				}
			case map[string]any:
				if text := textFromObject(entry); text != "" {
					texts = append(texts, text)
				}
			}
		}
		return texts
	case map[string]any:
		if docs, ok := v["documents"].([]any); ok {
			var texts []string
			for _, d := range docs {
				if s, ok := d.(string); ok && strings.TrimSpace(s) != "" {
					texts = append(texts, s)
				}
			}
			return texts
		}
		if text := textFromObject(v); text != "" {
			return []string{text}
		}
	}
	return nil
}

// textFromObject pulls document text out of one JSON object, optionally
// prefixed with its title.
func textFromObject(obj map[string]any) string {
	if content, ok := obj["content"].(map[string]any); ok {
		body := firstString(content, "text", "content", "body")
		if body != "" {
			if title, _ := content["title"].(string); strings.TrimSpace(title) != "" {
				return strings.TrimSpace(title) + "\n" + body
			}
			return body
		}
	}
	return firstString(obj, "text", "content", "body")
}

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// splitText cuts a document into overlapping fixed-size chunks.
func splitText(text string) []string {
	runes := []rune(text)
	if len(runes) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	step := chunkSize - chunkOverlap
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// NewStore chunks the documents and embeds every chunk through the given
// embedder, which is retained for query-time searches.
func NewStore(ctx context.Context, embedder domain.Embedder, docs []string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var chunks []string
	for _, doc := range docs {
		chunks = append(chunks, splitText(doc)...)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks to index")
	}

	vectors, err := embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed knowledge chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	logger.Info("knowledge index built", "documents", len(docs), "chunks", len(chunks))
	return &Store{embedder: embedder, chunks: chunks, vectors: vectors, logger: logger}, nil
}

// Len reports the number of indexed chunks.
func (s *Store) Len() int { return len(s.chunks) }

// Search embeds the query and returns the k most similar chunks, best
// first.
func (s *Store) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("got %d vectors for one query", len(vectors))
	}

	hits := make([]Hit, 0, len(s.chunks))
	for i, vec := range s.vectors {
		hits = append(hits, Hit{Text: s.chunks[i], Score: cosine(vectors[0], vec)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
