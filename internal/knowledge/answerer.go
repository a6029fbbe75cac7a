package knowledge

import (
	"context"
	"log/slog"
	"strings"

	"voicebridge/internal/domain"
)

// greetingWords are bare salutations answered by the configured greeting
// reply without a model call.
var greetingWords = map[string]bool{
	"hi":              true,
	"hello":           true,
	"hey":             true,
	"salam":           true,
	"assalamualaikum": true,
	"asalamualaikum":  true,
}

// dontKnowSentinel marks a grounded answer that the model could not find in
// the retrieved context; such answers fall back to plain generation.
const dontKnowSentinel = "i don't know"

const defaultTopK = 4

// Answerer implements domain.Generator by layering a greeting shortcut and
// knowledge-grounded retrieval over a base generator. Both layers are
// optional; with neither configured it is a pass-through.
type Answerer struct {
	base     domain.Generator
	store    *Store // optional
	greeting string // optional; empty disables the shortcut
	topK     int
	logger   *slog.Logger
}

type AnswererConfig struct {
	Base     domain.Generator
	Store    *Store
	Greeting string
	TopK     int
	Logger   *slog.Logger
}

func NewAnswerer(cfg AnswererConfig) *Answerer {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Answerer{
		base:     cfg.Base,
		store:    cfg.Store,
		greeting: cfg.Greeting,
		topK:     cfg.TopK,
		logger:   cfg.Logger,
	}
}

// Generate answers the prompt. Bare greetings get the fixed greeting reply;
// otherwise a grounded answer from the knowledge index is tried first, and
// plain generation covers everything else. Retrieval failures degrade to
// plain generation rather than failing the run.
func (a *Answerer) Generate(ctx context.Context, prompt string) (string, error) {
	if a.greeting != "" && greetingWords[strings.ToLower(strings.TrimSpace(prompt))] {
		return a.greeting, nil
	}

	if a.store != nil {
		if answer, ok := a.grounded(ctx, prompt); ok {
			return answer, nil
		}
	}

	return a.base.Generate(ctx, prompt)
}

// grounded retrieves context for the prompt and asks the base generator to
// answer from it. ok is false when retrieval fails or the model declines.
func (a *Answerer) grounded(ctx context.Context, prompt string) (string, bool) {
	hits, err := a.store.Search(ctx, prompt, a.topK)
	if err != nil {
		a.logger.Warn("knowledge retrieval failed, using plain generation", "err", err)
		return "", false
	}
	if len(hits) == 0 {
		return "", false
	}

	answer, err := a.base.Generate(ctx, groundedPrompt(hits, prompt))
	if err != nil {
		a.logger.Warn("grounded generation failed, using plain generation", "err", err)
		return "", false
	}
	if answer == "" || strings.Contains(strings.ToLower(answer), dontKnowSentinel) {
		return "", false
	}
	return answer, true
}

func groundedPrompt(hits []Hit, question string) string {
	var sb strings.Builder
	sb.WriteString("Answer the question using only the context below. ")
	sb.WriteString("If the context does not contain the answer, reply exactly: I don't know.\n\nContext:\n")
	for _, hit := range hits {
		sb.WriteString(hit.Text)
		sb.WriteString("\n---\n")
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	return sb.String()
}
