// Package pipeline drives one inbound message through the external-call
// sequence for its modality and dispatches the reply. Runs are detached
// from the webhook response: the platform has already been acked, so a
// failed run is logged and journaled but never surfaced to the sender.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"voicebridge/internal/domain"
	"voicebridge/internal/journal"
	"voicebridge/internal/metrics"
)

// Pipeline stages, in execution order for the audio path.
const (
	StageFetch      = "fetch"
	StageTranscribe = "transcribe"
	StageGenerate   = "generate"
	StageSynthesize = "synthesize"
	StageReply      = "reply"
)

const (
	defaultChatTimeout  = 120 * time.Second
	defaultAudioTimeout = 300 * time.Second
	defaultFallback     = "Sorry, I could not generate a response."
)

// RunRecorder persists run outcomes. Satisfied by *journal.Store.
type RunRecorder interface {
	Append(ctx context.Context, rec journal.Record) error
}

// Pipeline orchestrates the adapter sequence for one message at a time.
// Runs share no state; any number may be in flight concurrently.
type Pipeline struct {
	generator   domain.Generator
	transcriber domain.Transcriber
	synthesizer domain.Synthesizer
	fetcher     domain.MediaFetcher
	dispatcher  *Dispatcher
	journal     RunRecorder
	logger      *slog.Logger

	chatTimeout  time.Duration
	audioTimeout time.Duration
	fallback     string
}

type Config struct {
	Generator   domain.Generator
	Transcriber domain.Transcriber
	Synthesizer domain.Synthesizer
	Fetcher     domain.MediaFetcher
	Dispatcher  *Dispatcher
	Journal     RunRecorder // optional
	Logger      *slog.Logger

	ChatTimeout  time.Duration // bound on the generation call
	AudioTimeout time.Duration // bound on fetch/transcribe/synthesize calls
	Fallback     string        // substituted for empty generation results
}

func New(cfg Config) *Pipeline {
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = defaultChatTimeout
	}
	if cfg.AudioTimeout <= 0 {
		cfg.AudioTimeout = defaultAudioTimeout
	}
	if cfg.Fallback == "" {
		cfg.Fallback = defaultFallback
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		generator:    cfg.Generator,
		transcriber:  cfg.Transcriber,
		synthesizer:  cfg.Synthesizer,
		fetcher:      cfg.Fetcher,
		dispatcher:   cfg.Dispatcher,
		journal:      cfg.Journal,
		logger:       cfg.Logger,
		chatTimeout:  cfg.ChatTimeout,
		audioTimeout: cfg.AudioTimeout,
		fallback:     cfg.Fallback,
	}
}

// stageError carries the stage at which a run aborted.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func fail(stage string, err error) error {
	return &stageError{stage: stage, err: err}
}

// Process runs the full sequence for one descriptor. It is best-effort:
// the webhook caller has already been acknowledged, so failures terminate
// the run silently — one diagnostic log line and one journal record, no
// partial reply, no retry, no cache entry.
func (p *Pipeline) Process(msg *domain.Message) {
	runID := uuid.NewString()
	start := time.Now()
	logger := p.logger.With("run", runID, "sender", msg.Sender, "modality", msg.Modality)

	metrics.MessagesTotal.Inc()
	logger.Info("pipeline run started")

	var err error
	switch msg.Modality {
	case domain.ModalityText:
		err = p.runText(msg)
	case domain.ModalityAudio:
		err = p.runAudio(msg)
	default:
		err = fail(StageGenerate, fmt.Errorf("unknown modality %q", msg.Modality))
	}

	elapsed := time.Since(start)
	if err != nil {
		stage := StageGenerate
		if se, ok := err.(*stageError); ok {
			stage = se.stage
		}
		logger.Error("pipeline run failed", "stage", stage, "err", err, "elapsed", elapsed)
		metrics.RunsFailed.Inc()
		p.record(journal.Record{
			ID:        runID,
			Sender:    msg.Sender,
			Modality:  string(msg.Modality),
			Stage:     stage,
			Status:    journal.StatusFailed,
			Error:     err.Error(),
			LatencyMs: elapsed.Milliseconds(),
		})
		return
	}

	logger.Info("pipeline run completed", "elapsed", elapsed)
	metrics.RunsCompleted.Inc()
	metrics.RunLatency.Observe(elapsed.Seconds())
	p.record(journal.Record{
		ID:        runID,
		Sender:    msg.Sender,
		Modality:  string(msg.Modality),
		Stage:     StageReply,
		Status:    journal.StatusCompleted,
		LatencyMs: elapsed.Milliseconds(),
	})
}

// runText: generate → reply.
func (p *Pipeline) runText(msg *domain.Message) error {
	reply, err := p.generate(msg.Text)
	if err != nil {
		return fail(StageGenerate, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.chatTimeout)
	defer cancel()
	if err := p.dispatcher.ReplyText(ctx, msg.Sender, reply); err != nil {
		return fail(StageReply, err)
	}
	return nil
}

// runAudio: fetch → transcribe → generate → synthesize → reply. Each stage
// consumes the previous stage's output; none is skipped or reordered, and
// an empty-but-valid intermediate (an empty transcript) flows through.
func (p *Pipeline) runAudio(msg *domain.Message) error {
	audio, err := p.withAudioTimeout(func(ctx context.Context) ([]byte, error) {
		return p.fetcher.DownloadMedia(ctx, msg.Media.ID)
	})
	if err != nil {
		return fail(StageFetch, err)
	}

	transcript, err := p.transcribe(audio, msg.Media.MIMEType)
	if err != nil {
		return fail(StageTranscribe, err)
	}

	reply, err := p.generate(transcript)
	if err != nil {
		return fail(StageGenerate, err)
	}

	voice, err := p.withAudioTimeout(func(ctx context.Context) ([]byte, error) {
		return p.synthesizer.Synthesize(ctx, reply)
	})
	if err != nil {
		return fail(StageSynthesize, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.audioTimeout)
	defer cancel()
	if err := p.dispatcher.ReplyAudio(ctx, msg.Sender, voice); err != nil {
		return fail(StageReply, err)
	}
	return nil
}

// generate invokes the generator once and guarantees a non-empty reply.
func (p *Pipeline) generate(prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.chatTimeout)
	defer cancel()

	reply, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	if reply == "" {
		return p.fallback, nil
	}
	return reply, nil
}

func (p *Pipeline) transcribe(audio []byte, mimeType string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.audioTimeout)
	defer cancel()
	return p.transcriber.Transcribe(ctx, audio, mimeType)
}

func (p *Pipeline) withAudioTimeout(call func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.audioTimeout)
	defer cancel()
	return call(ctx)
}

func (p *Pipeline) record(rec journal.Record) {
	if p.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.journal.Append(ctx, rec); err != nil {
		p.logger.Warn("journal write failed", "run", rec.ID, "err", err)
	}
}
