package domain

import "context"

// Generator produces a reply for a single prompt. Implementations must
// return a non-empty reply, substituting a fallback literal when the
// backend yields nothing.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Transcriber converts raw audio bytes into a transcript. An empty
// transcript is a valid result, never nil-like.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Embedder maps texts to dense vectors for similarity search. The result
// slice is index-aligned with the input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Synthesizer converts reply text into raw audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// MediaFetcher downloads remote media from the messaging platform by its
// opaque media id.
type MediaFetcher interface {
	DownloadMedia(ctx context.Context, mediaID string) ([]byte, error)
}

// Sender delivers outbound replies to a chat participant. Audio is sent as
// a link because the platform pulls media by URL rather than accepting
// inline bytes.
type Sender interface {
	SendText(ctx context.Context, to, body string) error
	SendAudioLink(ctx context.Context, to, link string) error
}
