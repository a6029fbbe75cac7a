package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"voicebridge/internal/domain"
	"voicebridge/internal/mediacache"
	"voicebridge/internal/metrics"
)

// audioContentTypes maps configured synthesis format tokens to the MIME
// type served with the cached payload. Anything unrecognized falls back to
// audio/ogg, which covers the opus-family formats the backend otherwise
// produces.
var audioContentTypes = map[string]string{
	"mp3":        "audio/mpeg",
	"mpeg":       "audio/mpeg",
	"audio/mpeg": "audio/mpeg",
}

const fallbackContentType = "audio/ogg"

// ContentTypeForFormat resolves a configured output format token to the
// MIME type used for cached audio.
func ContentTypeForFormat(format string) string {
	if ct, ok := audioContentTypes[strings.ToLower(strings.TrimSpace(format))]; ok {
		return ct
	}
	return fallbackContentType
}

// Dispatcher delivers the pipeline's reply. Text goes straight out; audio
// is cached first and sent as a pull URL, because the platform fetches
// media by dereferencing a link rather than accepting inline bytes.
type Dispatcher struct {
	sender      domain.Sender
	cache       *mediacache.Cache
	baseURL     string // fully qualified, no trailing slash
	mediaPath   string // public path prefix, e.g. /media
	contentType string
	logger      *slog.Logger
}

type DispatcherConfig struct {
	Sender    domain.Sender
	Cache     *mediacache.Cache
	BaseURL   string
	MediaPath string
	Format    string // configured synthesis output format
	Logger    *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.MediaPath == "" {
		cfg.MediaPath = "/media"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		sender:      cfg.Sender,
		cache:       cfg.Cache,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		mediaPath:   strings.TrimRight(cfg.MediaPath, "/"),
		contentType: ContentTypeForFormat(cfg.Format),
		logger:      cfg.Logger,
	}
}

// ReplyText sends the literal text.
func (d *Dispatcher) ReplyText(ctx context.Context, to, body string) error {
	return d.sender.SendText(ctx, to, body)
}

// ReplyAudio stores the synthesized bytes and sends the resulting one-time
// URL. The cache write happens strictly before the send so the link is
// resolvable the moment the platform sees it.
func (d *Dispatcher) ReplyAudio(ctx context.Context, to string, audio []byte) error {
	id := d.cache.Put(audio, d.contentType)
	metrics.CacheEntries.Set(int64(d.cache.Len()))

	link := d.baseURL + d.mediaPath + "/" + id
	d.logger.Debug("audio reply cached", "id", id, "bytes", len(audio))

	return d.sender.SendAudioLink(ctx, to, link)
}
