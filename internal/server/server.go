// Package server assembles the HTTP surface: the webhook verification and
// delivery pair, the ephemeral media endpoint, a health probe and the
// optional metrics endpoint.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"voicebridge/internal/mediacache"
	"voicebridge/internal/metrics"
	"voicebridge/internal/whatsapp"
)

// Server is the single HTTP listener for all public endpoints.
type Server struct {
	addr      string
	webhook   *whatsapp.Webhook
	cache     *mediacache.Cache
	mediaPath string
	logger    *slog.Logger
	server    *http.Server
}

type Config struct {
	Host           string
	Port           int
	WebhookPath    string // default /webhook
	MediaPath      string // default /media
	MetricsEnabled bool
	MetricsPath    string // default /metrics
	Webhook        *whatsapp.Webhook
	Cache          *mediacache.Cache
	Logger         *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook"
	}
	if cfg.MediaPath == "" {
		cfg.MediaPath = "/media"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		addr:      fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		webhook:   cfg.Webhook,
		cache:     cfg.Cache,
		mediaPath: cfg.MediaPath,
		logger:    cfg.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+cfg.WebhookPath, cfg.Webhook.HandleVerification)
	mux.HandleFunc("POST "+cfg.WebhookPath, cfg.Webhook.HandleDelivery)
	mux.HandleFunc("GET "+cfg.MediaPath+"/{id}", s.handleMedia)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if cfg.MetricsEnabled {
		mux.HandleFunc("GET "+cfg.MetricsPath, metrics.Collector.Handler())
	}

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s
}

// Handler exposes the assembled mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the listener until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("http server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// handleMedia serves one cached audio payload. Expired or unknown ids are
// indistinguishable: both 404.
func (s *Server) handleMedia(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	entry, ok := s.cache.Get(id)
	if !ok {
		metrics.MediaMisses.Inc()
		s.logger.Debug("media miss", "id", id)
		http.NotFound(rw, r)
		return
	}

	metrics.MediaServed.Inc()
	rw.Header().Set("Content-Type", entry.ContentType)
	rw.Header().Set("Content-Length", fmt.Sprint(len(entry.Payload)))
	rw.Header().Set("Cache-Control", "no-store")
	rw.WriteHeader(http.StatusOK)
	rw.Write(entry.Payload)
}

func (s *Server) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]any{
		"status":        "ok",
		"cache_entries": s.cache.Len(),
	})
}
