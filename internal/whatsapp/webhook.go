package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"

	"voicebridge/internal/domain"
	"voicebridge/internal/metrics"
)

// maxWebhookBody bounds delivery payloads read into memory.
const maxWebhookBody = 1 << 20

// Processor consumes a classified descriptor. The webhook never waits on
// it: the delivery is acknowledged first, the pipeline runs detached.
type Processor interface {
	Process(msg *domain.Message)
}

// Webhook serves the Cloud API webhook pair: the GET verification
// handshake and POST message deliveries.
type Webhook struct {
	verifyToken string
	appSecret   string
	processor   Processor
	logger      *slog.Logger
}

type WebhookConfig struct {
	VerifyToken string
	AppSecret   string // optional: enables X-Hub-Signature-256 validation
	Processor   Processor
	Logger      *slog.Logger
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		verifyToken: cfg.VerifyToken,
		appSecret:   cfg.AppSecret,
		processor:   cfg.Processor,
		logger:      cfg.Logger,
	}
}

// HandleVerification answers the subscription challenge: echo the raw
// challenge on a token match, 403 otherwise. The challenge is written
// byte-for-byte as text/plain; the platform compares it verbatim.
func (w *Webhook) HandleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == w.verifyToken {
		w.logger.Info("webhook verified")
		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		rw.WriteHeader(http.StatusOK)
		io.WriteString(rw, challenge)
		return
	}

	w.logger.Warn("webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

// HandleDelivery accepts a message delivery. The platform expects a quick
// acknowledgment independent of processing, so the response is always 200
// with an empty body (403 only when a configured signature fails) and the
// pipeline runs in its own goroutine. Malformed or unsupported payloads are
// acknowledged and dropped.
func (w *Webhook) HandleDelivery(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if w.appSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !w.verifySignature(body, sig) {
			w.logger.Warn("invalid webhook signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	rw.WriteHeader(http.StatusOK)

	msg := Parse(body)
	if msg == nil {
		metrics.NotActionableTotal.Inc()
		w.logger.Debug("delivery not actionable", "bytes", len(body))
		return
	}

	w.logger.Info("message received", "from", msg.Sender, "modality", msg.Modality)
	go w.processor.Process(msg)
}

// verifySignature checks the X-Hub-Signature-256 header (HMAC-SHA256 over
// the raw body).
func (w *Webhook) verifySignature(body []byte, signature string) bool {
	if len(signature) < 7 || signature[:7] != "sha256=" {
		return false
	}
	expected := signature[7:]

	mac := hmac.New(sha256.New, []byte(w.appSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(computed))
}
