package whatsapp

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"voicebridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// chanProcessor delivers processed descriptors to a channel so tests can
// wait for the detached goroutine.
type chanProcessor struct {
	ch chan *domain.Message
}

func newChanProcessor() *chanProcessor {
	return &chanProcessor{ch: make(chan *domain.Message, 1)}
}

func (p *chanProcessor) Process(msg *domain.Message) { p.ch <- msg }

func (p *chanProcessor) wait(t *testing.T) *domain.Message {
	t.Helper()
	select {
	case msg := <-p.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("processor was not invoked")
		return nil
	}
}

func (p *chanProcessor) expectIdle(t *testing.T) {
	t.Helper()
	select {
	case msg := <-p.ch:
		t.Fatalf("processor invoked unexpectedly: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// --- Verification handshake ---

func TestVerification_Match(t *testing.T) {
	w := NewWebhook(WebhookConfig{VerifyToken: "vt", Logger: testLogger()})
	req := httptest.NewRequest("GET", "/webhook?hub.mode=subscribe&hub.verify_token=vt&hub.challenge=12345", nil)
	rr := httptest.NewRecorder()

	w.HandleVerification(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	respBody, _ := io.ReadAll(rr.Body)
	if string(respBody) != "12345" {
		t.Errorf("expected challenge echoed, got %q", respBody)
	}
}

func TestVerification_ChallengeEchoedVerbatim(t *testing.T) {
	// The platform compares the echoed challenge byte-for-byte, so values
	// containing HTML-special characters must pass through unmodified.
	w := NewWebhook(WebhookConfig{VerifyToken: "vt", Logger: testLogger()})
	challenge := "a&b<c>\"d"
	target := "/webhook?" + url.Values{
		"hub.mode":         {"subscribe"},
		"hub.verify_token": {"vt"},
		"hub.challenge":    {challenge},
	}.Encode()
	req := httptest.NewRequest("GET", target, nil)
	rr := httptest.NewRecorder()

	w.HandleVerification(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Body.String(); got != challenge {
		t.Errorf("challenge must be echoed raw, got %q want %q", got, challenge)
	}
}

func TestVerification_WrongToken(t *testing.T) {
	w := NewWebhook(WebhookConfig{VerifyToken: "vt", Logger: testLogger()})
	req := httptest.NewRequest("GET", "/webhook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", nil)
	rr := httptest.NewRecorder()

	w.HandleVerification(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestVerification_WrongMode(t *testing.T) {
	w := NewWebhook(WebhookConfig{VerifyToken: "vt", Logger: testLogger()})
	req := httptest.NewRequest("GET", "/webhook?hub.mode=unsubscribe&hub.verify_token=vt&hub.challenge=12345", nil)
	rr := httptest.NewRecorder()

	w.HandleVerification(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

// --- Delivery ---

func TestDelivery_TextMessage(t *testing.T) {
	proc := newChanProcessor()
	w := NewWebhook(WebhookConfig{VerifyToken: "vt", Processor: proc, Logger: testLogger()})

	body := wrapMessage(`{"from":"1555","type":"text","text":{"body":"hello"}}`)
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()

	w.HandleDelivery(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("expected empty ack body, got %q", rr.Body.String())
	}

	msg := proc.wait(t)
	if msg.Sender != "1555" || msg.Text != "hello" {
		t.Errorf("unexpected descriptor: %+v", msg)
	}
}

func TestDelivery_MalformedStillAcked(t *testing.T) {
	proc := newChanProcessor()
	w := NewWebhook(WebhookConfig{VerifyToken: "vt", Processor: proc, Logger: testLogger()})

	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString("not json"))
	rr := httptest.NewRecorder()

	w.HandleDelivery(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("malformed delivery must still be acked, got %d", rr.Code)
	}
	proc.expectIdle(t)
}

func TestDelivery_UnsupportedTypeAcked(t *testing.T) {
	proc := newChanProcessor()
	w := NewWebhook(WebhookConfig{VerifyToken: "vt", Processor: proc, Logger: testLogger()})

	body := wrapMessage(`{"from":"1","type":"image","image":{"id":"I1"}}`)
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()

	w.HandleDelivery(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	proc.expectIdle(t)
}

func TestDelivery_ValidSignature(t *testing.T) {
	proc := newChanProcessor()
	w := NewWebhook(WebhookConfig{VerifyToken: "vt", AppSecret: "s3cret", Processor: proc, Logger: testLogger()})

	body := []byte(wrapMessage(`{"from":"1","type":"text","text":{"body":"hi"}}`))
	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("s3cret", body))
	rr := httptest.NewRecorder()

	w.HandleDelivery(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	proc.wait(t)
}

func TestDelivery_InvalidSignature(t *testing.T) {
	proc := newChanProcessor()
	w := NewWebhook(WebhookConfig{VerifyToken: "vt", AppSecret: "s3cret", Processor: proc, Logger: testLogger()})

	body := []byte(wrapMessage(`{"from":"1","type":"text","text":{"body":"hi"}}`))
	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rr := httptest.NewRecorder()

	w.HandleDelivery(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	proc.expectIdle(t)
}

func TestDelivery_MissingSignature(t *testing.T) {
	proc := newChanProcessor()
	w := NewWebhook(WebhookConfig{VerifyToken: "vt", AppSecret: "s3cret", Processor: proc, Logger: testLogger()})

	body := []byte(wrapMessage(`{"from":"1","type":"text","text":{"body":"hi"}}`))
	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	w.HandleDelivery(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	proc.expectIdle(t)
}
