package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// --- Chat ---

func TestChat_Generate(t *testing.T) {
	var gotPath, gotKey string
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotKey = r.Header.Get("api-key")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		io.WriteString(rw, `{"choices":[{"message":{"content":" The answer. "}}]}`)
	}))
	defer srv.Close()

	c := NewChat(ChatConfig{
		Endpoint:     srv.URL,
		APIKey:       "k",
		APIVersion:   "2025-04-01-preview",
		Deployment:   "gpt4o",
		SystemPrompt: "Be concise.",
		Temperature:  0.3,
		Logger:       testLogger(),
	})

	reply, err := c.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "The answer." {
		t.Errorf("expected trimmed reply, got %q", reply)
	}
	if gotKey != "k" {
		t.Errorf("expected api-key header, got %q", gotKey)
	}
	if !strings.Contains(gotPath, "/openai/deployments/gpt4o/chat/completions") {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if !strings.Contains(gotPath, "api-version=2025-04-01-preview") {
		t.Errorf("missing api-version: %s", gotPath)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" {
		t.Fatalf("unexpected messages: %+v", gotBody.Messages)
	}
	if gotBody.Messages[1].Content != "hello" {
		t.Errorf("prompt must be the sole user content, got %q", gotBody.Messages[1].Content)
	}
}

func TestChat_EmptyResultUsesFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		io.WriteString(rw, `{"choices":[{"message":{"content":"   "}}]}`)
	}))
	defer srv.Close()

	c := NewChat(ChatConfig{Endpoint: srv.URL, Deployment: "gpt4o", Fallback: "fallback reply", Logger: testLogger()})
	reply, err := c.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "fallback reply" {
		t.Errorf("expected fallback, got %q", reply)
	}
}

func TestChat_NoChoicesUsesFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		io.WriteString(rw, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := NewChat(ChatConfig{Endpoint: srv.URL, Deployment: "gpt4o", Fallback: "fallback reply", Logger: testLogger()})
	reply, err := c.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "fallback reply" {
		t.Errorf("expected fallback, got %q", reply)
	}
}

func TestChat_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewChat(ChatConfig{Endpoint: srv.URL, Deployment: "gpt4o", Logger: testLogger()})
	if _, err := c.Generate(context.Background(), "hello"); err == nil {
		t.Fatal("expected error on 429")
	}
}

// --- Whisper ---

func TestWhisper_Transcribe(t *testing.T) {
	var gotContentType string
	var gotFile []byte
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			gotFile, _ = io.ReadAll(f)
			f.Close()
			if hdr.Filename != "in.ogg" {
				t.Errorf("unexpected filename: %s", hdr.Filename)
			}
		}
		io.WriteString(rw, `{"text":" hello world "}`)
	}))
	defer srv.Close()

	w := NewWhisper(WhisperConfig{Endpoint: srv.URL, APIKey: "k", Deployment: "whisper", Logger: testLogger()})
	text, err := w.Transcribe(context.Background(), []byte("ogg-data"), "audio/ogg")
	if err != nil {
		t.Fatal(err)
	}
	if text != "hello world" {
		t.Errorf("expected trimmed transcript, got %q", text)
	}
	if !strings.HasPrefix(gotContentType, "multipart/form-data") {
		t.Errorf("expected multipart request, got %s", gotContentType)
	}
	if !bytes.Equal(gotFile, []byte("ogg-data")) {
		t.Errorf("audio bytes not forwarded: %q", gotFile)
	}
}

func TestWhisper_EmptyTranscriptIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		io.WriteString(rw, `{"text":""}`)
	}))
	defer srv.Close()

	w := NewWhisper(WhisperConfig{Endpoint: srv.URL, Deployment: "whisper", Logger: testLogger()})
	text, err := w.Transcribe(context.Background(), []byte("x"), "")
	if err != nil {
		t.Fatal(err)
	}
	if text != "" {
		t.Errorf("expected empty transcript, got %q", text)
	}
}

func TestWhisper_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusBadRequest)
		io.WriteString(rw, `{"error":"unsupported format"}`)
	}))
	defer srv.Close()

	w := NewWhisper(WhisperConfig{Endpoint: srv.URL, Deployment: "whisper", Logger: testLogger()})
	if _, err := w.Transcribe(context.Background(), []byte("x"), ""); err == nil {
		t.Fatal("expected error on 400")
	}
}

// --- Speech ---

func TestSpeech_Synthesize(t *testing.T) {
	audio := []byte{0xFF, 0xFB, 0x90}
	var gotBody speechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		rw.Write(audio)
	}))
	defer srv.Close()

	s := NewSpeech(SpeechConfig{Endpoint: srv.URL, Deployment: "tts", Voice: "nova", Format: "mp3", Logger: testLogger()})
	out, err := s.Synthesize(context.Background(), "hi there")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, audio) {
		t.Errorf("audio mismatch: %v", out)
	}
	if gotBody.Model != "tts" || gotBody.Voice != "nova" || gotBody.Format != "mp3" {
		t.Errorf("unexpected request: %+v", gotBody)
	}
	if gotBody.Input != "hi there" {
		t.Errorf("unexpected input: %q", gotBody.Input)
	}
}

func TestSpeech_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewSpeech(SpeechConfig{Endpoint: srv.URL, Deployment: "tts", Logger: testLogger()})
	if _, err := s.Synthesize(context.Background(), "hi"); err == nil {
		t.Fatal("expected error on 500")
	}
}

// --- Embeddings ---

func TestEmbeddings_Embed(t *testing.T) {
	var gotPath string
	var gotBody embeddingsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		// Out of order on purpose; vectors must come back input-aligned.
		io.WriteString(rw, `{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`)
	}))
	defer srv.Close()

	e := NewEmbeddings(EmbeddingsConfig{Endpoint: srv.URL, APIKey: "k", Deployment: "embed", Logger: testLogger()})
	vectors, err := e.Embed(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gotPath, "/openai/deployments/embed/embeddings") {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if len(gotBody.Input) != 2 || gotBody.Input[0] != "alpha" {
		t.Errorf("unexpected input: %v", gotBody.Input)
	}
	if len(vectors) != 2 || vectors[0][0] != 1 || vectors[1][1] != 1 {
		t.Errorf("vectors not index-aligned: %v", vectors)
	}
}

func TestEmbeddings_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		io.WriteString(rw, `{"data":[{"index":0,"embedding":[1]}]}`)
	}))
	defer srv.Close()

	e := NewEmbeddings(EmbeddingsConfig{Endpoint: srv.URL, Deployment: "embed", Logger: testLogger()})
	if _, err := e.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error on vector count mismatch")
	}
}

func TestEmbeddings_EmptyInput(t *testing.T) {
	e := NewEmbeddings(EmbeddingsConfig{Endpoint: "https://unused.example.com", Deployment: "embed", Logger: testLogger()})
	vectors, err := e.Embed(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if vectors != nil {
		t.Errorf("expected no vectors for no input, got %v", vectors)
	}
}

// --- filenameFor ---

func TestFilenameFor(t *testing.T) {
	cases := map[string]string{
		"audio/ogg; codecs=opus": "in.ogg",
		"audio/mpeg":             "in.mp3",
		"audio/wav":              "in.wav",
		"audio/mp4":              "in.m4a",
		"":                       "in.ogg",
	}
	for mime, want := range cases {
		if got := filenameFor(mime); got != want {
			t.Errorf("filenameFor(%q) = %q, want %q", mime, got, want)
		}
	}
}
