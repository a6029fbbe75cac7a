package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Server.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_InvalidTTL(t *testing.T) {
	cfg := Defaults()
	cfg.Cache.TTLSeconds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for ttlSeconds=0")
	}
}

func TestValidate_EmptyFallback(t *testing.T) {
	cfg := Defaults()
	cfg.Azure.FallbackReply = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty fallbackReply")
	}
}

func TestValidate_KnowledgeNeedsEmbeddingDeployment(t *testing.T) {
	cfg := Defaults()
	cfg.Knowledge.Path = "/data/kb.json"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for knowledge path without embedding deployment")
	}

	cfg.Azure.EmbeddingDeployment = "embed"
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_PathsMustBeRooted(t *testing.T) {
	cfg := Defaults()
	cfg.Server.MediaPath = "media"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for relative media path")
	}
}

func TestValidate_LogLevels(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "error"} {
		cfg := Defaults()
		cfg.General.LogLevel = level
		if err := Validate(cfg); err != nil {
			t.Fatalf("logLevel %q should be valid: %v", level, err)
		}
	}

	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_Set(t *testing.T) {
	t.Setenv("VB_TEST_TOKEN", "secret123")
	out := ExpandEnvVars(`{"token":"${VB_TEST_TOKEN}"}`)
	if out != `{"token":"secret123"}` {
		t.Errorf("unexpected expansion: %s", out)
	}
}

func TestExpandEnvVars_Default(t *testing.T) {
	os.Unsetenv("VB_TEST_MISSING")
	out := ExpandEnvVars(`${VB_TEST_MISSING:-fallback}`)
	if out != "fallback" {
		t.Errorf("expected fallback, got %s", out)
	}
}

func TestExpandEnvVars_EmptyDefault(t *testing.T) {
	os.Unsetenv("VB_TEST_MISSING")
	out := ExpandEnvVars("x${VB_TEST_MISSING:-}y")
	if out != "xy" {
		t.Errorf("expected empty default to resolve to empty string, got %q", out)
	}
}

func TestExpandEnvVars_UnsetNoDefault(t *testing.T) {
	os.Unsetenv("VB_TEST_MISSING")
	out := ExpandEnvVars("${VB_TEST_MISSING}")
	if out != "${VB_TEST_MISSING}" {
		t.Errorf("expected original reference kept, got %s", out)
	}
}

// --- Load ---

func TestLoad_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{
		"server": {"port": 8081, "publicBaseUrl": "https://bot.example.com/"},
		"whatsapp": {"verifyToken": "vt", "accessToken": "at", "phoneNumberId": "123"}
	}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8081 {
		t.Errorf("expected port 8081, got %d", cfg.Server.Port)
	}
	if cfg.Server.PublicBaseURL != "https://bot.example.com" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Server.PublicBaseURL)
	}
	// Defaults survive partial configs.
	if cfg.Cache.TTLSeconds != 300 {
		t.Errorf("expected default TTL 300, got %d", cfg.Cache.TTLSeconds)
	}
	if cfg.WhatsApp.GraphVersion != "v20.0" {
		t.Errorf("expected default graph version, got %s", cfg.WhatsApp.GraphVersion)
	}
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := "server:\n  port: 9000\nazure:\n  voice: nova\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Azure.Voice != "nova" {
		t.Errorf("expected voice nova, got %s", cfg.Azure.Voice)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("VB_TEST_ACCESS", "tok-abc")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{"whatsapp": {"accessToken": "${VB_TEST_ACCESS}"}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WhatsApp.AccessToken != "tok-abc" {
		t.Errorf("expected env-expanded token, got %s", cfg.WhatsApp.AccessToken)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// --- MissingRequired ---

func TestMissingRequired_Defaults(t *testing.T) {
	cfg := Defaults()
	missing := cfg.MissingRequired()
	if len(missing) == 0 {
		t.Fatal("defaults should be missing all credentials")
	}
	joined := strings.Join(missing, ",")
	for _, key := range []string{"whatsapp.verifyToken", "azure.apiKey", "server.publicBaseUrl"} {
		if !strings.Contains(joined, key) {
			t.Errorf("expected %s in missing list", key)
		}
	}
}

func TestMissingRequired_Complete(t *testing.T) {
	cfg := Defaults()
	cfg.WhatsApp.VerifyToken = "vt"
	cfg.WhatsApp.AccessToken = "at"
	cfg.WhatsApp.PhoneNumberID = "123"
	cfg.Server.PublicBaseURL = "https://bot.example.com"
	cfg.Azure.Endpoint = "https://res.openai.azure.com"
	cfg.Azure.APIKey = "key"
	cfg.Azure.ChatDeployment = "gpt"
	cfg.Azure.TranscribeDeployment = "whisper"
	cfg.Azure.SpeechDeployment = "tts"

	if missing := cfg.MissingRequired(); len(missing) != 0 {
		t.Errorf("expected nothing missing, got %v", missing)
	}
}
