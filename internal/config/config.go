package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for voicebridge.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp" yaml:"whatsapp"`
	Azure     AzureConfig     `json:"azure" yaml:"azure"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Journal   JournalConfig   `json:"journal" yaml:"journal"`
	Knowledge KnowledgeConfig `json:"knowledge" yaml:"knowledge"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
}

type ServerConfig struct {
	Host          string        `json:"host" yaml:"host"`
	Port          int           `json:"port" yaml:"port"`
	PublicBaseURL string        `json:"publicBaseUrl" yaml:"publicBaseUrl"`
	WebhookPath   string        `json:"webhookPath" yaml:"webhookPath"`
	MediaPath     string        `json:"mediaPath" yaml:"mediaPath"`
	Metrics       MetricsConfig `json:"metrics" yaml:"metrics"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// WhatsAppConfig carries the Cloud API credentials. AppSecret is optional;
// when set, webhook deliveries must carry a valid X-Hub-Signature-256.
type WhatsAppConfig struct {
	VerifyToken   string `json:"verifyToken" yaml:"verifyToken"`
	AccessToken   string `json:"accessToken" yaml:"accessToken"`
	PhoneNumberID string `json:"phoneNumberId" yaml:"phoneNumberId"`
	AppSecret     string `json:"appSecret,omitempty" yaml:"appSecret,omitempty"`
	GraphVersion  string `json:"graphVersion" yaml:"graphVersion"`
	// DefaultRecipient is the number the push command targets when no
	// explicit recipient is given.
	DefaultRecipient string `json:"defaultRecipient,omitempty" yaml:"defaultRecipient,omitempty"`
}

// AzureConfig configures the Azure OpenAI backend: one resource endpoint,
// three deployments.
type AzureConfig struct {
	Endpoint             string  `json:"endpoint" yaml:"endpoint"`
	APIKey               string  `json:"apiKey" yaml:"apiKey"`
	APIVersion           string  `json:"apiVersion" yaml:"apiVersion"`
	ChatDeployment       string  `json:"chatDeployment" yaml:"chatDeployment"`
	TranscribeDeployment string  `json:"transcribeDeployment" yaml:"transcribeDeployment"`
	SpeechDeployment     string  `json:"speechDeployment" yaml:"speechDeployment"`
	EmbeddingDeployment  string  `json:"embeddingDeployment,omitempty" yaml:"embeddingDeployment,omitempty"`
	Voice                string  `json:"voice" yaml:"voice"`
	Format               string  `json:"format" yaml:"format"`
	SystemPrompt         string  `json:"systemPrompt" yaml:"systemPrompt"`
	FallbackReply        string  `json:"fallbackReply" yaml:"fallbackReply"`
	Temperature          float64 `json:"temperature" yaml:"temperature"`
}

type CacheConfig struct {
	TTLSeconds int `json:"ttlSeconds" yaml:"ttlSeconds"`
}

type JournalConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DBPath  string `json:"dbPath" yaml:"dbPath"`
}

// KnowledgeConfig enables knowledge-grounded text answers. When Path names
// a document file, it is embedded at startup and text questions are
// answered from it when possible, with plain generation as the fallback.
type KnowledgeConfig struct {
	Path          string `json:"path,omitempty" yaml:"path,omitempty"`
	GreetingReply string `json:"greetingReply,omitempty" yaml:"greetingReply,omitempty"`
}

// DefaultConfigDir returns the default config directory (~/.voicebridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".voicebridge"
	}
	return filepath.Join(home, ".voicebridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a config file (JSON or YAML by extension), expands environment
// variable references, applies defaults and validates ranges.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Journal.DBPath = ExpandPath(cfg.Journal.DBPath)
	cfg.Knowledge.Path = ExpandPath(cfg.Knowledge.Path)
	cfg.Server.PublicBaseURL = strings.TrimRight(cfg.Server.PublicBaseURL, "/")
	cfg.Azure.Endpoint = strings.TrimRight(cfg.Azure.Endpoint, "/")

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty; ${VAR:-} resolves to the empty string.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		// The capture group is empty both for ${VAR} and ${VAR:-}; only the
		// separator tells them apart.
		hasDefault := strings.Contains(match, ":-")
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

// Save writes the config as indented JSON, creating the directory if needed.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values. Missing credentials are
// not validation errors; see MissingRequired.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		errs = append(errs, "server.webhookPath must start with /")
	}
	if !strings.HasPrefix(cfg.Server.MediaPath, "/") {
		errs = append(errs, "server.mediaPath must start with /")
	}
	if cfg.Cache.TTLSeconds < 1 {
		errs = append(errs, "cache.ttlSeconds must be >= 1")
	}
	if cfg.Azure.Temperature < 0 || cfg.Azure.Temperature > 2 {
		errs = append(errs, "azure.temperature must be between 0 and 2")
	}
	if cfg.Azure.FallbackReply == "" {
		errs = append(errs, "azure.fallbackReply must not be empty")
	}
	if cfg.Knowledge.Path != "" && cfg.Azure.EmbeddingDeployment == "" {
		errs = append(errs, "knowledge.path requires azure.embeddingDeployment")
	}
	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// MissingRequired lists the settings that must be present before the server
// can serve traffic. The serve command refuses to start while any are
// missing so that absent credentials fail at startup, not at request time.
func (c *Config) MissingRequired() []string {
	var missing []string
	check := func(key, val string) {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, key)
		}
	}
	check("whatsapp.verifyToken", c.WhatsApp.VerifyToken)
	check("whatsapp.accessToken", c.WhatsApp.AccessToken)
	check("whatsapp.phoneNumberId", c.WhatsApp.PhoneNumberID)
	check("server.publicBaseUrl", c.Server.PublicBaseURL)
	check("azure.endpoint", c.Azure.Endpoint)
	check("azure.apiKey", c.Azure.APIKey)
	check("azure.chatDeployment", c.Azure.ChatDeployment)
	check("azure.transcribeDeployment", c.Azure.TranscribeDeployment)
	check("azure.speechDeployment", c.Azure.SpeechDeployment)
	return missing
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
