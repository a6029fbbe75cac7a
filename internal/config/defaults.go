package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        3000,
			WebhookPath: "/webhook",
			MediaPath:   "/media",
			Metrics: MetricsConfig{
				Enabled:  false,
				Endpoint: "/metrics",
			},
		},
		WhatsApp: WhatsAppConfig{
			GraphVersion: "v20.0",
		},
		Azure: AzureConfig{
			APIVersion:    "2025-04-01-preview",
			Voice:         "alloy",
			Format:        "mp3",
			SystemPrompt:  "You are a helpful WhatsApp assistant. Keep replies concise.",
			FallbackReply: "Sorry, I could not generate a response.",
			Temperature:   0.3,
		},
		Cache: CacheConfig{
			TTLSeconds: 300,
		},
		Journal: JournalConfig{
			Enabled: true,
			DBPath:  "~/.voicebridge/journal.db",
		},
	}
}
