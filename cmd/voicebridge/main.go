package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicebridge/internal/config"
	"voicebridge/internal/domain"
	"voicebridge/internal/journal"
	"voicebridge/internal/knowledge"
	"voicebridge/internal/mediacache"
	"voicebridge/internal/pipeline"
	"voicebridge/internal/provider"
	"voicebridge/internal/server"
	"voicebridge/internal/whatsapp"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "voicebridge",
		Short: "voicebridge: WhatsApp voice and text assistant relay",
		Long:  "voicebridge bridges WhatsApp Cloud API messages to an Azure OpenAI backend,\nanswering text with text and voice notes with synthesized voice notes.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.voicebridge/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(runsCmd())
	root.AddCommand(pushCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Printf("Wrote %s\nFill in the whatsapp and azure sections, then run 'voicebridge serve'.\n", cfgPath)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("voicebridge v" + version)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server",
		Long:  "Starts the HTTP listener serving the WhatsApp webhook, the ephemeral\nmedia endpoint and the health probe. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Absent credentials fail here, not at request time.
	if missing := cfg.MissingRequired(); len(missing) > 0 {
		for _, key := range missing {
			logger.Error("missing required setting", "key", key)
		}
		return fmt.Errorf("%d required setting(s) missing; run 'voicebridge doctor'", len(missing))
	}

	logger = newLogger(cfg.General)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var recorder pipeline.RunRecorder
	if cfg.Journal.Enabled {
		store, err := journal.NewStore(cfg.Journal.DBPath, logger)
		if err != nil {
			return fmt.Errorf("journal store: %w", err)
		}
		defer store.Close()
		recorder = store
	}

	cache := mediacache.New(time.Duration(cfg.Cache.TTLSeconds)*time.Second, logger)

	client := whatsapp.NewClient(whatsapp.ClientConfig{
		Config: cfg.WhatsApp,
		Logger: logger,
	})

	chat := provider.NewChat(provider.ChatConfig{
		Endpoint:     cfg.Azure.Endpoint,
		APIKey:       cfg.Azure.APIKey,
		APIVersion:   cfg.Azure.APIVersion,
		Deployment:   cfg.Azure.ChatDeployment,
		SystemPrompt: cfg.Azure.SystemPrompt,
		Fallback:     cfg.Azure.FallbackReply,
		Temperature:  cfg.Azure.Temperature,
		Logger:       logger,
	})
	whisper := provider.NewWhisper(provider.WhisperConfig{
		Endpoint:   cfg.Azure.Endpoint,
		APIKey:     cfg.Azure.APIKey,
		APIVersion: cfg.Azure.APIVersion,
		Deployment: cfg.Azure.TranscribeDeployment,
		Logger:     logger,
	})
	speech := provider.NewSpeech(provider.SpeechConfig{
		Endpoint:   cfg.Azure.Endpoint,
		APIKey:     cfg.Azure.APIKey,
		APIVersion: cfg.Azure.APIVersion,
		Deployment: cfg.Azure.SpeechDeployment,
		Voice:      cfg.Azure.Voice,
		Format:     cfg.Azure.Format,
		Logger:     logger,
	})

	generator := buildGenerator(ctx, cfg, chat)

	dispatcher := pipeline.NewDispatcher(pipeline.DispatcherConfig{
		Sender:    client,
		Cache:     cache,
		BaseURL:   cfg.Server.PublicBaseURL,
		MediaPath: cfg.Server.MediaPath,
		Format:    cfg.Azure.Format,
		Logger:    logger,
	})

	pipe := pipeline.New(pipeline.Config{
		Generator:   generator,
		Transcriber: whisper,
		Synthesizer: speech,
		Fetcher:     client,
		Dispatcher:  dispatcher,
		Journal:     recorder,
		Logger:      logger,
		Fallback:    cfg.Azure.FallbackReply,
	})

	webhook := whatsapp.NewWebhook(whatsapp.WebhookConfig{
		VerifyToken: cfg.WhatsApp.VerifyToken,
		AppSecret:   cfg.WhatsApp.AppSecret,
		Processor:   pipe,
		Logger:      logger,
	})

	srv := server.New(server.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		WebhookPath:    cfg.Server.WebhookPath,
		MediaPath:      cfg.Server.MediaPath,
		MetricsEnabled: cfg.Server.Metrics.Enabled,
		MetricsPath:    cfg.Server.Metrics.Endpoint,
		Webhook:        webhook,
		Cache:          cache,
		Logger:         logger,
	})

	logger.Info("voicebridge started",
		"version", version,
		"publicBaseUrl", cfg.Server.PublicBaseURL,
		"journal", cfg.Journal.Enabled,
	)
	return srv.Start(ctx)
}

// buildGenerator wraps the chat adapter with the greeting shortcut and the
// knowledge index when configured. A knowledge file that fails to load is
// logged and skipped; answers then stay ungrounded rather than blocking
// startup.
func buildGenerator(ctx context.Context, cfg *config.Config, chat domain.Generator) domain.Generator {
	if cfg.Knowledge.Path == "" && cfg.Knowledge.GreetingReply == "" {
		return chat
	}

	var store *knowledge.Store
	if cfg.Knowledge.Path != "" {
		embedder := provider.NewEmbeddings(provider.EmbeddingsConfig{
			Endpoint:   cfg.Azure.Endpoint,
			APIKey:     cfg.Azure.APIKey,
			APIVersion: cfg.Azure.APIVersion,
			Deployment: cfg.Azure.EmbeddingDeployment,
			Logger:     logger,
		})

		docs, err := knowledge.LoadDocuments(cfg.Knowledge.Path)
		if err != nil {
			logger.Warn("knowledge file not loaded, answers stay ungrounded", "path", cfg.Knowledge.Path, "err", err)
		} else {
			buildCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
			store, err = knowledge.NewStore(buildCtx, embedder, docs, logger)
			cancel()
			if err != nil {
				logger.Warn("knowledge index build failed, answers stay ungrounded", "path", cfg.Knowledge.Path, "err", err)
				store = nil
			}
		}
	}

	return knowledge.NewAnswerer(knowledge.AnswererConfig{
		Base:     chat,
		Store:    store,
		Greeting: cfg.Knowledge.GreetingReply,
		Logger:   logger,
	})
}

func pushCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "push [text]",
		Short: "Send a text message to a chat directly",
		Long:  "Sends an operator-initiated text message through the Cloud API,\nindependent of any inbound webhook delivery.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.WhatsApp.AccessToken == "" || cfg.WhatsApp.PhoneNumberID == "" {
				return fmt.Errorf("whatsapp.accessToken and whatsapp.phoneNumberId must be set")
			}

			recipient := to
			if recipient == "" {
				recipient = cfg.WhatsApp.DefaultRecipient
			}
			if recipient == "" {
				return fmt.Errorf("no recipient: pass --to or set whatsapp.defaultRecipient")
			}

			client := whatsapp.NewClient(whatsapp.ClientConfig{
				Config: cfg.WhatsApp,
				Logger: logger,
			})

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := client.SendText(ctx, recipient, args[0]); err != nil {
				return fmt.Errorf("push: %w", err)
			}
			logger.Info("message pushed", "to", recipient)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient number (default: whatsapp.defaultRecipient)")
	return cmd
}

func runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent pipeline runs from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("journal is disabled in %s", cfgPath)
			}

			store, err := journal.NewStore(cfg.Journal.DBPath, logger)
			if err != nil {
				return fmt.Errorf("journal store: %w", err)
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			completed, failed, err := store.Counts(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Runs: %d completed, %d failed\n\n", completed, failed)

			recs, err := store.Recent(ctx, limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No runs recorded yet.")
				return nil
			}
			for _, rec := range recs {
				line := fmt.Sprintf("%s  %-9s %-5s %-10s %5dms",
					rec.CreatedAt.Format(time.RFC3339), rec.Status, rec.Modality, rec.Stage, rec.LatencyMs)
				if rec.Error != "" {
					line += "  " + rec.Error
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}

// newLogger builds the process logger from the general config section.
func newLogger(cfg config.GeneralConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := os.Stderr
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Warn("cannot open log file, logging to stderr", "path", cfg.LogFile, "err", err)
		} else {
			out = f
		}
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}
