// Package main is the entry point for the inbound email routing engine.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pitampoudel/email-router/internal/config"
	"github.com/pitampoudel/email-router/internal/deliver"
	"github.com/pitampoudel/email-router/internal/forward"
	"github.com/pitampoudel/email-router/internal/parser"
	"github.com/pitampoudel/email-router/internal/route"
	"github.com/pitampoudel/email-router/internal/slack"
	"github.com/pitampoudel/email-router/internal/smtp"
	smtptls "github.com/pitampoudel/email-router/internal/tls"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging.Level)
	logger := slog.Default()

	tlsConfig, err := smtptls.Load(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		logger.Error("failed to setup TLS", "error", err)
		os.Exit(1)
	}

	routesJSON, err := cfg.RoutesJSON()
	if err != nil {
		// A broken routes source degrades to the catch-all path, same as
		// malformed JSON.
		logger.Warn("could not load routing table, using empty table", "error", err)
	}
	routes := route.ParseTable(routesJSON)
	logger.Info("routing table loaded", "entries", len(routes))

	relay := selectRelay(cfg, logger)

	chatClient := newChatClient(cfg, logger)
	scheduler := deliver.NewWaitScheduler()

	orchestrator := deliver.New(deliver.Config{
		Routes:          routes,
		Forwarder:       forward.NewDeliverer(logger),
		Chat:            chatClient,
		Targets:         slack.NewTargetResolver(chatClient, logger),
		Uploader:        slack.NewUploader(chatClient, logger),
		Scheduler:       scheduler,
		Parse:           parser.Parse,
		CatchAllChannel: cfg.Slack.CatchAllChannel,
		Logger:          logger,
	})

	server := smtp.New(smtp.ServerConfig{
		ListenAddr:     cfg.SMTP.Listen,
		Hostname:       cfg.SMTP.Hostname,
		Handler:        orchestrator,
		Relay:          relay,
		MaxMessageSize: cfg.SMTP.MaxMessageSize,
		TLSConfig:      tlsConfig,
	})

	logger.Info("starting email-router",
		"listen", cfg.SMTP.Listen,
		"catch_all_channel", cfg.Slack.CatchAllChannel,
		"slack_configured", cfg.SlackConfigured(),
		"ses_configured", cfg.SESConfigured(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	if err := server.ListenAndServe(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	// Detached chat deliveries may still be running after the listener
	// closes; let them finish before exiting.
	scheduler.Wait()
	logger.Info("email-router stopped")
}

// loadConfig loads configuration from the specified path (YAML + env
// override) or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// selectRelay builds the forward relay, or leaves forwarding disabled when
// SES is not configured. Forward routes then fail per-target but inbound
// mail is still accepted and chat routes keep working.
func selectRelay(cfg *config.Config, logger *slog.Logger) forward.Relay {
	if !cfg.SESConfigured() {
		logger.Warn("SES not configured, forward routes will not be deliverable")
		return nil
	}

	relay, err := forward.NewSESRelay(context.Background(), forward.SESRelayConfig{
		Region:          cfg.SES.Region,
		AccessKeyID:     cfg.SES.AccessKeyID,
		SecretAccessKey: cfg.SES.SecretAccessKey,
	})
	if err != nil {
		logger.Error("failed to create SES relay", "error", err)
		os.Exit(1)
	}
	logger.Info("using AWS SES forward relay", "region", cfg.SES.Region)
	return relay
}

// newChatClient builds the Slack API client, honoring a base URL override.
func newChatClient(cfg *config.Config, logger *slog.Logger) *slack.Client {
	if !cfg.SlackConfigured() {
		logger.Warn("no Slack token configured, chat deliveries will fail")
	}
	if cfg.Slack.APIBaseURL != "" {
		return slack.NewClientWithBaseURL(cfg.Slack.Token, cfg.Slack.APIBaseURL, logger)
	}
	return slack.NewClient(cfg.Slack.Token, logger)
}
