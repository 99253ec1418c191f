package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MegaGrindStone/authentifi"
	"github.com/MegaGrindStone/authentifi/internal/handlers"
	"github.com/MegaGrindStone/authentifi/internal/services"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
)

const sweepInterval = time.Minute

type flags struct {
	ConfigPath string
	Port       string
	LogLevel   string
	LogFormat  string
}

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	f := &flags{}

	app := &cli.Command{
		Name:  "authentifi",
		Usage: "Research assistant chat server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("AUTHENTIFI_CONFIG"),
				Value:       "config.yaml",
				Destination: &f.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "port",
				Usage:       "port to listen on, overrides the config file",
				Sources:     cli.EnvVars("AUTHENTIFI_PORT", "PORT"),
				Destination: &f.Port,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("AUTHENTIFI_LOG_LEVEL"),
				Value:       "info",
				Destination: &f.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "log format (text, json)",
				Sources:     cli.EnvVars("AUTHENTIFI_LOG_FORMAT"),
				Value:       "text",
				Destination: &f.LogFormat,
			},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			logger, err := newLogger(f.LogLevel, f.LogFormat)
			if err != nil {
				return err
			}
			return run(ctx, f, logger)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

func run(ctx context.Context, f *flags, logger *slog.Logger) error {
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	if f.Port != "" {
		cfg.Port = f.Port
	}

	gateway, err := cfg.LLM.gateway(cfg.SystemPrompt, logger)
	if err != nil {
		return fmt.Errorf("error creating llm gateway: %w", err)
	}

	m, err := handlers.NewMain(
		gateway,
		services.NewResearchAnalytics(),
		func() handlers.TopicStore { return services.NewTopicStore(nil) },
		handlers.SessionConfig{
			TTL:               cfg.SessionTTL,
			MessagesPerMinute: cfg.RateLimit.PerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		logger,
	)
	if err != nil {
		return fmt.Errorf("error creating handlers: %w", err)
	}

	// Serve static files
	staticFS, err := fs.Sub(authentifi.StaticFS, "static")
	if err != nil {
		return err
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", handlers.Instrument("home", m.HandleHome))
	mux.HandleFunc("/topics", handlers.Instrument("topics_create", m.HandleCreateTopic))
	mux.HandleFunc("/topics/select", handlers.Instrument("topics_select", m.HandleSelectTopic))
	mux.HandleFunc("/topics/delete", handlers.Instrument("topics_delete", m.HandleDeleteTopic))
	mux.HandleFunc("/topics/cancel", handlers.Instrument("topics_cancel", m.HandleCancelStream))
	mux.HandleFunc("/topics/state", handlers.Instrument("topics_state", m.HandleTopicState))
	mux.HandleFunc("/messages", handlers.Instrument("messages", m.HandleMessages))
	mux.HandleFunc("/sse", handlers.Instrument("sse", m.HandleSSE))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go m.Sweep(sweepCtx, sweepInterval)

	srv.RegisterOnShutdown(func() {
		stopSweep()
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				return fmt.Errorf("forcing server close: %w", err)
			}
		}
	}
	return nil
}
