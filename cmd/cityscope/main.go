package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/cityscope/internal/config"
	"github.com/ajitpratap0/cityscope/internal/generator"
	"github.com/ajitpratap0/cityscope/internal/llm"
	"github.com/ajitpratap0/cityscope/internal/store"
)

var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:   "cityscope",
		Short: "cityscope — researched, sourced content pages for cities",
		Long:  "Cityscope keeps a registry of cities and fills each with generated history, landmarks, news and events, backed by web-grounded language models.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		mcpCmd(),
		generateCmd(),
		refreshCmd(),
		citiesCmd(),
		healthCmd(),
		exportCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil {
		switch cfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg != nil && cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newStore(logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMongo:
		m := cfg.Store.Mongo
		return store.NewMongoStore(m.URI, m.Database, m.Collection, logger), nil
	case config.BackendNeo4j:
		n := cfg.Store.Neo4j
		st, err := store.NewNeo4jStore(n.URI, n.Username, n.Password, n.Database, logger)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		logger.Warn("using the in-memory store; cities are lost on exit")
		return store.NewMemoryStore(), nil
	}
}

func newGenerator(ctx context.Context, st store.Store, logger *slog.Logger) (*generator.Generator, error) {
	gen, err := llm.New(ctx, llm.Options{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey(),
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
	}, logger)
	if err != nil {
		return nil, err
	}
	return generator.New(st, gen, generator.Options{
		Timeout:             cfg.Generation.Timeout,
		AllowConcurrentRuns: cfg.Generation.AllowConcurrentRuns,
	}, logger), nil
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return s
}
