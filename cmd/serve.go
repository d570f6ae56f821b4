package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/spf13/cobra"

	"github.com/atlasworld/atlas/internal/api"
	"github.com/atlasworld/atlas/internal/archivist"
	"github.com/atlasworld/atlas/internal/config"
	"github.com/atlasworld/atlas/internal/database"
	"github.com/atlasworld/atlas/internal/observability"
	"github.com/atlasworld/atlas/internal/session"
	"github.com/atlasworld/atlas/internal/world"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe wires configuration, storage, the model runtime and the
// HTTP server, then blocks until SIGINT/SIGTERM.
func runServe() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Tracing must be installed before genkit.Init so the span
	// processor attaches to Genkit's tracer provider.
	if cfg.TracingEnabled {
		shutdown, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.OTLPEndpoint,
			Environment: cfg.Environment,
			ServiceName: cfg.ServiceName,
		})
		if err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("tracing shutdown error", "error", err)
			}
		}()
	}

	pool, closePool, err := database.Open(ctx, cfg.PostgresURL())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer closePool()

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return errors.New("initializing genkit with gemini provider")
	}
	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)

	sessions := session.NewStore(session.NewPGQuerier(pool), logger.With("component", "session"))
	worldStore := world.NewStore(world.NewPGQuerier(pool), embedder, logger.With("component", "world"))

	a, err := archivist.New(archivist.Config{
		Genkit:          g,
		Sessions:        sessions,
		World:           worldStore,
		Similar:         worldStore,
		Logger:          logger.With("component", "archivist"),
		ModelName:       cfg.ModelName,
		Temperature:     cfg.Temperature,
		MaxToolRounds:   cfg.MaxToolRounds,
		ToolTimeout:     time.Duration(cfg.ToolTimeoutSeconds) * time.Second,
		CommitThreshold: cfg.CommitThreshold,
	})
	if err != nil {
		return fmt.Errorf("creating archivist: %w", err)
	}

	logger.Info("atlas ready", "model", cfg.ModelName, "addr", cfg.ListenAddr)
	return api.NewServer(a, worldStore, pool, logger).Run(ctx, cfg.ListenAddr)
}
