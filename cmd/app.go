package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"pdf-rag/internal/chunker"
	"pdf-rag/internal/config"
	"pdf-rag/internal/embedding"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/llmservice"
	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/rag"
	"pdf-rag/internal/server"
	"pdf-rag/internal/store"
)

// app holds what every command needs.
type app struct {
	cfg   *config.Config
	store store.ChunkStore
	rag   *rag.RAG
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := setupLogger(cfg.Log); err != nil {
		return nil, err
	}
	log.Debug().Interface("rag", cfg.RAG).Interface("server", cfg.Server).Msg("Loaded config")
	return cfg, nil
}

func setupLogger(cfg config.LogConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return fmt.Errorf("%w: LOG_LEVEL: %v", models.ErrInvalidParameters, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
	}
	return nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	splitter, err := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	embedder, err := embedding.New(&cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	llm, err := llmservice.New(&cfg.ChatLLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm: %w", err)
	}

	storeCtx := ctx
	if cfg.Database.Timeout > 0 {
		var cancel context.CancelFunc
		storeCtx, cancel = context.WithTimeout(ctx, cfg.Database.Timeout)
		defer cancel()
	}
	s, err := store.Open(storeCtx, &cfg.Database, embedder.Dimension())
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk store: %w", err)
	}

	return &app{
		cfg:   cfg,
		store: s,
		rag:   rag.NewRAG(parser.New(), splitter, embedder, s, llm, rag.OptionsFromConfig(cfg)),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing chunk store")
	}
}

func withApp(ctx context.Context, cmd *cli.Command, fn func(*app) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(a *app) error {
		addr := a.cfg.Server.Addr
		if v := cmd.String("addr"); v != "" {
			addr = v
		}
		return server.New(a.rag, a.cfg.Server.MaxUploadBytes).ListenAndServe(ctx, addr)
	})
}

func ingestAction(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("%w: at least one file is required", models.ErrInvalidParameters)
	}
	if cmd.Bool("dry-run") {
		return dryRun(cmd, paths)
	}

	return withApp(ctx, cmd, func(a *app) error {
		var results []models.UploadResponse
		for _, path := range paths {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			res, err := a.rag.Ingest(ctx, path, content)
			if err != nil {
				return err
			}
			results = append(results, models.UploadResponse{
				Status:   "uploaded",
				Chunks:   res.Chunks,
				Source:   res.Source,
				IngestID: res.IngestID,
			})
		}
		return helper.PrettyPrint(os.Stdout, results)
	})
}

// dryRun prints the chunks a file would produce without touching any service.
func dryRun(cmd *cli.Command, paths []string) error {
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := setupLogger(cfg.Log); err != nil {
		return err
	}
	splitter, err := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		return err
	}
	p := parser.New()
	for _, path := range paths {
		docs, err := p.ParseFile(path)
		if err != nil {
			return err
		}
		if err := helper.PrettyPrint(os.Stdout, splitter.SplitDocuments(docs)); err != nil {
			return err
		}
	}
	return nil
}

func queryAction(ctx context.Context, cmd *cli.Command) error {
	question := strings.Join(cmd.Args().Slice(), " ")
	return withApp(ctx, cmd, func(a *app) error {
		resp, err := a.rag.Query(ctx, question)
		if err != nil {
			return err
		}
		return helper.PrettyPrint(os.Stdout, resp)
	})
}

func summarizeAction(ctx context.Context, cmd *cli.Command) error {
	source := cmd.Args().First()
	return withApp(ctx, cmd, func(a *app) error {
		resp, err := a.rag.Summarize(ctx, source)
		if err != nil {
			return err
		}
		return helper.PrettyPrint(os.Stdout, resp)
	})
}
