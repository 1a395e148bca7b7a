package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func newCommand() *cli.Command {
	envFlag := &cli.StringFlag{
		Name:  "env",
		Usage: "path of the environment file",
		Value: ".env",
	}

	return &cli.Command{
		Name:  "pdf-rag",
		Usage: "answer questions from uploaded PDF documents",
		Flags: []cli.Flag{envFlag},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "addr", Usage: "listen address, overrides HTTP_ADDR"}},
				Action: serveAction,
			},
			{
				Name:      "ingest",
				Usage:     "parse, embed and store documents",
				ArgsUsage: "<file>...",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "dry-run", Usage: "parse and chunk only, do not embed or store"},
				},
				Action: ingestAction,
			},
			{
				Name:      "query",
				Usage:     "answer a question from the stored documents",
				ArgsUsage: "<question>",
				Action:    queryAction,
			},
			{
				Name:      "summarize",
				Usage:     "summarize a stored document",
				ArgsUsage: "<file>",
				Action:    summarizeAction,
			},
		},
	}
}
