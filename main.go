package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/chirino/recall-service/internal/cmd/migrate"
	"github.com/chirino/recall-service/internal/cmd/prune"
	"github.com/chirino/recall-service/internal/cmd/serve"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "recall-service",
		Usage: "Session memory storage and retrieval service for AI agents",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
			prune.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
