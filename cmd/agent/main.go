package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/uploadkeeper/internal/agent"
	"github.com/dmitrijs2005/uploadkeeper/internal/buildinfo"
	"github.com/dmitrijs2005/uploadkeeper/internal/config"
	"github.com/dmitrijs2005/uploadkeeper/internal/logging"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	cfg, err := config.LoadConfig(args)
	if err != nil {
		log.Fatalf("%v", err)
	}

	logger := logging.New(cfg.LogLevel, os.Stderr)

	app, err := agent.NewApp(ctx, cfg, args, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	runErr := app.Run(ctx)
	closeErr := app.Close()
	if runErr != nil || closeErr != nil {
		log.Printf("agent stopped with errors: run=%v close=%v", runErr, closeErr)
		os.Exit(1)
	}
}
