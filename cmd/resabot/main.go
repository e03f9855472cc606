package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gaultierq/n8n-resamania/internal/config"
	"github.com/gaultierq/n8n-resamania/internal/engine"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to bot configuration file")
	once := flag.Bool("once", false, "Run a single booking pass and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *once {
		cfg.Schedule.Interval = config.Duration{}
	}

	eng, err := engine.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise engine: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := eng.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "bot stopped with error: %v\n", err)
		eng.Close()
		os.Exit(1)
	}
}
