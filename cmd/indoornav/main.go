package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"indoornav/internal/config"
	"indoornav/internal/logging"
)

func main() {
	var configPath string
	var summarizePath string
	flag.StringVar(&configPath, "config", "./dev.yaml", "Path to YAML config")
	flag.StringVar(&summarizePath, "summarize", "", "Print a summary of a sensor log and exit")
	flag.Parse()

	if summarizePath != "" {
		if err := printLogSummary(os.Stdout, summarizePath); err != nil {
			fmt.Fprintf(os.Stderr, "summarize failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	tail := logging.NewTail(cfg.Log.TailLines)
	log := logging.Init(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Extra: tail})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, tail)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer rt.Close()

	log.Info("indoornav starting", "config", configPath, "store", cfg.Store.Path, "feed", rt.feedName())
	if err := rt.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("runtime stopped", "err", err)
		rt.Close()
		os.Exit(1)
	}
	log.Info("indoornav stopping")
}
