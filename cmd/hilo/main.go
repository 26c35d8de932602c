package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/hilo/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file (empty: defaults + env)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print the full game table on every change (default: compact 1-line)")
	cmd := flag.String("cmd", "serve", "serve | state | history | approve | buy | sell | queue")
	token := flag.String("token", "lo", "token for buy/sell/queue: hi|lo")
	count := flag.Uint64("count", 1, "tokens to buy: 1 or 3")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("hilo starting",
		"config", *configPath,
		"cmd", *cmd,
		"chain", cfg.Chain.ID,
		"contract", cfg.Chain.Contract,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, *table || *cmd != "serve")
	if err != nil {
		slog.Error("failed to start", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	if *cmd == "serve" {
		err = a.serve(ctx)
	} else {
		err = a.runOnce(ctx, *cmd, *token, *count)
	}
	if err != nil {
		slog.Error("hilo exited with error", "err", err)
		a.Close()
		os.Exit(1)
	}

	slog.Info("hilo stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
