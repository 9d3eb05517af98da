package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tracker-ng/internal/config"
	"tracker-ng/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./tracker.yaml", "Path to YAML config")
	flag.Parse()

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	defer rt.Close()

	log.Printf("tracker-ng starting address=%06X plan=%s", cfg.Identity.Addr, cfg.Radio.Plan)
	rt.Run(ctx, web.SettingsStore{ConfigPath: configPath}, logs)
	log.Printf("tracker-ng stopping")
}
