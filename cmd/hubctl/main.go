package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/chatctl/internal/config"
	"github.com/danmuck/chatctl/internal/hub"
	"github.com/danmuck/chatctl/internal/logging"
	"github.com/danmuck/chatctl/internal/observability"
)

func main() {
	cfgPath := flag.String("config", "", "path to hub config (optional)")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "hubctl: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg := config.HubConfig{App: "hubctl", Addr: ":9300"}
	if cfgPath != "" {
		loaded, err := config.LoadHubConfig(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logging.ConfigureRuntime()
	logger := observability.InitLogger(cfg.App)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := hub.NewService(cfg.Addr, cfg.HubConfig(), logger)
	return svc.Run(ctx)
}
