package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/chatctl/internal/config"
	"github.com/danmuck/chatctl/internal/leads"
	"github.com/danmuck/chatctl/internal/logging"
	"github.com/danmuck/chatctl/internal/observability"
)

func main() {
	cfgPath := flag.String("config", "", "path to lead api config (optional)")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "leadctl: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg := config.LeadConfig{App: "leadctl", Addr: ":9400", DBPath: "data/leads.db"}
	if cfgPath != "" {
		loaded, err := config.LoadLeadConfig(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logging.ConfigureRuntime()
	logger := observability.InitLogger(cfg.App)

	store, err := leads.NewStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("store close failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := leads.NewService(cfg.Addr, cfg.App, store, logger)
	return svc.Run(ctx)
}
