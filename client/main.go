package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/expressiv/approvaldesk/internal/clientapp"
	"github.com/expressiv/approvaldesk/internal/config"
	"github.com/expressiv/approvaldesk/internal/docflow"
	"github.com/expressiv/approvaldesk/internal/logging"
)

// Portal only, configured from the environment; no mock API and no CLI.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load(os.Getenv("APPROVALDESK_CONFIG"))
	if err != nil {
		return err
	}
	logger, err := logging.New(false, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	catalog, err := docflow.LoadCatalog(cfg.Portal.CatalogPath)
	if err != nil {
		return err
	}
	p := cfg.Portal
	logger.Info("starting portal", zap.String("api", p.APIBaseURL))
	return clientapp.Run(ctx, clientapp.Config{
		Addr:               p.Addr,
		APIBaseURL:         p.APIBaseURL,
		ReadTimeout:        p.ReadTimeout,
		WriteTimeout:       p.WriteTimeout,
		UpstreamTimeout:    p.UpstreamTimeout,
		CookieSecure:       p.CookieSecure,
		PageSize:           p.PageSize,
		LookupTTL:          p.LookupTTL,
		RateLimitPerMinute: p.RateLimitPerMinute,
		RateLimitBurst:     p.RateLimitBurst,
	}, clientapp.Deps{
		Logger:  logger,
		Catalog: docflow.NewHolder(catalog),
	})
}
