// Package cli wires configuration, logging and the catalogue into the portal and mock API
// commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/expressiv/approvaldesk/internal/clientapp"
	"github.com/expressiv/approvaldesk/internal/config"
	"github.com/expressiv/approvaldesk/internal/docflow"
	"github.com/expressiv/approvaldesk/internal/logging"
	"github.com/expressiv/approvaldesk/internal/lookupcache"
	"github.com/expressiv/approvaldesk/internal/mockapi"
)

type options struct {
	configPath string
	envPath    string
	verbose    bool
}

// Execute runs the command line with args (without the program name).
func Execute(args []string) error {
	cmd := NewRootCommand(os.Stdout)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "approvaldesk",
		Short:        "Document approval portal for the finance backend",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "approvaldesk.yaml", "path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.envPath, "env-file", ".env", "path to the .env file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newSetupCommand(opts),
		newRunCommand(opts),
		newSeedCommand(opts),
		newCatalogCommand(opts),
	)
	return root
}

// loadConfig reads .env into the environment and then the merged config.
func (o *options) loadConfig() (config.Config, error) {
	if err := config.LoadDotEnv(o.envPath); err != nil {
		return config.Config{}, fmt.Errorf("load %s: %w", o.envPath, err)
	}
	return config.Load(o.configPath)
}

func (o *options) load() (config.Config, *zap.Logger, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(o.verbose, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "run portal|mockapi|all",
		Short:     "Start the portal, the mock API or both",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"portal", "mockapi", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			switch args[0] {
			case "portal":
				return runPortal(ctx, cfg, logger)
			case "mockapi":
				return runMockAPI(ctx, cfg, logger)
			default:
				return runAll(ctx, cfg, logger)
			}
		},
	}
}

func loadCatalog(cfg config.Config) (*docflow.Catalog, error) {
	return docflow.LoadCatalog(cfg.Portal.CatalogPath)
}

func runPortal(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	holder := docflow.NewHolder(catalog)
	if cfg.Portal.WatchCatalog && cfg.Portal.CatalogPath != "" {
		go func() {
			if err := holder.Watch(ctx, cfg.Portal.CatalogPath, logger.Named("catalog")); err != nil {
				logger.Warn("catalog watch stopped", zap.Error(err))
			}
		}()
	}

	var cache lookupcache.Cache = lookupcache.NewMemory()
	if cfg.Portal.RedisURL != "" {
		redisCache, err := lookupcache.DialRedis(ctx, cfg.Portal.RedisURL, "approvaldesk:")
		if err != nil {
			return err
		}
		defer func() { _ = redisCache.Close() }()
		cache = redisCache
	}

	p := cfg.Portal
	err = clientapp.Run(ctx, clientapp.Config{
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
		Logger:  logger.Named("portal"),
		Catalog: holder,
		Cache:   cache,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runMockAPI(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	if err := ensureParentDirs(cfg.MockAPI.DBPath); err != nil {
		return err
	}
	m := cfg.MockAPI
	err = mockapi.Run(ctx, mockapi.Config{
		Addr:         m.Addr,
		DBPath:       m.DBPath,
		JWTSecret:    m.JWTSecret,
		TokenTTL:     m.TokenTTL,
		Demo:         m.Demo,
		DemoPassword: m.DemoPassword,
	}, catalog, logger.Named("mockapi"))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runAll(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)

	go func() { errCh <- runMockAPI(ctx, cfg, logger) }()
	go func() {
		time.Sleep(500 * time.Millisecond)
		errCh <- runPortal(ctx, cfg, logger)
	}()

	var firstErr error
	for i := 0; i < 2; i++ {
		err := <-errCh
		if err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}

func ensureParentDirs(paths ...string) error {
	for _, p := range paths {
		dir := filepath.Dir(p)
		if dir == "." || dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
