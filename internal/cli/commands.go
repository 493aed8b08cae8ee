package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/expressiv/approvaldesk/internal/config"
	"github.com/expressiv/approvaldesk/internal/docflow"
	"github.com/expressiv/approvaldesk/internal/mockapi"
	"github.com/expressiv/approvaldesk/internal/security"
)

func newSetupCommand(opts *options) *cobra.Command {
	var (
		apiBaseURL   string
		demoPassword string
		jwtSecret    string
		force        bool
	)
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Write a .env file for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := security.HashPassword(demoPassword); err != nil {
				return fmt.Errorf("invalid demo password: %w", err)
			}
			if jwtSecret == "" {
				jwtSecret = strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
			}
			values := map[string]string{
				"PORTAL_ADDR":           ":3000",
				"API_BASE_URL":          apiBaseURL,
				"MOCKAPI_ADDR":          ":8080",
				"MOCKAPI_DB_PATH":       "data/mockapi.db",
				"MOCKAPI_JWT_SECRET":    jwtSecret,
				"MOCKAPI_DEMO_PASSWORD": demoPassword,
			}
			if err := config.WriteDotEnv(opts.envPath, values, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.envPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&apiBaseURL, "api-base-url", "http://localhost:8080", "backend base URL the portal calls")
	cmd.Flags().StringVar(&demoPassword, "demo-password", "approvaldesk-demo", "password for the mock API demo users (min 12 chars)")
	cmd.Flags().StringVar(&jwtSecret, "jwt-secret", "", "mock API signing secret (generated when empty)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing env file")
	return cmd
}

func newSeedCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE...",
		Short: "Import users or documents from .xlsx/.xls sheets into the mock API database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}
			if err := ensureParentDirs(cfg.MockAPI.DBPath); err != nil {
				return err
			}
			res, err := mockapi.SeedFiles(cmd.Context(), cfg.MockAPI.DBPath, catalog, args...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d users, %d documents, %d departments into %s\n",
				res.Users, res.Documents, res.Departments, cfg.MockAPI.DBPath)
			return nil
		},
	}
}

func newCatalogCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the document kind catalogue",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate [FILE]",
			Short: "Check a catalogue file",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				catalog, err := catalogFromArgs(opts, args)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "catalog ok: %d kinds\n", len(catalog.Entries))
				return nil
			},
		},
		&cobra.Command{
			Use:   "print [FILE]",
			Short: "Print the effective catalogue as YAML",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				catalog, err := catalogFromArgs(opts, args)
				if err != nil {
					return err
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(catalog); err != nil {
					return err
				}
				return enc.Close()
			},
		},
	)
	return cmd
}

// catalogFromArgs prefers an explicit file, which must exist, over the configured one.
func catalogFromArgs(opts *options, args []string) (*docflow.Catalog, error) {
	if len(args) == 1 {
		if strings.TrimSpace(args[0]) == "" {
			return nil, errors.New("catalog path is empty")
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return nil, err
		}
		return docflow.ParseCatalog(data)
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	return loadCatalog(cfg)
}
