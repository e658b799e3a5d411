package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stwalsh4118/appraisal/internal/config"
	"github.com/stwalsh4118/appraisal/internal/database"
	"github.com/stwalsh4118/appraisal/internal/logger"
	"github.com/stwalsh4118/appraisal/internal/metrics"
	"github.com/stwalsh4118/appraisal/internal/repository"
	"github.com/stwalsh4118/appraisal/internal/services"
)

// commandContext lazily opens the resources a subcommand needs.
type commandContext struct {
	cfg     *config.Config
	db      *database.Database
	log     *logger.Logger
	verbose *bool
}

func newCommandContext(verbose *bool) *commandContext {
	return &commandContext{verbose: verbose}
}

func (c *commandContext) config() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	c.cfg = cfg
	return cfg, nil
}

// logger writes to stderr so table output on stdout stays clean. Only
// --verbose enables it.
func (c *commandContext) logger(cmd *cobra.Command) *logger.Logger {
	if c.log == nil {
		if c.verbose == nil || !*c.verbose {
			c.log = logger.Nop()
		} else {
			c.log = logger.NewWithWriter("development", cmd.ErrOrStderr())
		}
	}
	return c.log
}

func (c *commandContext) database(ctx context.Context) (*database.Database, error) {
	if c.db != nil {
		return c.db, nil
	}
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	db, err := database.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to %s:%s/%s: %w", cfg.Database.Host, cfg.Database.Port, cfg.Database.Name, err)
	}
	c.db = db
	return db, nil
}

func (c *commandContext) service(cmd *cobra.Command) (services.ReconciliationService, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	db, err := c.database(cmd.Context())
	if err != nil {
		return nil, err
	}
	return services.NewReconciliationService(services.Dependencies{
		Properties: repository.NewPropertyRepository(db),
		Jobs:       repository.NewJobRepository(db),
		HPI:        repository.NewHPIRepository(db),
		Reports:    repository.NewReportRepository(db),
		Metrics:    metrics.New(metrics.Config{}),
		Log:        c.logger(cmd),
		Config:     cfg.Reconcile,
	}), nil
}

func (c *commandContext) close() {
	if c.db != nil {
		c.db.Close()
		c.db = nil
	}
}

func newRootCommand() *cobra.Command {
	var verbose bool
	ctx := newCommandContext(&verbose)

	rootCmd := &cobra.Command{
		Use:           "reconcile",
		Short:         "Property reconciliation operator CLI",
		Long:          "Apply the schema, dry-run an upload diff and inspect comparison reports. Database settings come from the same environment variables as the server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity to stderr")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newDiffCommand(ctx))
	rootCmd.AddCommand(newReportsCommand(ctx))

	return rootCmd
}
