package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/digkill/msai-studio/internal/config"
	"github.com/digkill/msai-studio/internal/database"
	"github.com/digkill/msai-studio/pkg/logger"
)

// commandContext loads configuration once per invocation.
type commandContext struct {
	cfg *config.Config
	log zerolog.Logger
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	if c.cfg != nil {
		return *c.cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config: %w", err)
	}
	c.cfg = &cfg
	c.log = logger.New(cfg.Development())
	return cfg, nil
}

// openDatabase connects and applies the schema.
func (c *commandContext) openDatabase(ctx context.Context) (*sql.DB, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("database connect: %w", err)
	}
	if err := database.Migrate(ctx, db, cfg.DatabaseDriver); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migrate: %w", err)
	}
	return db, nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "studio",
		Short:         "MSAI studio API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newPromoteCommand(ctx))
	return rootCmd
}
