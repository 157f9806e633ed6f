package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/docpipeline/internal/config"
	"github.com/vitaliisemenov/docpipeline/internal/database"
	"github.com/vitaliisemenov/docpipeline/internal/database/postgres"
	"github.com/vitaliisemenov/docpipeline/pkg/logger"
)

var migrateDownSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database schema migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, log, err := connectForMigration(cmd)
		if err != nil {
			return err
		}
		defer pool.Disconnect(cmd.Context())
		return database.RunMigrations(cmd.Context(), pool, log)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the given number of migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, log, err := connectForMigration(cmd)
		if err != nil {
			return err
		}
		defer pool.Disconnect(cmd.Context())
		return database.RunMigrationsDown(cmd.Context(), pool, migrateDownSteps, log)
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, log, err := connectForMigration(cmd)
		if err != nil {
			return err
		}
		defer pool.Disconnect(cmd.Context())
		return database.GetMigrationStatus(cmd.Context(), pool, log)
	},
}

func connectForMigration(cmd *cobra.Command) (*postgres.PostgresPool, *slog.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.NewLogger(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})

	dbCfg := &postgres.PostgresConfig{
		Host: cfg.Database.Host, Port: cfg.Database.Port, Database: cfg.Database.Database,
		User: cfg.Database.Username, Password: cfg.Database.Password, SSLMode: cfg.Database.SSLMode,
		MaxConns: int32(cfg.Database.MaxConnections), MinConns: int32(cfg.Database.MinConnections),
		MaxConnLifetime: cfg.Database.MaxConnLifetime, MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	}

	pool := postgres.NewPostgresPool(dbCfg, log)
	if err := pool.Connect(cmd.Context()); err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return pool, log, nil
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateDownSteps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}
