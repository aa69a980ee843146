// cmd/price-relay/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leraspizh/crypto-project/internal/app"
	"github.com/leraspizh/crypto-project/internal/config"
	"github.com/leraspizh/crypto-project/internal/storage/postgres"
	"github.com/leraspizh/crypto-project/pkg/logger"
)

var (
	cfgFile     string
	printConfig bool
)

func main() {
	root := &cobra.Command{
		Use:           "price-relay",
		Short:         "Relays live exchange prices to WebSocket subscribers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (YAML)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay and its HTTP/WebSocket server",
		RunE:  runServe,
	}
	serve.Flags().BoolVar(&printConfig, "print-config", false, "print the loaded configuration")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL migrations and exit",
		RunE:  runMigrate,
	}

	root.AddCommand(serve, migrate)
	root.RunE = runServe

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "price-relay: %v\n", err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("logger init error: %w", err)
	}
	return cfg, log, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	if printConfig || cfg.Logging.DevMode {
		cfg.Print()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("starting service",
		zap.String("service.name", cfg.ServiceName),
		zap.String("service.version", cfg.ServiceVersion),
	)
	if err := app.Run(ctx, cfg, log); err != nil {
		log.Error("application exited with error", zap.Error(err))
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	if cfg.Storage.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn is required for migrate")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return postgres.Migrate(ctx, cfg.Storage.Postgres.DSN, log)
}
