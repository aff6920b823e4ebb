package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakhrymubarak/api-template/internal/app"
	"github.com/fakhrymubarak/api-template/internal/config"
	"github.com/fakhrymubarak/api-template/internal/logging"
)

func newServeCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPaths(*configDir))
		},
	}
}

func runServe(ctx context.Context, searchPaths []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(searchPaths...)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg)
	if err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}
	defer logging.Flush(logger)
	logger = logger.With(zap.String("thread_name", "main"))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Fatal("Application terminated unexpectedly", zap.Error(err))
		return err
	}
	logger.Info("Application stopped")
	return nil
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := app.NewBuilder(cfg, logger).AddRequiredServices().Build()
	if err != nil {
		return err
	}
	a.UseRequiredServices()

	logger.Info("Starting application",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("documentation", cfg.IsDevelopment()),
	)
	return a.Run(ctx)
}
