package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alimx07/Social_Feed_Backend/services/feed_service/live"
	"github.com/alimx07/Social_Feed_Backend/services/feed_service/pipeline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "feed_service",
		Short:        "News feed fan-out pipeline",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the feed API, live delivery and the pipeline stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, _ := cmd.Flags().GetStringSlice("stages")
			warmup, _ := cmd.Flags().GetBool("warmup")
			return withApp(configPath, func(ctx context.Context, a *app) error {
				return serve(ctx, a, selected, warmup)
			})
		},
	}
	serveCmd.Flags().StringSlice("stages", stages, "Consumer groups to run in this process")
	serveCmd.Flags().Bool("warmup", true, "Replay recent events into the caches on start")
	rootCmd.AddCommand(serveCmd)

	warmupCmd := &cobra.Command{
		Use:   "warmup",
		Short: "Replay recent events from the store into the caches and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(configPath, func(ctx context.Context, a *app) error {
				w, err := a.warmer()
				if err != nil {
					return err
				}
				n, err := w.Run(ctx)
				a.logger.Info("Warm-up done", zap.Int("events", n))
				return err
			})
		},
	}
	rootCmd.AddCommand(warmupCmd)

	stageCmd := &cobra.Command{
		Use:       "stage [populate|news_database|news_cache]",
		Short:     "Run a single pipeline stage",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: stages,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(configPath, func(ctx context.Context, a *app) error {
				c, err := a.consumer(args[0])
				if err != nil {
					return err
				}
				defer c.Close()
				c.Run(ctx)
				return nil
			})
		},
	}
	rootCmd.AddCommand(stageCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func withApp(configPath string, run func(ctx context.Context, a *app) error) error {
	config, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := InitLogger(config.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, config, logger)
	if err != nil {
		return err
	}
	defer a.close()
	return run(ctx, a)
}

func serve(ctx context.Context, a *app, selected []string, warmup bool) error {
	auth, err := newTokenValidator(a.config.Auth)
	if err != nil {
		return err
	}
	reader := pipeline.NewFeedReader(a.feeds, a.users, a.store, a.logger)
	bridge := live.NewBridge(a.broker, a.logger)
	fs := NewFeedService(a.config, reader, bridge, auth, a.logger)

	for _, group := range selected {
		c, err := a.consumer(group)
		if err != nil {
			fs.close()
			return err
		}
		fs.runConsumers(c)
	}

	if warmup {
		w, err := a.warmer()
		if err != nil {
			fs.close()
			return err
		}
		go func() {
			if _, err := w.Run(ctx); err != nil {
				a.logger.Error("Warm-up failed", zap.Error(err))
			}
		}()
	}

	errs := make(chan error, 2)
	go func() { errs <- fs.StartHTTP() }()
	go func() { errs <- fs.StartGRPC() }()
	if a.config.Server.EtcdEndpoints != "" {
		if err := fs.register(); err != nil {
			fs.close()
			return err
		}
	}

	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down")
	case err = <-errs:
		a.logger.Error("Server stopped", zap.Error(err))
	}
	fs.close()
	return err
}
