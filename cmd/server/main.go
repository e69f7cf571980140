package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jun/webclipper/internal/app"
	"github.com/jun/webclipper/internal/config"
)

var flagEnvFile string

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the web clipper API as a local HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd)
	},
}

func init() {
	rootCmd.Flags().Int("port", 8080, "port to listen on")
	rootCmd.Flags().StringVar(&flagEnvFile, "env-file", ".env", "dotenv file loaded outside production")
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command) error {
	// Load .env in dev only; production injects env vars through infra.
	if os.Getenv(config.KeyAppEnv) != "production" {
		if err := godotenv.Load(flagEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", flagEnvFile, err)
		}
	}

	v := viper.New()
	config.SetDefaults(v)
	v.AutomaticEnv()
	if err := v.BindPFlag(config.KeyPort, cmd.Flags().Lookup("port")); err != nil {
		return err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.NewFromConfig(ctx, cfg)

	handler := handlers.RecoveryHandler(handlers.PrintRecoveryStack(cfg.DevMode))(bridge(application.HandleRequest))
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      handlers.CombinedLoggingHandler(os.Stdout, handler),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.ClipBudget() + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("starting local server", "addr", srv.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received, draining requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	slog.Info("server stopped cleanly")
	return nil
}
