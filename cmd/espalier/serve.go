package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/seragusa/espalier/pkg/adapters/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  `Starts the engine behind a JSON API: turn processing, resume decisions, state inspection, reviews, health and metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
			cfg.ListenAddr = addr
		}

		logger := newLogger(cfg)
		engine, cleanup, err := buildEngine(cfg, logger, true)
		if err != nil {
			return err
		}
		defer cleanup()

		sweepCtx, stopSweep := context.WithCancel(context.Background())
		defer stopSweep()
		if cfg.Checkpoint.Expiry.Std() > 0 {
			go engine.RunSweeper(sweepCtx, cfg.Checkpoint.SweepInterval.Std())
		}

		srv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           httpadapter.NewHandler(engine, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("server listening", "addr", srv.Addr, "store", cfg.Store.Backend)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			logger.Info("shutting down", "signal", sig.String())

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("graceful shutdown incomplete, closing", "err", err)
				srv.Close()
			}
			logger.Info("server stopped")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", "", "Listen address (overrides config)")
}
