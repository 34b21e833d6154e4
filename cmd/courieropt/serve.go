package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"courieropt/internal/api"
	"courieropt/internal/buildinfo"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		deps, err := api.NewServer(ctx, cfg, logger)
		if err != nil {
			return err
		}
		srv := &http.Server{
			Addr:              ":" + cfg.Server.Port,
			Handler:           deps.Handler(),
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		}

		errc := make(chan error, 1)
		go func() {
			logger.Info("API listening", zap.String("addr", srv.Addr), zap.String("version", buildinfo.Version))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
			close(errc)
		}()

		select {
		case err := <-errc:
			if err != nil {
				_ = deps.Close(context.Background())
				return err
			}
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(sctx), deps.Close(sctx))
	},
}
