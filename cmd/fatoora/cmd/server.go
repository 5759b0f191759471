package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/hazimsaleh/fatoora/api"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the compliance engine server",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStack(configPath)
		if err != nil {
			return err
		}
		defer s.Close()

		a := api.New(s.manager, s.signer, s.scheduler, s.log, api.WithLogger(s.logger))

		r := chi.NewRouter()
		r.Mount("/api/v1", a.Router())

		server := &http.Server{
			Addr:              s.cfg.Server.ListenAddr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// The expiry sweep runs alongside the server until shutdown.
		sweepCtx, stopSweep := context.WithCancel(context.Background())
		defer stopSweep()
		go s.scheduler.Run(sweepCtx)

		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		s.logger.Info("server started", "addr", s.cfg.Server.ListenAddr, "database", s.cfg.Database.Path)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			s.logger.Info("shutting down", "signal", sig.String())
			stopSweep()
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout())
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
