package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openbt/openbt/internal/events"
	"github.com/openbt/openbt/internal/logger"
	"github.com/openbt/openbt/internal/scheduler"
	"github.com/openbt/openbt/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the backtest scheduler HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	log := logger.Component("main")
	bus := events.NewBus()

	sched := scheduler.New(scheduler.Config{
		Provider:      appCfg.Data.ProviderConfig(),
		MaxConcurrent: appCfg.Scheduler.MaxConcurrent,
		Bus:           bus,
	})
	srv := server.New(sched, bus)

	httpServer := &http.Server{
		Addr:         appCfg.Server.Addr(),
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket streams stay open
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", httpServer.Addr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return err
	}
	sched.Wait()
	return nil
}
