package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/metavida/wellness-automation/internal/api"
	ws "github.com/metavida/wellness-automation/internal/websocket"
	"github.com/metavida/wellness-automation/internal/worker"
)

func newServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the activity feed and the scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending database migrations on start")
	return cmd
}

func runServe(ctx context.Context, migrate bool) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	if migrate {
		applied, err := a.db.RunMigrations(ctx)
		if err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("database migrations applied", "applied", applied)
	}

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	svc, err := a.services(hub)
	if err != nil {
		return err
	}

	sched := worker.NewScheduler(logger)
	err = sched.Add(ctx, "dispatch", a.cfg.DispatchSchedule, func(ctx context.Context) error {
		_, err := svc.dispatcher.Run(ctx, 0)
		if errors.Is(err, worker.ErrDispatchBusy) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	err = sched.Add(ctx, "scan-contracts", a.cfg.ContractScanSchedule, func(ctx context.Context) error {
		_, err := svc.scanner.Scan(ctx)
		return err
	})
	if err != nil {
		return err
	}

	schedDone := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(schedDone)
	}()

	router := api.NewRouter(api.Deps{
		Store:      a.db,
		Dispatcher: svc.dispatcher,
		Manual:     svc.manual,
		Churn:      svc.churn,
		Breaker:    svc.breaker,
		Hub:        hub,
		Logger:     logger,
	})

	server := &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", a.cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	<-schedDone

	logger.Info("server stopped")
	return nil
}
