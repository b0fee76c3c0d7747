package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/metavida/wellness-automation/internal/config"
	"github.com/metavida/wellness-automation/internal/engine"
	"github.com/metavida/wellness-automation/internal/store"
	"github.com/metavida/wellness-automation/internal/worker"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "automation",
		Short:        "Journey automation engine for the wellness CRM",
		Long:         `Records CRM events, enrolls users into journeys and runs journey steps (emails, tasks, groups, status changes).`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newDispatchCmd(),
		newMigrateCmd(),
		newSeedCmd(),
		newScanContractsCmd(),
	)
	return root
}

// app holds the connections every command needs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *store.PostgresStore
	redis  *store.RedisStore
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	db, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to PostgreSQL")

	a := &app{cfg: cfg, logger: logger, db: db}

	if cfg.RedisURL != "" {
		rs, err := store.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.redis = rs
		logger.Info("connected to Redis")
	} else {
		logger.Warn("REDIS_URL not set, using in-process dispatcher lock without circuit breaker or email throttle")
	}

	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	a.db.Close()
}

func (a *app) locker() engine.Locker {
	if a.redis != nil {
		return engine.NewRedisLock(a.redis.Client(), a.logger)
	}
	return engine.NewLocalLock()
}

// services is the automation engine wired against the app's connections.
type services struct {
	breaker    *engine.CircuitBreaker
	dispatcher *worker.Dispatcher
	manual     *worker.ManualAdvancer
	churn      *engine.ChurnBridge
	scanner    *worker.ContractScanner
}

func (a *app) services(notifier engine.Notifier) (*services, error) {
	var mailer worker.Mailer
	if a.cfg.SMTP.Enabled() {
		m, err := worker.NewSMTPMailer(worker.SMTPConfig{
			Host:     a.cfg.SMTP.Host,
			Port:     a.cfg.SMTP.Port,
			Username: a.cfg.SMTP.Username,
			Password: a.cfg.SMTP.Password,
			From:     a.cfg.SMTP.From,
		})
		if err != nil {
			return nil, err
		}
		mailer = m
	} else {
		a.logger.Warn("SMTP_HOST not set, SEND_EMAIL steps will be logged only")
	}

	exec := worker.NewActionExecutor(mailer, a.logger).WithTimeout(a.cfg.ActionTimeout)

	svc := &services{}
	if a.redis != nil {
		svc.breaker = engine.NewCircuitBreaker(a.redis.Client(), a.logger)
		exec.WithCircuitBreaker(svc.breaker).
			WithThrottle(engine.NewEmailThrottle(a.redis.Client(), a.cfg.EmailRateLimit, a.cfg.EmailRateWindow, a.logger))
	}

	locker := a.locker()
	advancer := engine.NewAdvancer(exec, a.logger)
	fanout := engine.NewFanOutEngine(advancer, a.logger)

	svc.dispatcher = worker.NewDispatcher(a.db, fanout, locker, notifier, worker.DispatcherConfig{
		BatchSize:    a.cfg.DispatchBatchSize,
		EventTimeout: a.cfg.EventTimeout,
		LockTTL:      a.cfg.DispatchLockTTL,
	}, a.logger)
	svc.manual = worker.NewManualAdvancer(a.db, advancer, notifier, a.logger)
	svc.churn = engine.NewChurnBridge(a.db, a.cfg.ChurnThreshold, a.logger)
	svc.scanner = worker.NewContractScanner(a.db, locker, a.cfg.ContractAlertDays, a.logger)

	return svc, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
