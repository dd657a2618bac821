package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/floorops/approval-engine/internal/config"
	"github.com/floorops/approval-engine/internal/engine"
	httpserver "github.com/floorops/approval-engine/internal/interfaces/http"
	"github.com/floorops/approval-engine/internal/models"
	"github.com/floorops/approval-engine/internal/policy"
	"github.com/floorops/approval-engine/internal/scheduler"
	"github.com/floorops/approval-engine/internal/service"
	"github.com/floorops/approval-engine/internal/settlement"
	"github.com/floorops/approval-engine/internal/stats"
	"github.com/floorops/approval-engine/internal/store"
	"github.com/floorops/approval-engine/internal/worker"
	"github.com/floorops/approval-engine/pkg/database"
	"github.com/floorops/approval-engine/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting approval workflow engine",
		zap.Int("port", cfg.Server.Port),
		zap.String("timeout_policy", cfg.Workflow.TimeoutPolicy))

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Fatal("Failed to create data directory", zap.Error(err))
		}
	}

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Policy tables from configuration
	chainPolicy := policy.NewChainPolicy(policy.Config{
		LevelDurations: map[string]time.Duration{
			models.UrgencyNormal:   cfg.Workflow.NormalLevelDuration,
			models.UrgencyUrgent:   cfg.Workflow.UrgentLevelDuration,
			models.UrgencyCritical: cfg.Workflow.CriticalLevelDuration,
		},
	})

	workflowStore := store.NewSQLiteStore(db, logger)

	engineCfg := engine.Config{
		MinNotesLength:      cfg.Workflow.MinNotesLength,
		AcceptLateDecisions: cfg.Workflow.AcceptLateDecisions,
		MaxRetries:          cfg.Workflow.MaxRetries,
	}
	decisionEngine := engine.New(workflowStore, chainPolicy, policy.NewReassignEscalation(chainPolicy), engineCfg, logger)

	aggregator := stats.NewAggregator(workflowStore, logger)

	sugar := &zapAdapter{logger.Sugar()}
	approvalService := service.NewApprovalService(decisionEngine, workflowStore, aggregator, sugar)
	settlementService := settlement.NewService(workflowStore, chainPolicy, engineCfg, cfg.Settlement.MaxLevel, logger)

	deadlineScheduler := scheduler.New(workflowStore, decisionEngine, scheduler.Config{
		SweepInterval: cfg.Workflow.SweepInterval,
		BatchSize:     cfg.Workflow.SweepBatchSize,
		TimeoutPolicy: cfg.Workflow.TimeoutPolicy,
	}, logger)

	workerManager := worker.NewManager(logger)
	workerManager.Register(deadlineScheduler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := workerManager.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}

	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, approvalService, settlementService, sugar)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("Server exited with error", zap.Error(err))
		}
	}

	cancel()
	workerManager.StopAll()
	logger.Info("Shutdown complete")
}

// zapAdapter bridges *zap.SugaredLogger to the service Logger interface
type zapAdapter struct {
	s *zap.SugaredLogger
}

func (l *zapAdapter) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l *zapAdapter) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}
