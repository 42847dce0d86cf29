package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/forgeworks/anvil/internal/adapters/agent"
	"github.com/forgeworks/anvil/internal/adapters/duckdb"
	"github.com/forgeworks/anvil/internal/adapters/git"
	appconfig "github.com/forgeworks/anvil/internal/config"
	"github.com/forgeworks/anvil/internal/core/services"
	"github.com/forgeworks/anvil/pkg/kernel"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting anvil kernel")

	if err := run(logger); err != nil {
		logger.Error("kernel startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	cfg, err := appconfig.Load(os.Getenv("ANVIL_CONFIG"))
	if err != nil {
		return err
	}
	logger.Info("configuration loaded",
		"listen", cfg.Listen,
		"db_path", cfg.DBPath,
		"agent_model", cfg.Agent.Model,
		"agent_api_key", appconfig.MaskSecret(cfg.Agent.APIKey))

	repo, err := duckdb.NewRepository(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init repository: %w", err)
	}
	defer repo.Close()

	eventBus := services.NewEventBus(logger)
	workspaceMgr := services.NewWorkspaceManager(cfg.WorkspaceDir)
	jobs := services.NewJobRegistry(logger, repo, eventBus)
	tasks := services.NewTaskTracker(logger, repo, eventBus)
	runners := services.NewRunnerRegistry(logger, cfg.MaxConcurrentJobs)

	ledger := services.NewBudgetLedger(logger, services.LedgerConfig{
		MaxCostPerProject: cfg.Budget.MaxCostPerProject,
		MaxCostPerHour:    cfg.Budget.MaxCostPerHour,
		AlertThreshold:    cfg.Budget.AlertThreshold,
	}, cfg.Pricing)

	executor := agent.NewExecutor(logger, agent.Config{
		BaseURL: cfg.Agent.BaseURL,
		APIKey:  cfg.Agent.APIKey,
		Model:   cfg.Agent.Model,
	})
	vcs := git.NewVersionControl(logger)

	orchCfg := services.OrchestratorConfig{
		PhaseTimeout:      time.Duration(cfg.Timeouts.Phase),
		IssueTimeout:      time.Duration(cfg.Timeouts.Issue),
		EstimatedUnitCost: cfg.EstimatedUnitCost,
	}
	builds := services.NewBuildOrchestrator(logger, jobs, tasks, ledger, runners, executor, workspaceMgr, orchCfg)
	migrations := services.NewMigrationOrchestrator(logger, jobs, tasks, ledger, runners, executor, vcs, workspaceMgr, repo, orchCfg)
	refinements := services.NewRefinementOrchestrator(logger, jobs, tasks, ledger, runners, executor, vcs, workspaceMgr, orchCfg)

	apiServer := kernel.NewServer(logger, jobs, tasks, ledger, builds, migrations, refinements, eventBus)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:5174"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: c.Handler(apiServer.Handler()),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting api server", "addr", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
