package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gantrydev/gantry/internal/app/migrate"
	"github.com/gantrydev/gantry/internal/deploy"
	httpx "github.com/gantrydev/gantry/internal/http"
	"github.com/gantrydev/gantry/internal/notify"
	"github.com/gantrydev/gantry/internal/pipeline"
	"github.com/gantrydev/gantry/internal/queue"
	"github.com/gantrydev/gantry/internal/repository/postgres"
	"github.com/gantrydev/gantry/internal/schedule"
	"github.com/gantrydev/gantry/internal/security"
	"github.com/gantrydev/gantry/internal/ws"
	"github.com/gantrydev/gantry/pkg/config"
	"github.com/gantrydev/gantry/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(config.GetString("LOG_LEVEL", "info")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	templates := pipeline.NewTemplateRegistry()
	if dir := strings.TrimSpace(cfg.TemplateDir); dir != "" {
		if err := templates.LoadDir(dir); err != nil {
			log.Warn("pipeline template directory not loaded", "dir", dir, "error", err)
		}
	}
	engine := pipeline.New(repo, templates, log)

	scanners := security.NewRegistry(log)
	scanners.Register(security.NewStaticScanner(config.GetString("STATIC_SCAN_BINARY", "")))
	scanners.Register(security.NewDependencyScanner(config.GetString("DEPENDENCY_SCAN_BINARY", "")))
	scanners.Register(security.NewSecretScanner(config.GetString("SECRET_SCAN_BINARY", "")))
	evaluator := security.NewEvaluator(repo, log)

	hub := ws.NewHub()
	gateway := notify.NewGateway(cfg.NotifyWebhookURL, cfg.NotifyTimeout, hub, log)

	deploySvc := deploy.New(repo, repo, repo, repo, engine, evaluator, scanners,
		deploy.ShellExecutor{}, gateway, log, deploy.Options{
			WorkspaceRoot: cfg.WorkspaceRoot,
			StageTimeout:  cfg.StageTimeout,
			DeployTimeout: cfg.DeployTimeout,
		})
	scheduleSvc := schedule.NewService(repo, repo, log)

	var jobs queue.Queue
	if addr := strings.TrimSpace(cfg.QueueRedisAddr); addr != "" {
		redisQueue, err := queue.NewRedisQueue(addr, cfg.QueueRedisPassword, cfg.QueueRedisDB, cfg.QueueKey, log)
		if err != nil {
			log.Error("redis queue unavailable", "addr", addr, "error", err)
			os.Exit(1)
		}
		jobs = redisQueue
	} else {
		log.Warn("QUEUE_REDIS_ADDR not set, using in-process schedule queue")
		jobs = queue.NewMemoryQueue(0)
	}
	defer jobs.Close()

	dispatcher := schedule.NewDispatcher(repo, jobs, log, schedule.DispatcherOptions{
		PollInterval:  cfg.SchedulePollInterval,
		StaleInterval: cfg.ScheduleStaleInterval,
		StaleWindow:   cfg.ScheduleStaleWindow,
	})
	go dispatcher.Run(ctx)
	for i := 0; i < cfg.WorkerCount; i++ {
		worker := schedule.NewWorker(repo, jobs, deploySvc, log)
		go worker.Run(ctx)
	}

	router := httpx.NewRouter(log, repo, repo, engine, deploySvc, scheduleSvc, hub, pool.Ping)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
