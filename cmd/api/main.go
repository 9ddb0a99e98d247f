package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/campaign"
	"dialer-platform/internal/clipool"
	"dialer-platform/internal/compliance"
	"dialer-platform/internal/config"
	"dialer-platform/internal/cps"
	"dialer-platform/internal/dialer"
	"dialer-platform/internal/gateway"
	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/metrics"
	"dialer-platform/pkg/logger"
	"dialer-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Compliance gate over redis, with a short read cache in front.
	store := compliance.NewCachedStore(compliance.NewRedisStore(rdb), 0)
	gate, err := compliance.NewGate(store, compliance.DefaultWindowPolicies(), compliance.FrequencyPolicy{
		DayLimit:  cfg.Dialer.FrequencyCapDay,
		WeekLimit: cfg.Dialer.FrequencyCapWeek,
	})
	if err != nil {
		log.Error("compliance init failed", "err", err)
		os.Exit(1)
	}

	// CLI inventory is owned by postgres; quota state survives restarts.
	cliRecords, err := clipool.LoadRecords(rootCtx, db)
	if err != nil {
		log.Error("cli inventory load failed", "err", err)
		os.Exit(1)
	}
	pool, err := clipool.NewPool(clipool.Policy(cfg.Dialer.CliPolicy), cfg.Dialer.CliCooldown, clipool.DefaultAreaRules(), cliRecords, nil)
	if err != nil {
		log.Error("cli pool init failed", "err", err)
		os.Exit(1)
	}
	log.Info("cli pool loaded", "clis", len(cliRecords), "policy", cfg.Dialer.CliPolicy)

	var gw gateway.Gateway
	switch cfg.Dialer.Gateway {
	case "sip":
		gw = gateway.NewSIP()
	default:
		gw = gateway.NewSim()
	}

	campaignRepo := campaign.NewPostgresRepo(db)
	campaigns := campaign.NewService(campaignRepo)
	auditSvc := audit.NewService(audit.NewMemoryRepo())

	win := metrics.NewWindow(cfg.Dialer.MetricsWindow)
	tracker := dialer.NewTracker(win, logger.Component(log, "tracker"), cfg.Dialer.StaleCallTimeout, cfg.Dialer.TerminalGrace)
	worker, err := dialer.NewWorker(cfg.Dialer, dialer.Deps{
		Queues:     dialer.NewQueueSet(),
		Gate:       gate,
		Pool:       pool,
		Controller: cps.NewController(cfg.Dialer, win),
		Gateway:    gw,
		Tracker:    tracker,
		Window:     win,
		Reporter:   campaigns,
		Log:        logger.Component(log, "dialer"),
	})
	if err != nil {
		log.Error("dialer init failed", "err", err)
		os.Exit(1)
	}

	restoreBacklogs(rootCtx, log, campaigns, campaignRepo, worker)

	workerCtx, stopWorker := context.WithCancel(rootCtx)
	defer stopWorker()
	go func() {
		if err := worker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("dialer worker failed", "err", err)
			stop()
		}
	}()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Auth:      authManager,
		Campaigns: campaigns,
		Dialer:    worker,
		Audit:     auditSvc,
	}
	registerRoutes(r, h, auth.RequireAccessToken(authManager), db, rdb)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "gateway", gw.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	stopWorker()

	// Persist CLI usage so quotas survive the restart.
	if err := clipool.PersistUsage(shutdownCtx, db, pool.Records()); err != nil {
		log.Error("cli usage persist failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// restoreBacklogs re-enqueues undialed contacts of active campaigns so a
// restart resumes where the previous process stopped. Paused campaigns load
// too but stay paused in the queue set.
func restoreBacklogs(ctx context.Context, log *slog.Logger, campaigns *campaign.Service, repo *campaign.PostgresRepo, worker *dialer.Worker) {
	list, err := campaigns.List(ctx)
	if err != nil {
		log.Warn("campaign list failed, starting with empty backlogs", "err", err)
		return
	}
	now := time.Now().UTC()
	for _, c := range list {
		if c.Status == campaign.StatusCompleted {
			continue
		}
		reqs, err := repo.LoadBacklog(ctx, c.ID, now)
		if err != nil {
			log.Warn("backlog load failed", "campaign_id", c.ID, "err", err)
			continue
		}
		for _, req := range reqs {
			if err := worker.Enqueue(ctx, req); err != nil {
				log.Warn("backlog enqueue rejected", "campaign_id", c.ID, "destination", req.Destination, "err", err)
			}
		}
		if c.Status == campaign.StatusPaused {
			_ = worker.Pause(ctx, c.ID, dialer.PauseGraceful)
		}
		log.Info("backlog restored", "campaign_id", c.ID, "requests", len(reqs))
	}
}
