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

	"openphone-relay/internal/auth"
	"openphone-relay/internal/calls"
	"openphone-relay/internal/config"
	"openphone-relay/internal/crm"
	"openphone-relay/internal/httpapi"
	"openphone-relay/internal/ingest"
	"openphone-relay/internal/reporting"
	"openphone-relay/internal/tenants"
	"openphone-relay/pkg/logger"
	"openphone-relay/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

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

	// A bad tenant directory must not stop the process: every event is
	// answered as unrouted until the configuration is fixed.
	dir, err := tenants.Load(cfg.Tenants.Raw)
	if err != nil {
		log.Error("tenant directory unusable; all traffic will be unrouted",
			"kind", "config", "source", cfg.Tenants.Source, "err", err)
	}
	for _, w := range dir.Warnings() {
		log.Warn("tenant directory", "kind", "config", "warning", w)
	}
	log.Info("tenant directory loaded", "tenants", dir.Len(), "source", cfg.Tenants.Source)

	db, driver, err := utils.OpenDatabase(rootCtx, cfg.DB.URL, utils.PoolConfig{})
	if err != nil {
		log.Error("database init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	store := calls.NewStore(db, driver)
	if err := store.EnsureSchema(rootCtx); err != nil {
		log.Error("schema init failed", "driver", driver, "err", err)
		os.Exit(1)
	}

	var dedup ingest.Deduper
	if cfg.Redis.Addr != "" {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.Redis.Addr})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		dedup = ingest.NewRedisDeduper(rdb, cfg.Redis.DedupTTL)
	} else {
		log.Info("redis not configured; webhook dedup disabled")
	}

	var authManager *auth.Manager
	if cfg.Auth.JWTSecret != "" {
		authManager, err = auth.NewManager(cfg.Auth)
		if err != nil {
			log.Error("auth init failed", "err", err)
			os.Exit(1)
		}
	} else {
		log.Warn("REPORTS_JWT_SECRET not set; report routes are public")
	}

	crmClient := crm.NewClient(crm.Config{
		BaseURL:       cfg.CRM.BaseURL,
		Timeout:       cfg.CRM.Timeout,
		RatePerSecond: cfg.CRM.RatePerSecond,
		Burst:         cfg.CRM.Burst,
	})

	h := httpapi.Handlers{
		Ingest: ingest.NewService(dir, crmClient, store, dedup),
		Reports: reporting.NewService(store, crmClient, dir, reporting.Options{
			Concurrency:      cfg.Reports.Concurrency,
			MeetingTagPrefix: cfg.Reports.MeetingTagPrefix,
		}),
		Tenants:  dir,
		Location: cfg.ReportLocation(),
		Health:   store.Ping,
	}

	r, err := newRouter(log, h, authManager)
	if err != nil {
		log.Error("router init failed", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// dashboards fan out to the CRM
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "driver", driver)
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
}
