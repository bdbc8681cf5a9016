package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"consult-platform/internal/auth"
	"consult-platform/internal/billing"
	"consult-platform/internal/config"
	"consult-platform/internal/freetrial"
	"consult-platform/internal/history"
	"consult-platform/internal/httpapi"
	"consult-platform/internal/lease"
	"consult-platform/internal/notify"
	"consult-platform/internal/reporting"
	"consult-platform/internal/session"
	"consult-platform/internal/video"
	"consult-platform/internal/wallet"
	"consult-platform/pkg/logger"
	"consult-platform/pkg/utils"

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

	verifier, err := auth.NewVerifier(cfg.Auth)
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

	// Storage
	sessionRepo := session.NewPostgresRepo(db)
	walletRepo := wallet.NewPostgresRepo(db)
	trialRepo := freetrial.NewPostgresRepo(db)
	historyStore := history.NewPostgresStore(db)
	pendingStore := notify.NewPostgresPendingStore(db)

	// Collaborators
	leases := lease.NewRedisLease(rdb)
	notifier := notify.NewRedisNotifier(rdb, pendingStore)
	rooms := video.NewTwilioProvider(cfg.Video)

	// Services
	wallets := wallet.NewService(walletRepo)
	trials := freetrial.NewService(trialRepo, cfg.Billing.FreeWindow)
	settler := history.NewSettler(historyStore, sessionRepo)
	settle := session.SettlerFunc(func(ctx context.Context, live session.LiveSession) error {
		_, err := settler.Settle(ctx, live)
		return err
	})

	sessions := session.NewService(sessionRepo, session.Deps{
		Wallets:    wallets,
		Trials:     trials,
		Rates:      session.NewPostgresRates(db),
		Rooms:      rooms,
		Notifier:   notifier,
		Settler:    settle,
		RequestTTL: cfg.Billing.RequestTTL,
		FreeWindow: cfg.Billing.FreeWindow,
	})
	reports := reporting.NewService(reporting.NewPostgresRepo(db))

	// Schedulers
	meter := billing.NewMeter(sessionRepo, wallets, leases, notifier, settle, billing.MeterConfig{
		BatchSize:   cfg.Billing.BatchSize,
		LeaseTTL:    cfg.Billing.LeaseTTL,
		MaxDuration: cfg.Billing.MaxDuration,
	}, log)
	freeTicker := billing.NewFreeTicker(sessionRepo, trials, leases, notifier, settle,
		cfg.Billing.BatchSize, cfg.Billing.LeaseTTL, log)
	sweeper := billing.NewSweeper(sessionRepo, leases, notifier, settle,
		cfg.Billing.StaleAfter, cfg.Billing.BatchSize, cfg.Billing.LeaseTTL, log)

	schedCtx, stopSchedulers := context.WithCancel(context.Background())
	var schedWG sync.WaitGroup
	runners := []billing.Runner{
		{Name: "meter", Every: cfg.Billing.TickInterval, Tick: meter.Tick, Log: log},
		{Name: "free_ticker", Every: cfg.Billing.FreeTickInterval, Tick: freeTicker.Tick, Log: log},
		{Name: "sweeper", Every: cfg.Billing.SweepInterval, Tick: sweeper.Tick, Log: log},
		{Name: "request_expiry", Every: cfg.Billing.RequestTTL, Log: log, Tick: func(ctx context.Context) error {
			_, err := sessions.ExpireSweep(ctx, cfg.Billing.BatchSize)
			return err
		}},
	}
	for _, r := range runners {
		schedWG.Add(1)
		go func(r billing.Runner) {
			defer schedWG.Done()
			r.Run(schedCtx)
		}(r)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Sessions: sessions,
		Wallets:  wallets,
		Reports:  reports,
	}
	registerRoutes(r, h, verifier, db)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
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

	// Schedulers go last: an in-flight tick may still be settling sessions.
	stopSchedulers()
	schedWG.Wait()
	log.Info("shutdown complete")
}
