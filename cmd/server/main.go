package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"corecompliance/internal/assessment/handler"
	"corecompliance/internal/assessment/metrics"
	"corecompliance/internal/assessment/service"
	answerstore "corecompliance/internal/assessment/store"
	"corecompliance/internal/catalog"
	"corecompliance/internal/platform/config"
	"corecompliance/internal/platform/httpserver"
	"corecompliance/internal/platform/logger"
	platformredis "corecompliance/internal/platform/redis"
	"corecompliance/internal/reconcile"
	"corecompliance/internal/stats"
	"corecompliance/internal/storage"
	"corecompliance/internal/verification"
	"corecompliance/internal/verification/emailverifier"
	"corecompliance/internal/verification/fileverifier"
)

// AnswerStore is the union of store methods the wiring hands out.
type AnswerStore interface {
	service.AnswerStore
	reconcile.AnswerStore
	fileverifier.AnswerStore
}

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	var (
		rules   service.Catalog
		answers AnswerStore
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			return err
		}
		rules = catalog.NewPostgresStore(db)
		answers = answerstore.NewPostgresStore(db)
		log.Info("using postgres stores")
	} else {
		rules = catalog.NewInMemoryStore(catalog.Seed())
		answers = answerstore.NewInMemoryStore()
		log.Info("using in-memory stores with seeded catalog")
	}

	files, err := storage.NewLocalStore(cfg.StorageDir)
	if err != nil {
		return err
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		// Stats degrade to recompute-on-read; everything else is unaffected.
		log.Warn("redis unavailable, stats cache disabled", "error", err.Error())
	}
	var statsCache service.StatsCache = stats.Nop{}
	if redisClient != nil {
		defer redisClient.Close()
		statsCache = stats.NewCache(redisClient, 5*time.Minute, log)
	}

	m := metrics.New()

	// The file verifier notifies the loop and the loop requests verification
	// through the gateway, so the gateway is bound after the loop exists.
	gateway := &verification.Composite{Logger: log}
	loop := reconcile.New(answers, rules, gateway, m, log,
		reconcile.WithSettleDelay(cfg.Reconciler.VerifySettleDelay),
		reconcile.WithPollInterval(cfg.Reconciler.PollInterval),
	)
	gateway.File = fileverifier.New(answers, rules, files, loop, log)
	if cfg.Mail.APIURL != "" {
		gateway.Email = emailverifier.New(answers, cfg.Mail, log)
	} else {
		log.Warn("no mail API configured, email probes disabled")
	}

	svc := service.NewService(rules, answers, files, loop, gateway, statsCache, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("reconcile loop stopped", "error", err.Error())
		}
	}()

	// Status changes invalidate the cached dashboard aggregate.
	events, cancelSub := loop.Subscribe()
	defer cancelSub()
	go func() {
		for ev := range events {
			statsCache.Invalidate(context.Background(), ev.Subject)
		}
	}()

	r := chi.NewRouter()
	handler.New(svc, log).Register(r)
	r.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, r)
	log.Info("starting corecompliance", "addr", cfg.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
