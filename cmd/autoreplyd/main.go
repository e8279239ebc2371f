// Command autoreplyd runs the auto-reply pipeline: the mailbox push webhook,
// the management API, the reply-job scheduler and the watch renewal timers.
//
// @title       Auto-Reply Backend API
// @version     1.0
// @description Mailbox push webhook, tenant management and reply job audit API.
// @BasePath    /
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-autoreply-backend/internal/config"
	"github.com/tbourn/go-autoreply-backend/internal/events"
	"github.com/tbourn/go-autoreply-backend/internal/filter"
	"github.com/tbourn/go-autoreply-backend/internal/generator"
	httpapi "github.com/tbourn/go-autoreply-backend/internal/http"
	"github.com/tbourn/go-autoreply-backend/internal/mailbox"
	"github.com/tbourn/go-autoreply-backend/internal/observability"
	"github.com/tbourn/go-autoreply-backend/internal/repo"
	"github.com/tbourn/go-autoreply-backend/internal/services"
	"github.com/tbourn/go-autoreply-backend/internal/sysutil"
)

const shutdownTimeout = 20 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	version := sysutil.Version()
	sysutil.SetupLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName, version)

	if err := run(cfg, version); err != nil {
		log.Fatal().Err(err).Msg("autoreplyd exited")
	}
}

func run(cfg config.Config, version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer flush("tracing", shutdownTracing)

	db, err := repo.Open(cfg.DBDriver, cfg.DBPath, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer closeDB(db)
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	rules, err := filter.LoadRuleSet(cfg.FilterRulesPath)
	if err != nil {
		return err
	}
	rules.Watch(nil)

	hub := events.NewHub()
	var pub events.Publisher = hub
	if cfg.Events.AMQPURL != "" {
		amqpPub, err := events.DialAMQP(cfg.Events.AMQPURL, cfg.Events.AMQPExchange)
		if err != nil {
			return err
		}
		defer amqpPub.Close()
		pub = events.Multi{hub, amqpPub}
		log.Info().Str("exchange", cfg.Events.AMQPExchange).Msg("publishing job events to AMQP")
	}

	var completer generator.Completer
	if cfg.AIEnabled() {
		completer = generator.NewHTTPCompleter(cfg.Generator.APIURL, cfg.Generator.APIKey, cfg.Generator.Model, cfg.Generator.Timeout)
	} else {
		log.Warn().Msg("AI_API_KEY not set; AI mode falls back to templates")
	}
	gen := generator.New(completer, cfg.Generator)

	factory := mailbox.NewGmailFactory(cfg.Mailbox.ClientID, cfg.Mailbox.ClientSecret)
	locks := services.NewTenantLocks()

	resolver := services.NewHistoryResolver(db, cfg.Mailbox.FetchMaxAttempts, cfg.Mailbox.FetchBaseDelay)
	ingest := services.NewIngestService(db, factory, resolver, rules, locks, pub)
	ingest.ReceiptTTL = cfg.NotificationTTL
	ingest.DefaultMaxRetries = cfg.Scheduler.MaxRetries
	ingest.RatePerMin = cfg.WebhookRatePerMin

	dispatcher := services.NewDispatcher(db, factory, gen, rules, pub, cfg.Scheduler.RetryBackoffBase)
	scheduler := services.NewScheduler(db, dispatcher, cfg.Scheduler)

	watch := services.NewWatchManager(db, factory, cfg.Mailbox.PubSubTopic, cfg.Mailbox.WatchRenewBuffer, pub)
	defer watch.Shutdown()
	if _, err := watch.RestoreAll(ctx); err != nil {
		return err
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, httpapi.Deps{Ingest: ingest, Watch: watch, Events: hub}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func flush(name string, fn observability.Shutdown) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn().Err(err).Str("component", name).Msg("shutdown flush failed")
	}
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
