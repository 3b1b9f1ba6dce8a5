package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/openmodqueue/openmodqueue/internal/analytics"
	"github.com/openmodqueue/openmodqueue/internal/api"
	"github.com/openmodqueue/openmodqueue/internal/bans"
	"github.com/openmodqueue/openmodqueue/internal/config"
	"github.com/openmodqueue/openmodqueue/internal/configcache"
	"github.com/openmodqueue/openmodqueue/internal/db"
	"github.com/openmodqueue/openmodqueue/internal/feedback"
	"github.com/openmodqueue/openmodqueue/internal/middleware"
	"github.com/openmodqueue/openmodqueue/internal/models"
	"github.com/openmodqueue/openmodqueue/internal/moderation"
	"github.com/openmodqueue/openmodqueue/internal/notify"
	"github.com/openmodqueue/openmodqueue/internal/observability"
	"github.com/openmodqueue/openmodqueue/internal/publish"
	"github.com/openmodqueue/openmodqueue/internal/ratelimit"
	"github.com/openmodqueue/openmodqueue/internal/reporting"
	"github.com/openmodqueue/openmodqueue/internal/transport"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		return fmt.Errorf("failed to connect postgres: %w", err)
	}
	defer pg.Close()

	store, err := db.InitRedis(cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	defer store.Close()

	metricsRegistry := observability.NewPrometheusRegistry()

	analyticsSvc, err := analytics.InitClickHouse(cfg.ClickHouseDSN, cfg.CHMaxOpenConns, metricsRegistry)
	if err != nil {
		return fmt.Errorf("failed to connect clickhouse: %w", err)
	}
	defer analyticsSvc.Close()

	// Channel registry is warmed from Postgres; a Redis snapshot covers cold
	// starts when Postgres is briefly unreachable.
	registry := models.NewInMemoryChannelDataStore()
	cache := configcache.New(registry, pg, store, cfg.CacheTTL, logger, metricsRegistry)
	if err := cache.Warm(ctx); err != nil {
		return fmt.Errorf("warm channel cache: %w", err)
	}
	go cache.SnapshotLoop(ctx, cfg.CacheSnapshotInterval)

	banTracker := bans.NewTracker(pg, cfg.TempBanDuration, logger, metricsRegistry)

	chatClient := transport.NewHTTPChatClient(cfg.ChatGatewayURL, cfg.ChatSendTimeout, logger)
	pushClient := transport.NewHTTPPushClient(cfg.PushEndpointTimeout, logger)

	queue := notify.NewQueue(pg, chatClient, pushClient, notify.Options{
		MaxAttempts:   cfg.NotifyMaxAttempts,
		BackoffBase:   cfg.NotifyBackoffBase,
		BackoffCap:    cfg.NotifyBackoffCap,
		MaxConcurrent: cfg.NotifyMaxConcurrent,
		ClaimInterval: cfg.NotifyClaimInterval,
		ArchiveAfter:  cfg.NotifyArchiveAfter,
		AdminTarget:   cfg.AdminTarget,
	}, logger, metricsRegistry)
	go queue.Run(ctx)

	// Publication delivery shares the notification queue's retry ceiling;
	// a channel that keeps failing goes dead rather than retrying forever.
	dispatcher := publish.NewDispatcher(pg, cache, chatClient, store, queue, publish.Options{
		MediaGroupMaxSize: cfg.MediaGroupMaxSize,
		PublishTimeout:    cfg.PublishTimeout,
		MaxAttempts:       cfg.NotifyMaxAttempts,
		RetryInterval:     cfg.PublishRetryInterval,
		AdminTarget:       cfg.AdminTarget,
	}, logger, metricsRegistry)
	dispatcher.SetEventSink(analyticsSvc)
	go dispatcher.Run(ctx)

	limiter := ratelimit.NewAuthorLimiter(ratelimit.Config{
		Capacity:     cfg.IntakeRateCapacity,
		RefillPeriod: cfg.IntakeRateRefill,
		Enabled:      cfg.IntakeRateEnabled,
	}, metricsRegistry)

	modSvc := moderation.NewService(pg, banTracker, queue, dispatcher, limiter, store, cfg.ReviewTarget, logger, metricsRegistry)
	modSvc.SetEventSink(analyticsSvc)

	scheduler := feedback.NewScheduler(pg, cache, analyticsSvc, queue, cfg.FeedbackDelay, cfg.FeedbackSweepInterval, logger, metricsRegistry)
	go scheduler.Run(ctx)

	reporter := reporting.NewReporter(pg, analyticsSvc.DB, cache, queue, cfg.AdminTarget, cfg.StatusReportInterval, logger)
	go reporter.Run(ctx)

	srvDeps := api.NewServer(logger, pg, store, modSvc, cache, banTracker, dispatcher, []byte(cfg.ReviewerTokenSecret), cfg.ReviewerTokenTTL, metricsRegistry, cfg)
	srvDeps.Views = analyticsSvc

	// Other instances announce channel config changes over Redis pub/sub;
	// refresh the local cache when one arrives.
	go func() {
		sub := store.Client.Subscribe(ctx, api.ChannelUpdateChannel)
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				logger.Info("channel config update received", zap.String("payload", msg.Payload))
				if err := srvDeps.Reload(ctx); err != nil {
					logger.Error("reload on config update", zap.Error(err))
				}
			}
		}
	}()

	r := mux.NewRouter()
	r.Use(middleware.RequestLogging(logger))
	r.HandleFunc("/submissions", srvDeps.SubmitHandler).Methods("POST")
	r.HandleFunc("/submissions/{id}", srvDeps.GetSubmissionHandler).Methods("GET")
	r.HandleFunc("/submissions/{id}/decision", srvDeps.DecisionHandler).Methods("POST")
	r.HandleFunc("/submissions/{id}/token", srvDeps.ReviewTokenHandler).Methods("POST")
	r.HandleFunc("/submissions/{id}/retry", srvDeps.RetryPublishHandler).Methods("POST")
	r.HandleFunc("/submissions/{id}/views", srvDeps.RecordViewsHandler).Methods("POST")
	r.HandleFunc("/submissions/{id}/reopen", srvDeps.ReopenHandler).Methods("POST")
	r.HandleFunc("/submissions/{id}/close", srvDeps.CloseHandler).Methods("POST")
	r.HandleFunc("/health", srvDeps.HealthHandler).Methods("GET")
	r.HandleFunc("/reload", srvDeps.ReloadHandler).Methods("POST")

	// CRUD routes for admin UI
	crud := r.PathPrefix("/api").Subrouter()
	crud.HandleFunc("/channels", srvDeps.ListChannelsHandler).Methods("GET")
	crud.HandleFunc("/channels", srvDeps.CreateChannelHandler).Methods("POST")
	crud.HandleFunc("/channels/{id}", srvDeps.GetChannelHandler).Methods("GET")
	crud.HandleFunc("/channels/{id}", srvDeps.UpdateChannelHandler).Methods("PUT")
	crud.HandleFunc("/channels/{id}", srvDeps.DeleteChannelHandler).Methods("DELETE")
	crud.HandleFunc("/channels/{id}/enable", srvDeps.EnableChannelHandler).Methods("POST")
	crud.HandleFunc("/channels/{id}/disable", srvDeps.DisableChannelHandler).Methods("POST")

	crud.HandleFunc("/bans/{userID}", srvDeps.GetBanHandler).Methods("GET")
	crud.HandleFunc("/bans/{userID}/reset", srvDeps.ResetBanHandler).Methods("POST")

	// metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	addr := ":" + cfg.Port

	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(r, "http.server"),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Moderation pipeline running", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}
