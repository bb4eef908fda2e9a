package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"autoliker/internal/api"
	"autoliker/internal/config"
	"autoliker/internal/database"
	"autoliker/internal/dispatch"
	"autoliker/internal/events"
	"autoliker/internal/failure"
	"autoliker/internal/feed"
	"autoliker/internal/kvstore"
	"autoliker/internal/metrics"
	"autoliker/internal/notifier"
	"autoliker/internal/ratelimiter"
	"autoliker/internal/reaction"
	"autoliker/internal/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	serviceName       = "autoliker"
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 15 * time.Second
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.ErrorContext(ctx, "Failed to load config",
			"error", err)

		return
	}

	if cfg.AppEnv == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	tp, err := initTracer(ctx, cfg)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize tracer",
			"error", err,
			"otelEndpoint", cfg.OtelEndpoint)

		return
	}
	if tp != nil {
		defer func() {
			if err = tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
				log.ErrorContext(ctx, "Failed to shutdown tracer",
					"error", err)
			}
		}()
		log.InfoContext(ctx, "Tracer is initialized",
			"otelEndpoint", cfg.OtelEndpoint)
	}

	rdb, err := initRedis(ctx, cfg)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize redis",
			"error", err,
			"redisAddr", cfg.RedisAddr)

		return
	}
	defer func() {
		if err = rdb.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close redis",
				"error", err,
				"redisAddr", cfg.RedisAddr)
		}
	}()
	log.InfoContext(ctx, "Redis is initialized",
		"redisAddr", cfg.RedisAddr,
		"redisDB", cfg.RedisDB)

	store := kvstore.New(rdb, log)
	ledger := store.Ledger(cfg.LedgerRetention)

	failureStore, closeFailureStore, err := initFailureStore(ctx, cfg, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize failure store",
			"error", err,
			"dbPath", cfg.FailureDBPath)

		return
	}
	defer closeFailureStore()

	tracker := failure.NewTracker(failureStore, store, failure.Policy{
		Threshold:   cfg.FailureThreshold,
		ResetWindow: cfg.FailureReset,
	}, nil, log)

	tgNotifier := initNotifier(ctx, cfg, log)

	nc, publisher := initEvents(ctx, cfg, log)
	if nc != nil {
		defer func() {
			if err = nc.Drain(); err != nil {
				log.ErrorContext(ctx, "Failed to drain nats connection",
					"error", err)
			}
		}()
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	dispatcher, err := dispatch.New(dispatch.Deps{
		Configs:    store,
		Identities: store,
		Ledger:     ledger,
		Fetcher:    feed.NewNeynarClient(cfg.NeynarAPIURL, cfg.NeynarAPIKey, log),
		Submitter:  reaction.NewSubmitter(cfg.HubAPIURL, cfg.NeynarAPIKey, uint64(cfg.HubNetwork), log),
		Tracker:    tracker,
		Pacer: ratelimiter.New(ratelimiter.Intervals{
			Action:  cfg.ActionInterval,
			Target:  cfg.TargetInterval,
			Account: cfg.AccountInterval,
		}, log),
		Notifier: tgNotifier,
		Events:   publisher,
		Metrics:  m,
	}, dispatch.Options{
		ContentLimit:    cfg.ContentLimit,
		StalenessCutoff: cfg.StalenessCutoff,
		Concurrency:     cfg.Concurrency,
	}, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize dispatcher",
			"error", err)

		return
	}

	if strings.TrimSpace(cfg.TriggerToken) == "" {
		log.WarnContext(ctx, "TRIGGER_TOKEN is missing so trigger endpoints are open",
			"envVar", "TRIGGER_TOKEN")
	}

	server := api.New(api.Deps{
		Dispatcher: dispatcher,
		Stats:      store,
		Ledger:     ledger,
		Gatherer:   prometheus.DefaultGatherer,
	}, cfg.TriggerToken, cfg.CycleTimeout, log)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorContext(ctx, "Failed to serve http",
				"error", err,
				"listenAddr", cfg.ListenAddr)
			cancel()
		}
	}()
	log.InfoContext(ctx, "HTTP server is started",
		"listenAddr", cfg.ListenAddr)

	if cfg.CycleSpec != "" {
		sched := scheduler.New(ctx, dispatcher, cfg.CycleSpec, cfg.CycleTimeout, log)

		if err = sched.Start(); err != nil {
			log.ErrorContext(ctx, "Failed to start scheduler",
				"error", err,
				"spec", cfg.CycleSpec)

			return
		}
		defer sched.Stop()
		log.InfoContext(ctx, "Scheduler is started",
			"spec", cfg.CycleSpec,
			"timezone", time.FixedZone(scheduler.Timezone, scheduler.TimezoneOffsetSeconds).String())
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-c:
		log.InfoContext(ctx, "Shutdown signal is received",
			"signal", sig.String())
	case <-ctx.Done():
		log.InfoContext(ctx, "Context is done",
			"error", ctx.Err())
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer shutdownCancel()

	if err = httpServer.Shutdown(shutdownCtx); err != nil {
		log.ErrorContext(ctx, "Failed to shutdown http server",
			"error", err)
	}

	log.InfoContext(ctx, "Exiting...",
		"uptimeSeconds", time.Since(start).Seconds())
}

func initTracer(ctx context.Context, cfg config.Config) (*sdktrace.TracerProvider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if strings.TrimSpace(cfg.OtelEndpoint) == "" {
		return nil, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OtelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.DeploymentEnvironmentKey.String(cfg.AppEnv),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp, nil
}

func initRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if err := redisotel.InstrumentTracing(rdb); err != nil {
		return nil, errors.Join(err, rdb.Close())
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Join(err, rdb.Close())
	}

	return rdb, nil
}

func initFailureStore(
	ctx context.Context,
	cfg config.Config,
	log *slog.Logger,
) (failure.Store, func(), error) {
	dbPath := strings.TrimSpace(cfg.FailureDBPath)
	if dbPath == "" {
		log.InfoContext(ctx, "FAILURE_DB_PATH is missing so failure counters are kept in memory",
			"envVar", "FAILURE_DB_PATH")

		return failure.NewMemoryStore(), func() {}, nil
	}

	db, err := database.New(ctx, dbPath, log)
	if err != nil {
		return nil, nil, err
	}
	log.InfoContext(ctx, "DB is initialized",
		"dbPath", dbPath)

	closeFn := func() {
		if err := db.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close db",
				"error", err,
				"dbPath", dbPath)
		}
	}

	return db.FailureStore(), closeFn, nil
}

func initNotifier(ctx context.Context, cfg config.Config, log *slog.Logger) dispatch.Notifier {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		log.InfoContext(ctx, "TELEGRAM_TOKEN is missing so notices are disabled",
			"envVar", "TELEGRAM_TOKEN")

		return nil
	}

	n, err := notifier.New(cfg.TelegramToken, cfg.TelegramChatID, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to create notifier so notices are disabled",
			"error", err)

		return nil
	}

	log.InfoContext(ctx, "Notifier is initialized",
		"chatID", cfg.TelegramChatID)

	return n
}

func initEvents(ctx context.Context, cfg config.Config, log *slog.Logger) (*nats.Conn, dispatch.EventPublisher) {
	if strings.TrimSpace(cfg.NatsURL) == "" {
		return nil, nil
	}

	nc, err := nats.Connect(cfg.NatsURL, nats.Name(serviceName))
	if err != nil {
		log.ErrorContext(ctx, "Failed to connect to nats so events are disabled",
			"error", err,
			"natsURL", cfg.NatsURL)

		return nil, nil
	}

	log.InfoContext(ctx, "NATS is connected",
		"natsURL", cfg.NatsURL)

	return nc, events.NewPublisher(nc, log)
}
