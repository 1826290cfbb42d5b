package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tarek-aziz/fieldops/libs/config"
	"github.com/tarek-aziz/fieldops/libs/db"
	"github.com/tarek-aziz/fieldops/libs/httpx"
	"github.com/tarek-aziz/fieldops/libs/kafkax"
	otelx "github.com/tarek-aziz/fieldops/libs/otel"
	"github.com/tarek-aziz/fieldops/libs/runtime"
	"github.com/tarek-aziz/fieldops/services/availability-service/internal/consumer"
	"github.com/tarek-aziz/fieldops/services/availability-service/internal/engine"
	"github.com/tarek-aziz/fieldops/services/availability-service/internal/handlers"
	"github.com/tarek-aziz/fieldops/services/availability-service/internal/settings"
	"github.com/tarek-aziz/fieldops/services/availability-service/internal/storage"
	"github.com/tarek-aziz/fieldops/services/availability-service/internal/workforce"
)

func main() {
	service := config.String("SERVICE_NAME", "availability-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	var rdb *redis.Client
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		redisDB := 0
		if v, err := strconv.Atoi(config.String("REDIS_DB", "0")); err == nil && v >= 0 {
			redisDB = v
		}
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       redisDB,
		})
		defer func() { _ = rdb.Close() }()
		logger.Info("settings cache enabled (redis)", "redis_addr", addr)
	}

	cacheTTL := 5 * time.Minute
	if v, err := strconv.Atoi(config.String("SETTINGS_CACHE_SECONDS", "300")); err == nil && v > 0 {
		cacheTTL = time.Duration(v) * time.Second
	}
	settingsRepo := storage.NewSettingsRepository(pool)
	settingsProvider := settings.NewCachedProvider(settingsRepo, rdb, cacheTTL, logger)

	brokers := config.String("KAFKA_BROKERS", "")
	if topic := strings.TrimSpace(config.String("KAFKA_CONSUME_TOPIC", "company.settings.updated.v1")); topic != "" && brokers != "" {
		settingsConsumer := consumer.New(logger, settingsProvider, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "availability-service"),
			Topic:   topic,
		})
		go settingsConsumer.Run(ctx)
	}

	hoursProvider, err := workforce.NewProvider(config.String("WORKFORCE_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("workforce provider init failed; using company calendar only", "err", err)
		hoursProvider = nil
	}

	resolver := engine.NewResolver(
		settingsProvider,
		storage.NewCommitmentsRepository(pool),
		hoursProvider,
		logger,
		engine.Config{
			MaxLookahead:       time.Duration(intEnv("MAX_LOOKAHEAD_DAYS", 90)) * 24 * time.Hour,
			WorkerFetchTimeout: time.Duration(intEnv("WORKER_FETCH_TIMEOUT_SECONDS", 3)) * time.Second,
			OverallTimeout:     time.Duration(intEnv("RESOLVE_TIMEOUT_SECONDS", 10)) * time.Second,
		},
	)
	availabilityHandler := handlers.NewAvailabilityHandler(resolver, logger)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if rdb != nil {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	if brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.HandleFunc("/api/v1/scheduling/availability", availabilityHandler.Resolve)

	limitPerMinute := intEnv("RATE_LIMIT_PER_MINUTE", 120)
	var rateLimitMW httpx.Middleware
	if rdb != nil {
		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl:availability"))
		rateLimitMW = rl.Middleware(logger, isTruthy(config.String("RATE_LIMIT_FAIL_OPEN", "true")))
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
	}

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS")),
			AllowedHeaders: parseList(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id")),
			MaxAge:         time.Duration(intEnv("CORS_MAX_AGE_SECONDS", 600)) * time.Second,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(intEnv("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(time.Duration(intEnv("REQUEST_TIMEOUT_SECONDS", 15))*time.Second),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "availability")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func intEnv(key string, fallback int) int {
	if v, err := strconv.Atoi(config.String(key, "")); err == nil && v > 0 {
		return v
	}
	return fallback
}

func isTruthy(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
