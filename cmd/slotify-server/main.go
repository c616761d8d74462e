package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/slotify-app/slotify/internal/apps"
	"github.com/slotify-app/slotify/internal/apps/calendarfeed"
	"github.com/slotify-app/slotify/internal/apps/email"
	"github.com/slotify-app/slotify/internal/apps/payments"
	"github.com/slotify-app/slotify/internal/apps/sms"
	"github.com/slotify-app/slotify/internal/booking"
	"github.com/slotify-app/slotify/internal/handlers"
	"github.com/slotify-app/slotify/internal/outbox"
	"github.com/slotify-app/slotify/internal/settings"
	"github.com/slotify-app/slotify/internal/storage"
	"github.com/slotify-app/slotify/libs/config"
	"github.com/slotify-app/slotify/libs/db"
	"github.com/slotify-app/slotify/libs/httpx"
	"github.com/slotify-app/slotify/libs/kafkax"
	otelx "github.com/slotify-app/slotify/libs/otel"
	"github.com/slotify-app/slotify/libs/redisx"
	"github.com/slotify-app/slotify/libs/runtime"
)

func main() {
	config.LoadDotenv()
	service := config.String("SERVICE_NAME", "slotify-server")
	port, err := config.Port("PORT", "8080")
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

	rdb, err := redisx.Open(ctx, config.String("REDIS_ADDR", "localhost:6379"))
	if err != nil {
		logger.Error("redis connection failed", "err", err)
		panic(err)
	}
	defer func() { _ = rdb.Close() }()

	outboxRepo := outbox.NewRepository(pool)
	apptRepo := storage.NewAppointmentRepository(pool, outboxRepo)
	appStore := storage.NewAppInstanceRepository(pool)
	ruleRepo := storage.NewRuleRepository(pool)
	settingsRepo := storage.NewSettingsRepository(pool)

	provider := settings.NewProvider(settingsRepo, logger)
	if err := provider.Refresh(ctx); err != nil {
		logger.Error("settings load failed", "err", err)
		panic(err)
	}

	registry := apps.NewRegistry(logger, appStore)
	registry.RegisterFactory(email.Name, email.Factory)
	registry.RegisterFactory(sms.Name, sms.Factory)
	registry.RegisterFactory(calendarfeed.Name, calendarfeed.Factory)
	registry.RegisterFactory(payments.Name, payments.Factory)
	if err := registry.Load(ctx); err != nil {
		logger.Error("connected app load failed", "err", err)
		panic(err)
	}
	dispatcher := apps.NewDispatcher(registry, logger)

	bookingSvc := booking.NewService(apptRepo, provider, dispatcher, logger)

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	api := handlers.NewAPI(bookingSvc, apptRepo, registry, dispatcher, provider, ruleRepo, logger)
	api.Register(mux, httpx.WithAdminKey(config.String("ADMIN_KEY_BCRYPT", "")))

	limiter := httpx.NewRedisRateLimiter(rdb,
		config.Int("RATE_LIMIT_REQUESTS", 120),
		config.Minutes("RATE_LIMIT_WINDOW_MINUTES", time.Minute), "slotify")

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithTimeout(30*time.Second),
		httpx.WithBodyLimit(1<<20),
		limiter.Middleware(logger, true),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: splitOrigins(config.String("ALLOWED_ORIGINS", "")),
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type", httpx.AdminKeyHeader},
			MaxAge:         10 * time.Minute,
		}),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, service)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
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

func splitOrigins(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
