package main

import (
	"context"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/slotify-app/slotify/internal/apps"
	"github.com/slotify-app/slotify/internal/apps/calendarfeed"
	"github.com/slotify-app/slotify/internal/apps/email"
	"github.com/slotify-app/slotify/internal/apps/payments"
	"github.com/slotify-app/slotify/internal/apps/sms"
	"github.com/slotify-app/slotify/internal/outbox"
	"github.com/slotify-app/slotify/internal/settings"
	"github.com/slotify-app/slotify/internal/storage"
	"github.com/slotify-app/slotify/internal/trigger"
	"github.com/slotify-app/slotify/libs/config"
	"github.com/slotify-app/slotify/libs/db"
	"github.com/slotify-app/slotify/libs/kafkax"
	otelx "github.com/slotify-app/slotify/libs/otel"
	"github.com/slotify-app/slotify/libs/redisx"
	"github.com/slotify-app/slotify/libs/runtime"
)

func main() {
	config.LoadDotenv()
	service := config.String("SERVICE_NAME", "slotify-scheduler")
	port, err := config.Port("PORT", "8081")
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
	ruleRepo := storage.NewRuleRepository(pool)
	appStore := storage.NewAppInstanceRepository(pool)
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

	sched := trigger.NewScheduler(
		ruleRepo,
		apptRepo,
		provider,
		dispatcher,
		trigger.NewRedisMarker(rdb),
		outboxRepo,
		logger,
	)
	registry.AddBuiltin(sched)

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	// The clock dispatches to every scheduled app, not the trigger scheduler
	// alone; a connected app implementing Scheduled ticks the same way.
	_, loc := provider.Current()
	c := cron.New(cron.WithLocation(loc))
	_, err = c.AddFunc("* * * * *", func() {
		tickCtx, cancel := context.WithTimeout(ctx, 55*time.Second)
		defer cancel()
		now := time.Now().Truncate(time.Minute)
		apps.Dispatch(tickCtx, dispatcher, func(ctx context.Context, s apps.Scheduled) error {
			return s.OnTime(ctx, now)
		})
	})
	if err != nil {
		logger.Error("cron setup failed", "err", err)
		panic(err)
	}
	c.Start()
	defer c.Stop()
	logger.Info("trigger clock started", "tz", loc.String())

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("health server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown error", "err", err)
	}
	logger.Info("scheduler stopped")
}
