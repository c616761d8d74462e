package main

import (
	"context"
	"net/http"
	"time"

	"github.com/slotify-app/slotify/internal/analytics"
	"github.com/slotify-app/slotify/internal/outbox"
	"github.com/slotify-app/slotify/libs/config"
	"github.com/slotify-app/slotify/libs/db"
	"github.com/slotify-app/slotify/libs/kafkax"
	otelx "github.com/slotify-app/slotify/libs/otel"
	"github.com/slotify-app/slotify/libs/runtime"
)

func main() {
	config.LoadDotenv()
	service := config.String("SERVICE_NAME", "slotify-analytics")
	port, err := config.Port("PORT", "8082")
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

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "slotify-analytics")

	inbox := analytics.NewInbox(pool)
	recorder := analytics.NewRecorder(pool, logger)

	consumers := []struct {
		topic   string
		handler analytics.Handler
	}{
		{outbox.EventAppointmentCreated, recorder.HandleCreated},
		{outbox.EventAppointmentStatus, recorder.HandleStatusChanged},
		{outbox.EventAppointmentRescheduled, recorder.HandleRescheduled},
		{outbox.EventNotificationSent, recorder.HandleNotification("sent")},
		{outbox.EventNotificationFailed, recorder.HandleNotification("failed")},
	}
	for _, c := range consumers {
		consumer := analytics.NewConsumer(logger, inbox, analytics.ConsumerConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   c.topic,
		}, c.handler)
		go consumer.Run(ctx)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
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
	logger.Info("analytics stopped")
}
