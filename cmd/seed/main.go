// Seed fills a development database: default settings, notification rules and
// templates, and a spread of fake appointments.
package main

import (
	"context"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/slotify-app/slotify/internal/model"
	"github.com/slotify-app/slotify/internal/outbox"
	"github.com/slotify-app/slotify/internal/settings"
	"github.com/slotify-app/slotify/internal/storage"
	"github.com/slotify-app/slotify/libs/config"
	"github.com/slotify-app/slotify/libs/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	config.LoadDotenv()
	dsn, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedSettings(ctx, pool); err != nil {
		log.Fatalf("seed settings: %v", err)
	}
	if err := seedTemplatesAndRules(ctx, pool); err != nil {
		log.Fatalf("seed rules: %v", err)
	}
	if err := seedAppointments(ctx, pool, 50); err != nil {
		log.Fatalf("seed appointments: %v", err)
	}

	log.Println("seed complete")
}

func seedSettings(ctx context.Context, pool *db.Pool) error {
	repo := storage.NewSettingsRepository(pool)
	cfg := settings.Default()
	cfg.TimeZone = config.String("SEED_TIME_ZONE", "America/New_York")
	// Saturday mornings on top of the weekday default.
	cfg.Schedule.Week[time.Saturday] = []model.Shift{{Start: 10 * 60, End: 13 * 60}}
	if err := repo.Save(ctx, cfg); err != nil {
		return err
	}
	log.Println("settings seeded")
	return nil
}

func seedTemplatesAndRules(ctx context.Context, pool *db.Pool) error {
	repo := storage.NewRuleRepository(pool)

	templates := []model.MessageTemplate{
		{
			Name:    "reminder-email",
			Channel: model.ChannelEmail,
			Subject: "Reminder: your appointment on {{.Start.Format \"Monday, Jan 2\"}}",
			Body:    "Hi {{.CustomerName}},\n\nThis is a reminder for your appointment at {{.Start.Format \"15:04\"}}.\n\nSee you soon!",
		},
		{
			Name:    "reminder-text",
			Channel: model.ChannelText,
			Body:    "Hi {{.CustomerName}}, see you at {{.Start.Format \"15:04\"}} tomorrow!",
		},
		{
			Name:    "thank-you",
			Channel: model.ChannelEmail,
			Subject: "Thanks for visiting, {{.CustomerName}}",
			Body:    "We hope everything went well. We'd love to see you again.",
		},
	}
	for _, t := range templates {
		if err := repo.UpsertTemplate(ctx, t); err != nil {
			return err
		}
	}

	three := 3
	rules := []model.Rule{
		{
			ID:           uuid.New(),
			Kind:         model.RuleReminder,
			Spec:         model.TimeSpec{Kind: model.SpecRelativeOffset, Direction: model.DirectionBefore, Days: 1},
			Channel:      model.ChannelEmail,
			Template:     "reminder-email",
			StatusFilter: model.StatusConfirmed,
			CreatedAt:    time.Now().UTC(),
		},
		{
			ID:           uuid.New(),
			Kind:         model.RuleReminder,
			Spec:         model.TimeSpec{Kind: model.SpecFixedTimeOfDay, Direction: model.DirectionBefore, Days: 1, Hour: 18},
			Channel:      model.ChannelText,
			Template:     "reminder-text",
			StatusFilter: model.StatusConfirmed,
			CreatedAt:    time.Now().UTC(),
		},
		{
			ID:         uuid.New(),
			Kind:       model.RuleFollowUp,
			Spec:       model.TimeSpec{Kind: model.SpecRelativeOffset, Direction: model.DirectionAfter, Hours: 2},
			Channel:    model.ChannelEmail,
			Template:   "thank-you",
			AfterCount: &three,
			CreatedAt:  time.Now().UTC(),
		},
	}
	for _, r := range rules {
		if err := repo.Insert(ctx, r); err != nil {
			return err
		}
	}
	log.Println("templates and rules seeded")
	return nil
}

func seedAppointments(ctx context.Context, pool *db.Pool, count int) error {
	log.Printf("seeding %d appointments", count)

	outboxRepo := outbox.NewRepository(pool)
	repo := storage.NewAppointmentRepository(pool, outboxRepo)

	options := []string{"Consultation", "Standard visit", "Extended visit"}
	durations := []time.Duration{30 * time.Minute, time.Hour}

	// One slot per weekday hour keeps the exclusion constraint happy.
	day := time.Now().UTC().AddDate(0, 0, 1).Truncate(24 * time.Hour)
	hour := 9
	for i := 0; i < count; i++ {
		for day.Weekday() == time.Sunday {
			day = day.AddDate(0, 0, 1)
		}
		start := day.Add(time.Duration(hour) * time.Hour)
		hour++
		if hour >= 17 {
			hour = 9
			day = day.AddDate(0, 0, 1)
		}

		appt := model.Appointment{
			ID:            uuid.New(),
			CustomerID:    uuid.New(),
			CustomerName:  gofakeit.Name(),
			CustomerEmail: gofakeit.Email(),
			CustomerPhone: gofakeit.Phone(),
			Start:         start,
			Duration:      durations[gofakeit.Number(0, len(durations)-1)],
			TotalPrice:    int64(gofakeit.Number(20, 200)) * 100,
			Status:        model.StatusConfirmed,
			ServiceOption: options[gofakeit.Number(0, len(options)-1)],
			CreatedAt:     time.Now().UTC(),
		}
		entry := model.HistoryEntry{
			AppointmentID: appt.ID,
			Kind:          model.HistoryCreated,
			Detail:        []byte(`{"seeded":true}`),
			CreatedAt:     time.Now().UTC(),
		}
		if err := repo.Create(ctx, appt, entry, outbox.AppointmentCreated(appt)); err != nil {
			return err
		}
	}

	log.Println("appointments seeded")
	return nil
}
