// Package payments is the built-in Stripe payment processor connected app.
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"github.com/stripe/stripe-go/v79/refund"

	"github.com/slotify-app/slotify/internal/apps"
	"github.com/slotify-app/slotify/internal/model"
)

const Name = "stripe-payments"

type Config struct {
	SecretKey string `json:"secret_key"`
	Currency  string `json:"currency"`
}

type App struct {
	id       uuid.UUID
	currency string
	logger   *slog.Logger
}

var _ apps.PaymentProcessor = (*App)(nil)

func Factory(inst model.AppInstance, logger *slog.Logger) (apps.App, error) {
	var cfg Config
	if len(inst.Config) > 0 {
		if err := json.Unmarshal(inst.Config, &cfg); err != nil {
			return nil, fmt.Errorf("stripe config: %w", err)
		}
	}
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, fmt.Errorf("stripe config: secret_key is required")
	}
	stripe.Key = key

	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &App{id: inst.ID, currency: currency, logger: logger}, nil
}

func (a *App) InstanceID() uuid.UUID { return a.id }
func (a *App) AppName() string       { return Name }

// FormProps creates a payment intent for the appointment's total price and
// returns what a payment form needs to collect it.
func (a *App) FormProps(_ context.Context, appt model.Appointment) (apps.PaymentForm, error) {
	if appt.TotalPrice <= 0 {
		return apps.PaymentForm{}, fmt.Errorf("appointment %s has no payable amount", appt.ID)
	}
	pi, err := paymentintent.New(&stripe.PaymentIntentParams{
		Amount:   stripe.Int64(appt.TotalPrice),
		Currency: stripe.String(a.currency),
		Metadata: map[string]string{
			"appointment_id": appt.ID.String(),
		},
	})
	if err != nil {
		return apps.PaymentForm{}, fmt.Errorf("create payment intent: %w", err)
	}
	return apps.PaymentForm{
		Provider:     Name,
		ClientSecret: pi.ClientSecret,
		Amount:       appt.TotalPrice,
		Currency:     a.currency,
	}, nil
}

func (a *App) RefundPayment(_ context.Context, payment model.Payment) error {
	if payment.ProviderRef == "" {
		return fmt.Errorf("payment %s has no provider reference", payment.ID)
	}
	_, err := refund.New(&stripe.RefundParams{
		PaymentIntent: stripe.String(payment.ProviderRef),
	})
	if err != nil {
		return fmt.Errorf("refund payment intent %s: %w", payment.ProviderRef, err)
	}
	a.logger.Info("payment refunded", "payment", payment.ID, "provider_ref", payment.ProviderRef)
	return nil
}
