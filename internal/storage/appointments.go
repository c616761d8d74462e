// Package storage is the Postgres persistence layer. Conflict detection rides
// on the appointments exclusion constraint: overlapping inserts and updates
// fail with SQLSTATE 23P01 rather than a read-then-write race.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/slotify-app/slotify/internal/model"
	"github.com/slotify-app/slotify/internal/outbox"
	"github.com/slotify-app/slotify/libs/db"
)

var ErrStaleStatus = errors.New("appointment status changed concurrently")

type AppointmentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, ob *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: ob}
}

const appointmentColumns = `
	id, customer_id, customer_name, customer_email, customer_phone,
	start_time, end_time, total_price, status, fields, service_option, addons, note, created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var end time.Time
	err := row.Scan(
		&appt.ID,
		&appt.CustomerID,
		&appt.CustomerName,
		&appt.CustomerEmail,
		&appt.CustomerPhone,
		&appt.Start,
		&end,
		&appt.TotalPrice,
		&appt.Status,
		&appt.Fields,
		&appt.ServiceOption,
		&appt.Addons,
		&appt.Note,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Duration = end.Sub(appt.Start)
	return appt, nil
}

// Create inserts the appointment, its opening history entry and the outbox
// event in one transaction. An overlap with a live appointment surfaces as a
// conflict error (IsConflict).
func (r *AppointmentRepository) Create(ctx context.Context, appt model.Appointment, entry model.HistoryEntry, evt outbox.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments
			(id, customer_id, customer_name, customer_email, customer_phone,
			 start_time, end_time, total_price, status, fields, service_option, addons, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, appt.ID, appt.CustomerID, appt.CustomerName, appt.CustomerEmail, appt.CustomerPhone,
		appt.Start, appt.End(), appt.TotalPrice, appt.Status, appt.Fields, appt.ServiceOption,
		appt.Addons, appt.Note, appt.CreatedAt)
	if err != nil {
		return err
	}
	if err := r.insertHistory(ctx, tx, entry); err != nil {
		return err
	}
	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) Get(ctx context.Context, id uuid.UUID) (model.Appointment, error) {
	return scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id))
}

// TransitionStatus applies a status change only when the row still carries the
// status the caller read; a concurrent change yields ErrStaleStatus.
func (r *AppointmentRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.AppointmentStatus, entry model.HistoryEntry, evt outbox.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	if err := r.insertHistory(ctx, tx, entry); err != nil {
		return err
	}
	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Reschedule moves the appointment. The exclusion constraint re-checks the new
// interval, so an overlapping target fails with a conflict error and the old
// time survives.
func (r *AppointmentRepository) Reschedule(ctx context.Context, id uuid.UUID, start time.Time, duration time.Duration, entry model.HistoryEntry, evt outbox.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET start_time = $2, end_time = $3
		WHERE id = $1
	`, id, start, start.Add(duration))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	if err := r.insertHistory(ctx, tx, entry); err != nil {
		return err
	}
	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// BusyBetween lists the occupied intervals of live (non-declined) appointments
// overlapping the window. exclude skips one appointment (its own time must not
// block a reschedule); pass uuid.Nil to keep all.
func (r *AppointmentRepository) BusyBetween(ctx context.Context, window model.Period, exclude uuid.UUID) ([]model.Period, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE status <> 'declined'
			AND id <> $3
			AND start_time < $2
			AND end_time > $1
		ORDER BY start_time
	`, window.Start, window.End, exclude)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []model.Period
	for rows.Next() {
		var p model.Period
		if err := rows.Scan(&p.Start, &p.End); err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// StartingBetween lists appointments whose start falls in [from, to).
func (r *AppointmentRepository) StartingBetween(ctx context.Context, from, to time.Time) ([]model.Appointment, error) {
	return r.listWhere(ctx, `start_time >= $1 AND start_time < $2`, from, to)
}

func (r *AppointmentRepository) listWhere(ctx context.Context, cond string, args ...any) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+cond+`
		ORDER BY start_time
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

// CountCompletedAtOrBefore counts the customer's confirmed appointments that
// finished at or before the given instant.
func (r *AppointmentRepository) CountCompletedAtOrBefore(ctx context.Context, customerID uuid.UUID, t time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE customer_id = $1
			AND status = 'confirmed'
			AND end_time <= $2
	`, customerID, t).Scan(&n)
	return n, err
}

func (r *AppointmentRepository) History(ctx context.Context, apptID uuid.UUID) ([]model.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, kind, detail, created_at
		FROM appointment_history
		WHERE appointment_id = $1
		ORDER BY id
	`, apptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		if err := rows.Scan(&e.ID, &e.AppointmentID, &e.Kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AddPayment records a payment and its history entry atomically.
func (r *AppointmentRepository) AddPayment(ctx context.Context, p model.Payment, entry model.HistoryEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO payments (id, appointment_id, provider, provider_ref, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.AppointmentID, p.Provider, p.ProviderRef, p.Amount, p.CreatedAt)
	if err != nil {
		return err
	}
	if err := r.insertHistory(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) MarkPaymentRefunded(ctx context.Context, paymentID uuid.UUID, entry model.HistoryEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET refunded = true
		WHERE id = $1 AND NOT refunded
	`, paymentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	if err := r.insertHistory(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) Payment(ctx context.Context, id uuid.UUID) (model.Payment, error) {
	var p model.Payment
	err := r.pool.QueryRow(ctx, `
		SELECT id, appointment_id, provider, provider_ref, amount, refunded, created_at
		FROM payments
		WHERE id = $1
	`, id).Scan(&p.ID, &p.AppointmentID, &p.Provider, &p.ProviderRef, &p.Amount, &p.Refunded, &p.CreatedAt)
	return p, err
}

func (r *AppointmentRepository) Payments(ctx context.Context, apptID uuid.UUID) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, provider, provider_ref, amount, refunded, created_at
		FROM payments
		WHERE appointment_id = $1
		ORDER BY created_at
	`, apptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		var p model.Payment
		if err := rows.Scan(&p.ID, &p.AppointmentID, &p.Provider, &p.ProviderRef, &p.Amount, &p.Refunded, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *AppointmentRepository) insertHistory(ctx context.Context, tx pgx.Tx, entry model.HistoryEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO appointment_history (appointment_id, kind, detail, created_at)
		VALUES ($1, $2, $3, $4)
	`, entry.AppointmentID, entry.Kind, entry.Detail, entry.CreatedAt)
	return err
}

// IsConflict reports whether err is the exclusion-constraint violation raised
// by overlapping appointment intervals.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
