// Package analytics consumes the outbox topics and folds them into metric
// tables. Consumption is idempotent: every event id is recorded in an inbox
// table before its handler runs, so redelivered messages are dropped.
package analytics

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/slotify-app/slotify/libs/db"
)

type Inbox struct {
	pool *db.Pool
}

func NewInbox(pool *db.Pool) *Inbox {
	return &Inbox{pool: pool}
}

// Record inserts the event id and reports whether it was seen for the first
// time. A duplicate key violation means the event was already processed.
func (i *Inbox) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	_, err := i.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, nil
	}
	return false, err
}
