package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/slotify-app/slotify/internal/model"
	"github.com/slotify-app/slotify/libs/db"
)

type RuleRepository struct {
	pool *db.Pool
}

func NewRuleRepository(pool *db.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

func (r *RuleRepository) Insert(ctx context.Context, rule model.Rule) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_rules (id, kind, spec, channel, template, status_filter, after_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rule.ID, rule.Kind, rule.Spec, rule.Channel, rule.Template, rule.StatusFilter, rule.AfterCount, rule.CreatedAt)
	return err
}

func (r *RuleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notification_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *RuleRepository) List(ctx context.Context) ([]model.Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, kind, spec, channel, template, status_filter, after_count, created_at
		FROM notification_rules
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.Rule
	for rows.Next() {
		var rule model.Rule
		if err := rows.Scan(&rule.ID, &rule.Kind, &rule.Spec, &rule.Channel, &rule.Template, &rule.StatusFilter, &rule.AfterCount, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *RuleRepository) Template(ctx context.Context, name string) (model.MessageTemplate, error) {
	var t model.MessageTemplate
	err := r.pool.QueryRow(ctx, `
		SELECT name, channel, subject, body
		FROM message_templates
		WHERE name = $1
	`, name).Scan(&t.Name, &t.Channel, &t.Subject, &t.Body)
	return t, err
}

func (r *RuleRepository) UpsertTemplate(ctx context.Context, t model.MessageTemplate) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO message_templates (name, channel, subject, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
		SET channel = EXCLUDED.channel, subject = EXCLUDED.subject, body = EXCLUDED.body
	`, t.Name, t.Channel, t.Subject, t.Body)
	return err
}
