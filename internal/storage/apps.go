package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/slotify-app/slotify/internal/model"
	"github.com/slotify-app/slotify/libs/db"
)

// AppInstanceRepository backs the connected-app registry.
type AppInstanceRepository struct {
	pool *db.Pool
}

func NewAppInstanceRepository(pool *db.Pool) *AppInstanceRepository {
	return &AppInstanceRepository{pool: pool}
}

func (r *AppInstanceRepository) InsertAppInstance(ctx context.Context, inst model.AppInstance) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO app_instances (id, app_name, config, status, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, inst.ID, inst.AppName, inst.Config, inst.Status, inst.Reason, inst.CreatedAt)
	return err
}

func (r *AppInstanceRepository) UpdateAppStatus(ctx context.Context, id uuid.UUID, status model.AppStatus, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE app_instances
		SET status = $2, reason = $3
		WHERE id = $1
	`, id, status, reason)
	return err
}

func (r *AppInstanceRepository) DeleteAppInstance(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM app_instances WHERE id = $1`, id)
	return err
}

func (r *AppInstanceRepository) ListAppInstances(ctx context.Context) ([]model.AppInstance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, app_name, config, status, reason, created_at
		FROM app_instances
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []model.AppInstance
	for rows.Next() {
		var inst model.AppInstance
		if err := rows.Scan(&inst.ID, &inst.AppName, &inst.Config, &inst.Status, &inst.Reason, &inst.CreatedAt); err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}
