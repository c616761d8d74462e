package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/slotify-app/slotify/internal/model"
	"github.com/slotify-app/slotify/libs/db"
)

// SettingsRepository persists the single business-settings blob.
type SettingsRepository struct {
	pool *db.Pool
}

func NewSettingsRepository(pool *db.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

func (r *SettingsRepository) Load(ctx context.Context) (model.Settings, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, `
		SELECT payload FROM business_settings WHERE id = 1
	`).Scan(&payload)
	if err != nil {
		return model.Settings{}, err
	}
	var s model.Settings
	if err := json.Unmarshal(payload, &s); err != nil {
		return model.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

func (r *SettingsRepository) Save(ctx context.Context, s model.Settings) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO business_settings (id, payload, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = now()
	`, payload)
	return err
}
