package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/JustinTDCT/MetaFix/internal/models"
)

type EditionRepository struct {
	db *sql.DB
}

func NewEditionRepository(db *sql.DB) *EditionRepository {
	return &EditionRepository{db: db}
}

const backupColumns = `id, plex_rating_key, title, original_edition, new_edition, backed_up_at, restored_at`

func backupRow(row interface{ Scan(...any) error }) (*models.EditionBackup, error) {
	var b models.EditionBackup
	err := row.Scan(&b.ID, &b.PlexRatingKey, &b.Title, &b.OriginalEdition,
		&b.NewEdition, &b.BackedUpAt, &b.RestoredAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Backup records the item's original edition before the first overwrite.
// Once a backup exists, later applies leave it untouched; the first recorded
// original is the only one worth restoring.
func (r *EditionRepository) Backup(ratingKey, title string, original, newEdition *string) (*models.EditionBackup, error) {
	existing, err := r.GetBackup(ratingKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	row := r.db.QueryRow(`INSERT INTO edition_backups
		(plex_rating_key, title, original_edition, new_edition)
		VALUES ($1, $2, $3, $4) RETURNING `+backupColumns,
		ratingKey, title, original, newEdition)
	return backupRow(row)
}

// GetBackup returns the backup for an item, or nil.
func (r *EditionRepository) GetBackup(ratingKey string) (*models.EditionBackup, error) {
	row := r.db.QueryRow(
		`SELECT `+backupColumns+` FROM edition_backups WHERE plex_rating_key = $1`, ratingKey)
	backup, err := backupRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return backup, err
}

// ListBackups returns all backups newest first.
func (r *EditionRepository) ListBackups(limit, offset int) ([]models.EditionBackup, error) {
	rows, err := r.db.Query(`SELECT `+backupColumns+` FROM edition_backups
		ORDER BY backed_up_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var backups []models.EditionBackup
	for rows.Next() {
		backup, err := backupRow(rows)
		if err != nil {
			return nil, err
		}
		backups = append(backups, *backup)
	}
	return backups, rows.Err()
}

// MarkRestored stamps the backup after its original edition is written back.
func (r *EditionRepository) MarkRestored(id uuid.UUID) error {
	_, err := r.db.Exec(
		`UPDATE edition_backups SET restored_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	return err
}

// ──────────────────── Module config ────────────────────

// GetConfig loads the singleton edition config, falling back to defaults
// when nothing is stored. Modules added since the config was saved get
// appended to the order so they are never silently lost.
func (r *EditionRepository) GetConfig(registry []string) (*models.EditionConfig, error) {
	var enabledJSON, orderJSON, settingsJSON string
	err := r.db.QueryRow(
		`SELECT enabled_modules, module_order, settings FROM edition_config WHERE id = 1`).
		Scan(&enabledJSON, &orderJSON, &settingsJSON)
	if err == sql.ErrNoRows {
		return defaultEditionConfig(registry), nil
	}
	if err != nil {
		return nil, err
	}

	cfg := &models.EditionConfig{}
	if err := json.Unmarshal([]byte(enabledJSON), &cfg.EnabledModules); err != nil {
		return defaultEditionConfig(registry), nil
	}
	if err := json.Unmarshal([]byte(orderJSON), &cfg.ModuleOrder); err != nil {
		return defaultEditionConfig(registry), nil
	}
	if err := json.Unmarshal([]byte(settingsJSON), &cfg.Settings); err != nil {
		cfg.Settings = defaultEditionSettings()
	}

	known := make(map[string]bool, len(cfg.ModuleOrder))
	for _, name := range cfg.ModuleOrder {
		known[name] = true
	}
	for _, name := range registry {
		if !known[name] {
			cfg.ModuleOrder = append(cfg.ModuleOrder, name)
		}
	}
	return cfg, nil
}

// SaveConfig upserts the singleton edition config.
func (r *EditionRepository) SaveConfig(cfg *models.EditionConfig) error {
	enabledJSON, err := json.Marshal(cfg.EnabledModules)
	if err != nil {
		return err
	}
	orderJSON, err := json.Marshal(cfg.ModuleOrder)
	if err != nil {
		return err
	}
	settingsJSON, err := json.Marshal(cfg.Settings)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`INSERT INTO edition_config (id, enabled_modules, module_order, settings, updated_at)
		VALUES (1, $1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			enabled_modules = $1, module_order = $2, settings = $3, updated_at = CURRENT_TIMESTAMP`,
		string(enabledJSON), string(orderJSON), string(settingsJSON))
	return err
}

func defaultEditionConfig(registry []string) *models.EditionConfig {
	return &models.EditionConfig{
		EnabledModules: []string{"Resolution", "DynamicRange", "AudioCodec", "AudioChannels", "Cut", "Release"},
		ModuleOrder:    append([]string(nil), registry...),
		Settings:       defaultEditionSettings(),
	}
}

func defaultEditionSettings() models.EditionSettings {
	return models.EditionSettings{
		Separator:         " . ",
		ExcludedLanguages: []string{"English"},
	}
}
