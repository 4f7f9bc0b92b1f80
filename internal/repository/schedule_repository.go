package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/JustinTDCT/MetaFix/internal/models"
)

type ScheduleRepository struct {
	db *sql.DB
}

func NewScheduleRepository(db *sql.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

const scheduleColumns = `id, name, enabled, cron_expression, scan_type, config,
	auto_commit, auto_commit_options, last_run_at, next_run_at, created_at, updated_at`

func scheduleRow(row interface{ Scan(...any) error }) (*models.Schedule, error) {
	var s models.Schedule
	err := row.Scan(&s.ID, &s.Name, &s.Enabled, &s.CronExpression, &s.ScanType, &s.Config,
		&s.AutoCommit, &s.AutoCommitOptions, &s.LastRunAt, &s.NextRunAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a schedule and returns it.
func (r *ScheduleRepository) Create(s *models.Schedule) (*models.Schedule, error) {
	row := r.db.QueryRow(`INSERT INTO schedules
		(name, enabled, cron_expression, scan_type, config, auto_commit, auto_commit_options)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+scheduleColumns,
		s.Name, s.Enabled, s.CronExpression, s.ScanType, s.Config, s.AutoCommit, s.AutoCommitOptions)
	return scheduleRow(row)
}

// GetByID returns a schedule, or nil.
func (r *ScheduleRepository) GetByID(id uuid.UUID) (*models.Schedule, error) {
	row := r.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id)
	schedule, err := scheduleRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return schedule, err
}

// List returns all schedules, optionally only enabled ones.
func (r *ScheduleRepository) List(enabledOnly bool) ([]models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	if enabledOnly {
		query += ` WHERE enabled = TRUE`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []models.Schedule
	for rows.Next() {
		schedule, err := scheduleRow(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *schedule)
	}
	return schedules, rows.Err()
}

// Update rewrites a schedule's mutable fields.
func (r *ScheduleRepository) Update(s *models.Schedule) (*models.Schedule, error) {
	row := r.db.QueryRow(`UPDATE schedules SET
		name = $1, enabled = $2, cron_expression = $3, scan_type = $4, config = $5,
		auto_commit = $6, auto_commit_options = $7, updated_at = CURRENT_TIMESTAMP
		WHERE id = $8 RETURNING `+scheduleColumns,
		s.Name, s.Enabled, s.CronExpression, s.ScanType, s.Config,
		s.AutoCommit, s.AutoCommitOptions, s.ID)
	schedule, err := scheduleRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return schedule, err
}

// SetRunTimes stamps the last trigger and the next planned run.
func (r *ScheduleRepository) SetRunTimes(id uuid.UUID, lastRun time.Time, nextRun *time.Time) error {
	_, err := r.db.Exec(
		`UPDATE schedules SET last_run_at = $1, next_run_at = $2 WHERE id = $3`,
		lastRun, nextRun, id)
	return err
}

// Delete removes a schedule.
func (r *ScheduleRepository) Delete(id uuid.UUID) error {
	_, err := r.db.Exec(`DELETE FROM schedules WHERE id = $1`, id)
	return err
}
