package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JustinTDCT/MetaFix/internal/models"
)

type ScanRepository struct {
	db *sql.DB
}

func NewScanRepository(db *sql.DB) *ScanRepository {
	return &ScanRepository{db: db}
}

const scanColumns = `id, scan_type, status, created_at, started_at, paused_at, completed_at,
	config, total_items, processed_items, issues_found, editions_updated,
	current_library, current_item, checkpoint, triggered_by`

func scanRow(row interface{ Scan(...any) error }) (*models.Scan, error) {
	var s models.Scan
	err := row.Scan(&s.ID, &s.ScanType, &s.Status, &s.CreatedAt, &s.StartedAt, &s.PausedAt,
		&s.CompletedAt, &s.Config, &s.TotalItems, &s.ProcessedItems, &s.IssuesFound,
		&s.EditionsUpdated, &s.CurrentLibrary, &s.CurrentItem, &s.Checkpoint, &s.TriggeredBy)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new pending scan and returns it.
func (r *ScanRepository) Create(scanType models.ScanType, configJSON, triggeredBy string) (*models.Scan, error) {
	row := r.db.QueryRow(`INSERT INTO scans (scan_type, config, triggered_by)
		VALUES ($1, $2, $3) RETURNING `+scanColumns,
		scanType, configJSON, triggeredBy)
	return scanRow(row)
}

// GetByID returns a scan, or nil when it does not exist.
func (r *ScanRepository) GetByID(id uuid.UUID) (*models.Scan, error) {
	row := r.db.QueryRow(`SELECT `+scanColumns+` FROM scans WHERE id = $1`, id)
	scan, err := scanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return scan, err
}

// List returns scans newest first, optionally filtered by status.
func (r *ScanRepository) List(status models.ScanStatus, limit int) ([]models.Scan, error) {
	query := `SELECT ` + scanColumns + ` FROM scans`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scans []models.Scan
	for rows.Next() {
		scan, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, *scan)
	}
	return scans, rows.Err()
}

// Active returns the running or paused scan, if any.
func (r *ScanRepository) Active() (*models.Scan, error) {
	row := r.db.QueryRow(`SELECT ` + scanColumns + ` FROM scans
		WHERE status IN ('running', 'paused') ORDER BY created_at DESC LIMIT 1`)
	scan, err := scanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return scan, err
}

// Interrupted returns non-terminal scans other than the given one. These are
// scans left behind by an unclean shutdown.
func (r *ScanRepository) Interrupted() ([]models.Scan, error) {
	rows, err := r.db.Query(`SELECT ` + scanColumns + ` FROM scans
		WHERE status IN ('pending', 'running', 'paused') ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scans []models.Scan
	for rows.Next() {
		scan, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, *scan)
	}
	return scans, rows.Err()
}

// SetStatus transitions a scan and stamps the matching timestamp column.
// started_at is written once; a resume must not move it past paused_at.
// Terminal transitions also clear the checkpoint; it only has meaning for a
// scan that could still be live.
func (r *ScanRepository) SetStatus(id uuid.UUID, status models.ScanStatus) error {
	now := time.Now().UTC()
	switch status {
	case models.ScanStatusRunning:
		_, err := r.db.Exec(
			`UPDATE scans SET status = $1, started_at = COALESCE(started_at, $2) WHERE id = $3`,
			status, now, id)
		return err
	case models.ScanStatusPaused:
		_, err := r.db.Exec(
			`UPDATE scans SET status = $1, paused_at = $2 WHERE id = $3`,
			status, now, id)
		return err
	case models.ScanStatusCompleted, models.ScanStatusCancelled, models.ScanStatusFailed:
		_, err := r.db.Exec(
			`UPDATE scans SET status = $1, completed_at = $2, checkpoint = NULL WHERE id = $3`,
			status, now, id)
		return err
	default:
		_, err := r.db.Exec(`UPDATE scans SET status = $1 WHERE id = $2`, status, id)
		return err
	}
}

// UpdateProgress writes the scan's live counters and position.
func (r *ScanRepository) UpdateProgress(id uuid.UUID, processed, total, issuesFound, editionsUpdated int, currentLibrary, currentItem string) error {
	_, err := r.db.Exec(`UPDATE scans SET
		processed_items = $1, total_items = $2, issues_found = $3, editions_updated = $4,
		current_library = $5, current_item = $6
		WHERE id = $7`,
		processed, total, issuesFound, editionsUpdated,
		nullIfEmpty(currentLibrary), nullIfEmpty(currentItem), id)
	return err
}

// SaveCheckpoint persists the checkpoint JSON for resume-after-restart.
func (r *ScanRepository) SaveCheckpoint(id uuid.UUID, checkpointJSON string) error {
	_, err := r.db.Exec(`UPDATE scans SET checkpoint = $1 WHERE id = $2`, checkpointJSON, id)
	return err
}

// AddEvent appends a lifecycle event to the scan's history.
func (r *ScanRepository) AddEvent(scanID uuid.UUID, eventType, message string) error {
	_, err := r.db.Exec(
		`INSERT INTO scan_events (scan_id, event_type, message) VALUES ($1, $2, $3)`,
		scanID, eventType, message)
	return err
}

// Events returns a scan's events oldest first.
func (r *ScanRepository) Events(scanID uuid.UUID) ([]models.ScanEvent, error) {
	rows, err := r.db.Query(`SELECT id, scan_id, event_type, message, timestamp
		FROM scan_events WHERE scan_id = $1 ORDER BY timestamp ASC`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.ScanEvent
	for rows.Next() {
		var e models.ScanEvent
		var message sql.NullString
		if err := rows.Scan(&e.ID, &e.ScanID, &e.EventType, &message, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Message = message.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// Delete removes a scan and cascades to its events, issues, and suggestions.
func (r *ScanRepository) Delete(id uuid.UUID) error {
	_, err := r.db.Exec(`DELETE FROM scans WHERE id = $1`, id)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
