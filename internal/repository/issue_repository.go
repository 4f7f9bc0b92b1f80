package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JustinTDCT/MetaFix/internal/models"
)

type IssueRepository struct {
	db *sql.DB
}

func NewIssueRepository(db *sql.DB) *IssueRepository {
	return &IssueRepository{db: db}
}

const issueColumns = `id, scan_id, plex_rating_key, plex_guid, title, year, media_type,
	issue_type, status, library_name, external_ids, details, created_at, resolved_at`

func issueRow(row interface{ Scan(...any) error }) (*models.Issue, error) {
	var i models.Issue
	err := row.Scan(&i.ID, &i.ScanID, &i.PlexRatingKey, &i.PlexGUID, &i.Title, &i.Year,
		&i.MediaType, &i.IssueType, &i.Status, &i.LibraryName, &i.ExternalIDs,
		&i.Details, &i.CreatedAt, &i.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// Create inserts a pending issue and returns it.
func (r *IssueRepository) Create(issue *models.Issue) (*models.Issue, error) {
	row := r.db.QueryRow(`INSERT INTO issues
		(scan_id, plex_rating_key, plex_guid, title, year, media_type, issue_type, library_name, external_ids, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+issueColumns,
		issue.ScanID, issue.PlexRatingKey, issue.PlexGUID, issue.Title, issue.Year,
		issue.MediaType, issue.IssueType, issue.LibraryName, issue.ExternalIDs, issue.Details)
	return issueRow(row)
}

// GetByID returns an issue with its suggestions loaded, or nil.
func (r *IssueRepository) GetByID(id uuid.UUID) (*models.Issue, error) {
	row := r.db.QueryRow(`SELECT `+issueColumns+` FROM issues WHERE id = $1`, id)
	issue, err := issueRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	issue.Suggestions, err = r.Suggestions(issue.ID)
	return issue, err
}

// IssueFilter narrows List and Count queries. Zero values mean no filter.
type IssueFilter struct {
	ScanID    uuid.UUID
	Status    models.IssueStatus
	IssueType models.IssueType
	MediaType models.MediaType
	Library   string
	Limit     int
	Offset    int
}

func (f IssueFilter) where() (string, []any) {
	clause := ""
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		if clause == "" {
			clause = " WHERE "
		} else {
			clause += " AND "
		}
		clause += fmt.Sprintf(cond, len(args))
	}
	if f.ScanID != uuid.Nil {
		add("scan_id = $%d", f.ScanID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.IssueType != "" {
		add("issue_type = $%d", f.IssueType)
	}
	if f.MediaType != "" {
		add("media_type = $%d", f.MediaType)
	}
	if f.Library != "" {
		add("library_name = $%d", f.Library)
	}
	return clause, args
}

// List returns matching issues newest first, suggestions included.
func (r *IssueRepository) List(filter IssueFilter) ([]models.Issue, error) {
	clause, args := filter.where()
	query := `SELECT ` + issueColumns + ` FROM issues` + clause + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []models.Issue
	for rows.Next() {
		issue, err := issueRow(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, *issue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for idx := range issues {
		issues[idx].Suggestions, err = r.Suggestions(issues[idx].ID)
		if err != nil {
			return nil, err
		}
	}
	return issues, nil
}

// Count returns the number of matching issues.
func (r *IssueRepository) Count(filter IssueFilter) (int, error) {
	clause, args := filter.where()
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM issues`+clause, args...).Scan(&count)
	return count, err
}

// CountByType groups issues by issue type, optionally scoped to one scan.
func (r *IssueRepository) CountByType(scanID uuid.UUID) (map[models.IssueType]int, error) {
	query := `SELECT issue_type, COUNT(*) FROM issues`
	var args []any
	if scanID != uuid.Nil {
		query += ` WHERE scan_id = $1`
		args = append(args, scanID)
	}
	rows, err := r.db.Query(query+` GROUP BY issue_type`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.IssueType]int)
	for rows.Next() {
		var issueType models.IssueType
		var count int
		if err := rows.Scan(&issueType, &count); err != nil {
			return nil, err
		}
		counts[issueType] = count
	}
	return counts, rows.Err()
}

// CountByStatus groups issues by status, optionally scoped to one scan.
func (r *IssueRepository) CountByStatus(scanID uuid.UUID) (map[models.IssueStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM issues`
	var args []any
	if scanID != uuid.Nil {
		query += ` WHERE scan_id = $1`
		args = append(args, scanID)
	}
	rows, err := r.db.Query(query+` GROUP BY status`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.IssueStatus]int)
	for rows.Next() {
		var status models.IssueStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// SetStatus transitions an issue, stamping resolved_at on terminal states.
func (r *IssueRepository) SetStatus(id uuid.UUID, status models.IssueStatus) error {
	if status == models.IssueStatusApplied || status == models.IssueStatusRejected || status == models.IssueStatusFailed {
		_, err := r.db.Exec(`UPDATE issues SET status = $1, resolved_at = $2 WHERE id = $3`,
			status, time.Now().UTC(), id)
		return err
	}
	_, err := r.db.Exec(`UPDATE issues SET status = $1 WHERE id = $2`, status, id)
	return err
}

// ──────────────────── Suggestions ────────────────────

// Suggestions returns an issue's suggestions best score first.
func (r *IssueRepository) Suggestions(issueID uuid.UUID) ([]models.Suggestion, error) {
	rows, err := r.db.Query(`SELECT id, issue_id, source, artwork_type, image_url,
		thumbnail_url, language, score, set_name, creator_name, is_selected
		FROM suggestions WHERE issue_id = $1 ORDER BY score DESC, source ASC`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var suggestions []models.Suggestion
	for rows.Next() {
		var s models.Suggestion
		if err := rows.Scan(&s.ID, &s.IssueID, &s.Source, &s.ArtworkType, &s.ImageURL,
			&s.ThumbnailURL, &s.Language, &s.Score, &s.SetName, &s.CreatorName, &s.IsSelected); err != nil {
			return nil, err
		}
		suggestions = append(suggestions, s)
	}
	return suggestions, rows.Err()
}

// GetSuggestion returns one suggestion, or nil.
func (r *IssueRepository) GetSuggestion(id uuid.UUID) (*models.Suggestion, error) {
	var s models.Suggestion
	err := r.db.QueryRow(`SELECT id, issue_id, source, artwork_type, image_url,
		thumbnail_url, language, score, set_name, creator_name, is_selected
		FROM suggestions WHERE id = $1`, id).
		Scan(&s.ID, &s.IssueID, &s.Source, &s.ArtworkType, &s.ImageURL,
			&s.ThumbnailURL, &s.Language, &s.Score, &s.SetName, &s.CreatorName, &s.IsSelected)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ReplaceSuggestions atomically swaps an issue's suggestion set.
func (r *IssueRepository) ReplaceSuggestions(issueID uuid.UUID, suggestions []models.Suggestion) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM suggestions WHERE issue_id = $1`, issueID); err != nil {
		return err
	}
	for _, s := range suggestions {
		_, err := tx.Exec(`INSERT INTO suggestions
			(issue_id, source, artwork_type, image_url, thumbnail_url, language, score, set_name, creator_name)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			issueID, s.Source, s.ArtworkType, s.ImageURL, s.ThumbnailURL,
			s.Language, s.Score, s.SetName, s.CreatorName)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MarkSelected flags the applied suggestion and clears its siblings.
func (r *IssueRepository) MarkSelected(issueID, suggestionID uuid.UUID) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE suggestions SET is_selected = FALSE WHERE issue_id = $1`, issueID); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE suggestions SET is_selected = TRUE WHERE id = $1`, suggestionID); err != nil {
		return err
	}
	return tx.Commit()
}
