package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ──────────────────── Enums ────────────────────

type ScanType string

const (
	ScanTypeArtwork ScanType = "artwork"
	ScanTypeEdition ScanType = "edition"
	ScanTypeBoth    ScanType = "both"
)

type ScanStatus string

const (
	ScanStatusPending   ScanStatus = "pending"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusPaused    ScanStatus = "paused"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusCancelled ScanStatus = "cancelled"
	ScanStatusFailed    ScanStatus = "failed"
)

// IsTerminal reports whether the status is a final state.
func (s ScanStatus) IsTerminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusCancelled || s == ScanStatusFailed
}

type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeShow    MediaType = "show"
	MediaTypeSeason  MediaType = "season"
	MediaTypeEpisode MediaType = "episode"
)

type IssueType string

const (
	IssueNoMatch               IssueType = "no_match"
	IssueNoPoster              IssueType = "no_poster"
	IssueNoBackground          IssueType = "no_background"
	IssueNoLogo                IssueType = "no_logo"
	IssuePlaceholderPoster     IssueType = "placeholder_poster"
	IssuePlaceholderBackground IssueType = "placeholder_background"
)

type IssueStatus string

const (
	IssueStatusPending  IssueStatus = "pending"
	IssueStatusAccepted IssueStatus = "accepted"
	IssueStatusRejected IssueStatus = "rejected"
	IssueStatusApplied  IssueStatus = "applied"
	IssueStatusFailed   IssueStatus = "failed"
)

type ArtworkType string

const (
	ArtworkPoster     ArtworkType = "poster"
	ArtworkBackground ArtworkType = "background"
	ArtworkLogo       ArtworkType = "logo"
)

type ProviderName string

const (
	ProviderFanart ProviderName = "fanart"
	ProviderMediux ProviderName = "mediux"
	ProviderTMDB   ProviderName = "tmdb"
	ProviderTVDB   ProviderName = "tvdb"
	ProviderPlex   ProviderName = "plex"
)

// ──────────────────── Config ────────────────────

type ConfigEntry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Encrypted bool      `json:"encrypted"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ──────────────────── Scan ────────────────────

// ScanConfig is the config snapshot stored with a scan and passed to runs.
type ScanConfig struct {
	ScanType           ScanType `json:"scan_type"`
	Libraries          []string `json:"libraries,omitempty"`
	CheckPosters       bool     `json:"check_posters"`
	CheckBackgrounds   bool     `json:"check_backgrounds"`
	CheckLogos         bool     `json:"check_logos"`
	CheckUnmatched     bool     `json:"check_unmatched"`
	CheckPlaceholders  bool     `json:"check_placeholders"`
	EditionEnabled     bool     `json:"edition_enabled"`
	CheckpointInterval int      `json:"checkpoint_interval"`
	TriggeredBy        string   `json:"triggered_by"`
}

// DefaultScanConfig returns a scan config with every check enabled.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		ScanType:           ScanTypeArtwork,
		CheckPosters:       true,
		CheckBackgrounds:   true,
		CheckLogos:         true,
		CheckUnmatched:     true,
		CheckPlaceholders:  true,
		EditionEnabled:     true,
		CheckpointInterval: 100,
		TriggeredBy:        "manual",
	}
}

type Scan struct {
	ID              uuid.UUID  `json:"id"`
	ScanType        ScanType   `json:"scan_type"`
	Status          ScanStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	PausedAt        *time.Time `json:"paused_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Config          string     `json:"config"` // JSON ScanConfig
	TotalItems      int        `json:"total_items"`
	ProcessedItems  int        `json:"processed_items"`
	IssuesFound     int        `json:"issues_found"`
	EditionsUpdated int        `json:"editions_updated"`
	CurrentLibrary  *string    `json:"current_library,omitempty"`
	CurrentItem     *string    `json:"current_item,omitempty"`
	Checkpoint      *string    `json:"checkpoint,omitempty"` // JSON Checkpoint
	TriggeredBy     string     `json:"triggered_by"`
}

// Checkpoint is the durable mid-scan progress record.
type Checkpoint struct {
	Processed      int       `json:"processed"`
	CurrentLibrary string    `json:"current_library"`
	Timestamp      time.Time `json:"timestamp"`
}

type ScanEvent struct {
	ID        uuid.UUID `json:"id"`
	ScanID    uuid.UUID `json:"scan_id"`
	EventType string    `json:"event_type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ──────────────────── Issue ────────────────────

type Issue struct {
	ID            uuid.UUID    `json:"id"`
	ScanID        uuid.UUID    `json:"scan_id"`
	PlexRatingKey string       `json:"plex_rating_key"`
	PlexGUID      *string      `json:"plex_guid,omitempty"`
	Title         string       `json:"title"`
	Year          *int         `json:"year,omitempty"`
	MediaType     MediaType    `json:"media_type"`
	IssueType     IssueType    `json:"issue_type"`
	Status        IssueStatus  `json:"status"`
	LibraryName   *string      `json:"library_name,omitempty"`
	ExternalIDs   *string      `json:"external_ids,omitempty"` // JSON map source→id
	Details       *string      `json:"details,omitempty"`      // JSON
	CreatedAt     time.Time    `json:"created_at"`
	ResolvedAt    *time.Time   `json:"resolved_at,omitempty"`
	Suggestions   []Suggestion `json:"suggestions,omitempty"`
}

// ExternalIDMap decodes the stored external_ids JSON; nil-safe.
func (i *Issue) ExternalIDMap() map[string]string {
	ids := make(map[string]string)
	if i.ExternalIDs == nil || *i.ExternalIDs == "" {
		return ids
	}
	_ = json.Unmarshal([]byte(*i.ExternalIDs), &ids)
	return ids
}

type Suggestion struct {
	ID           uuid.UUID    `json:"id"`
	IssueID      uuid.UUID    `json:"issue_id"`
	Source       ProviderName `json:"source"`
	ArtworkType  ArtworkType  `json:"artwork_type"`
	ImageURL     string       `json:"image_url"`
	ThumbnailURL *string      `json:"thumbnail_url,omitempty"`
	Language     *string      `json:"language,omitempty"`
	Score        int          `json:"score"`
	SetName      *string      `json:"set_name,omitempty"`
	CreatorName  *string      `json:"creator_name,omitempty"`
	IsSelected   bool         `json:"is_selected"`
}

// ──────────────────── Edition ────────────────────

type EditionBackup struct {
	ID              uuid.UUID  `json:"id"`
	PlexRatingKey   string     `json:"plex_rating_key"`
	Title           string     `json:"title"`
	OriginalEdition *string    `json:"original_edition,omitempty"`
	NewEdition      *string    `json:"new_edition,omitempty"`
	BackedUpAt      time.Time  `json:"backed_up_at"`
	RestoredAt      *time.Time `json:"restored_at,omitempty"`
}

type EditionConfig struct {
	EnabledModules []string        `json:"enabled_modules"`
	ModuleOrder    []string        `json:"module_order"`
	Settings       EditionSettings `json:"settings"`
}

type EditionSettings struct {
	Separator         string   `json:"separator"`
	ExcludedLanguages []string `json:"excluded_languages"`
}

// ──────────────────── Schedule ────────────────────

type AutoCommitOptions struct {
	SkipUnmatched bool `json:"skip_unmatched"`
	MinScore      int  `json:"min_score"`
}

type Schedule struct {
	ID                uuid.UUID  `json:"id"`
	Name              string     `json:"name"`
	Enabled           bool       `json:"enabled"`
	CronExpression    string     `json:"cron_expression"`
	ScanType          ScanType   `json:"scan_type"`
	Config            string     `json:"config"` // JSON ScanConfig
	AutoCommit        bool       `json:"auto_commit"`
	AutoCommitOptions *string    `json:"auto_commit_options,omitempty"` // JSON AutoCommitOptions
	LastRunAt         *time.Time `json:"last_run_at,omitempty"`
	NextRunAt         *time.Time `json:"next_run_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
