package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JustinTDCT/MetaFix/internal/artwork"
	"github.com/JustinTDCT/MetaFix/internal/models"
	"github.com/JustinTDCT/MetaFix/internal/plex"
	"github.com/JustinTDCT/MetaFix/internal/providers"
)

var (
	ErrScanAlreadyRunning = errors.New("a scan is already in progress")
	ErrScanNotRunning     = errors.New("no scan is running")
)

// How many suggestions to keep per issue when populating during a scan.
const maxSuggestionsPerIssue = 20

// ScanStore is the scan persistence the engine needs.
type ScanStore interface {
	Create(scanType models.ScanType, configJSON, triggeredBy string) (*models.Scan, error)
	GetByID(id uuid.UUID) (*models.Scan, error)
	SetStatus(id uuid.UUID, status models.ScanStatus) error
	UpdateProgress(id uuid.UUID, processed, total, issuesFound, editionsUpdated int, currentLibrary, currentItem string) error
	SaveCheckpoint(id uuid.UUID, checkpointJSON string) error
	AddEvent(scanID uuid.UUID, eventType, message string) error
	Interrupted() ([]models.Scan, error)
}

// IssueStore persists findings and their suggestions.
type IssueStore interface {
	Create(issue *models.Issue) (*models.Issue, error)
	ReplaceSuggestions(issueID uuid.UUID, suggestions []models.Suggestion) error
}

// Broadcaster pushes live events to connected clients.
type Broadcaster interface {
	Publish(eventType string, data any)
}

// MediaServer is the slice of the Plex client the scan loop uses.
type MediaServer interface {
	Libraries(ctx context.Context) ([]plex.Library, error)
	AllLibraryItems(ctx context.Context, libraryID string) ([]plex.Item, error)
}

// Inspector finds artwork defects on an item.
type Inspector interface {
	Inspect(ctx context.Context, item artwork.ItemInfo, checks artwork.Checks) []artwork.Finding
}

// EditionApplier generates and applies edition strings.
type EditionApplier interface {
	GenerateAndApply(ctx context.Context, ratingKey string) (edition string, updated bool, err error)
}

// SuggestionSource fetches replacement artwork candidates.
type SuggestionSource interface {
	FetchType(ctx context.Context, req providers.Request, artworkType models.ArtworkType) []providers.Result
}

// Session bundles the per-scan resources built from live configuration.
type Session struct {
	Server      MediaServer
	Inspector   Inspector
	Editions    EditionApplier
	Suggestions SuggestionSource
}

// SessionFactory builds a Session from the current Plex and provider
// configuration. Called once per scan run.
type SessionFactory func(ctx context.Context) (*Session, error)

// Enqueuer hands scan execution off to the background worker.
type Enqueuer interface {
	EnqueueScan(scanID uuid.UUID) error
}

// Progress is the engine's live state snapshot.
type Progress struct {
	ScanID          *uuid.UUID `json:"scan_id,omitempty"`
	Status          string     `json:"status"`
	Processed       int        `json:"processed"`
	Total           int        `json:"total"`
	IssuesFound     int        `json:"issues_found"`
	EditionsUpdated int        `json:"editions_updated"`
	CurrentLibrary  string     `json:"current_library,omitempty"`
	CurrentItem     string     `json:"current_item,omitempty"`
}

// Engine is the process-wide scan singleton. Only one scan runs at a time;
// pause, resume, and cancel act on the in-flight run.
type Engine struct {
	scans    ScanStore
	issues   IssueStore
	bus      Broadcaster
	sessions SessionFactory
	enqueuer Enqueuer

	mu            sync.Mutex
	running       bool
	currentScanID uuid.UUID
	cancelled     bool
	paused        bool
	pauseGate     chan struct{} // closed while not paused
	cancelCh      chan struct{}
	progress      Progress
}

func NewEngine(scans ScanStore, issues IssueStore, bus Broadcaster, sessions SessionFactory) *Engine {
	gate := make(chan struct{})
	close(gate)
	return &Engine{
		scans:     scans,
		issues:    issues,
		bus:       bus,
		sessions:  sessions,
		pauseGate: gate,
		progress:  Progress{Status: "idle"},
	}
}

// SetEnqueuer routes scan execution through the job queue. Without one, runs
// execute on a plain goroutine.
func (e *Engine) SetEnqueuer(enqueuer Enqueuer) {
	e.enqueuer = enqueuer
}

// Start creates a scan record and kicks off execution. Returns the scan so
// callers can report its id immediately.
func (e *Engine) Start(config models.ScanConfig) (*models.Scan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil, fmt.Errorf("%w: scan %s", ErrScanAlreadyRunning, e.currentScanID)
	}

	configJSON, err := json.Marshal(config)
	if err != nil {
		return nil, err
	}

	scan, err := e.scans.Create(config.ScanType, string(configJSON), config.TriggeredBy)
	if err != nil {
		return nil, err
	}
	if err := e.scans.SetStatus(scan.ID, models.ScanStatusRunning); err != nil {
		return nil, err
	}
	if err := e.scans.AddEvent(scan.ID, "started", "Scan started"); err != nil {
		return nil, err
	}

	e.running = true
	e.currentScanID = scan.ID
	e.cancelled = false
	e.paused = false
	e.cancelCh = make(chan struct{})
	gate := make(chan struct{})
	close(gate)
	e.pauseGate = gate
	e.progress = Progress{ScanID: &scan.ID, Status: "running"}

	log.Printf("[scan] started scan %s (%s)", scan.ID, config.ScanType)
	e.bus.Publish("scan_started", map[string]any{"scan_id": scan.ID})

	if e.enqueuer != nil {
		if err := e.enqueuer.EnqueueScan(scan.ID); err != nil {
			e.finishLocked()
			return nil, err
		}
	} else {
		go e.Execute(context.Background(), scan.ID, config)
	}
	return scan, nil
}

// Execute runs a started scan to completion. Called by the worker (or a
// goroutine when no queue is wired). Only the scan registered by Start may
// execute; anything else is a stale task and is dropped so the row stays
// visible as interrupted.
func (e *Engine) Execute(ctx context.Context, scanID uuid.UUID, config models.ScanConfig) {
	e.mu.Lock()
	if !e.running || e.currentScanID != scanID {
		e.mu.Unlock()
		log.Printf("[scan] dropping task for scan %s: not the live scan", scanID)
		return
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.finishLocked()
		e.mu.Unlock()
	}()

	if err := e.execute(ctx, scanID, config); err != nil {
		log.Printf("[scan] scan %s failed: %v", scanID, err)
		e.markFailed(scanID, err)
	}
}

func (e *Engine) finishLocked() {
	e.running = false
	e.currentScanID = uuid.Nil
	e.progress.Status = "idle"
}

func (e *Engine) execute(ctx context.Context, scanID uuid.UUID, config models.ScanConfig) error {
	session, err := e.sessions(ctx)
	if err != nil {
		return err
	}

	runArtwork := config.ScanType == models.ScanTypeArtwork || config.ScanType == models.ScanTypeBoth
	runEdition := (config.ScanType == models.ScanTypeEdition || config.ScanType == models.ScanTypeBoth) && config.EditionEnabled

	libraryIDs := config.Libraries
	if len(libraryIDs) == 0 {
		libraries, err := session.Server.Libraries(ctx)
		if err != nil {
			return err
		}
		for _, lib := range libraries {
			libraryIDs = append(libraryIDs, lib.ID)
		}
	}

	// collect everything up front so the total is known
	total := 0
	libraryItems := make(map[string][]plex.Item, len(libraryIDs))
	for _, libID := range libraryIDs {
		if e.isCancelled() {
			break
		}
		items, err := session.Server.AllLibraryItems(ctx, libID)
		if err != nil {
			return err
		}
		libraryItems[libID] = items
		total += len(items)
	}

	e.setProgress(func(p *Progress) { p.Total = total })
	if err := e.scans.UpdateProgress(scanID, 0, total, 0, 0, "", ""); err != nil {
		return err
	}
	e.bus.Publish("scan_progress", map[string]any{"scan_id": scanID, "total": total, "processed": 0})

	checkpointInterval := config.CheckpointInterval
	if checkpointInterval <= 0 {
		checkpointInterval = 100
	}
	checks := artwork.Checks{
		Unmatched:    config.CheckUnmatched,
		Posters:      config.CheckPosters,
		Backgrounds:  config.CheckBackgrounds,
		Placeholders: config.CheckPlaceholders,
	}

	processed, issuesFound, editionsUpdated := 0, 0, 0
	for _, libID := range libraryIDs {
		items := libraryItems[libID]
		libName := "Unknown"
		if len(items) > 0 {
			libName = items[0].LibraryName
		}
		e.setProgress(func(p *Progress) { p.CurrentLibrary = libName })

		for i := range items {
			item := &items[i]

			if e.isCancelled() {
				return e.markCancelled(scanID)
			}
			if err := e.waitIfPaused(ctx); err != nil {
				return e.markCancelled(scanID)
			}

			e.setProgress(func(p *Progress) { p.CurrentItem = item.Title })

			if runArtwork {
				count, err := e.scanItemArtwork(ctx, session, scanID, item, checks)
				if err != nil {
					log.Printf("[scan] error scanning %s: %v", item.Title, err)
				}
				issuesFound += count
			}
			if runEdition && item.Type == "movie" {
				_, updated, err := session.Editions.GenerateAndApply(ctx, item.RatingKey)
				if err != nil {
					log.Printf("[scan] edition for %s: %v", item.Title, err)
				} else if updated {
					editionsUpdated++
				}
			}

			processed++
			e.setProgress(func(p *Progress) {
				p.Processed = processed
				p.IssuesFound = issuesFound
				p.EditionsUpdated = editionsUpdated
			})

			if processed%checkpointInterval == 0 {
				e.saveCheckpoint(scanID, processed, total, issuesFound, editionsUpdated, libName, item.Title)
			}
			if processed%5 == 0 {
				e.bus.Publish("scan_progress", map[string]any{
					"scan_id":          scanID,
					"processed":        processed,
					"total":            total,
					"issues_found":     issuesFound,
					"editions_updated": editionsUpdated,
					"current_item":     item.Title,
					"current_library":  libName,
				})
			}
		}
	}

	if e.isCancelled() {
		return e.markCancelled(scanID)
	}
	return e.markCompleted(scanID, processed, total, issuesFound, editionsUpdated)
}

// scanItemArtwork inspects one item, persists its findings, and eagerly
// populates replacement suggestions for the fixable ones.
func (e *Engine) scanItemArtwork(ctx context.Context, session *Session, scanID uuid.UUID, item *plex.Item, checks artwork.Checks) (int, error) {
	findings := session.Inspector.Inspect(ctx, artwork.ItemInfo{
		RatingKey: item.RatingKey,
		Matched:   item.IsMatched(),
		ThumbPath: item.Thumb,
		ArtPath:   item.Art,
	}, checks)
	if len(findings) == 0 {
		return 0, nil
	}

	externalIDs := item.ExternalIDs()
	var externalJSON *string
	if len(externalIDs) > 0 {
		if raw, err := json.Marshal(externalIDs); err == nil {
			s := string(raw)
			externalJSON = &s
		}
	}

	var firstErr error
	count := 0
	for _, finding := range findings {
		issue := &models.Issue{
			ScanID:        scanID,
			PlexRatingKey: item.RatingKey,
			Title:         item.Title,
			Year:          item.Year,
			MediaType:     models.MediaType(item.Type),
			IssueType:     finding.IssueType,
			ExternalIDs:   externalJSON,
			Details:       finding.DetailsJSON(),
		}
		if item.GUID != "" {
			issue.PlexGUID = &item.GUID
		}
		if item.LibraryName != "" {
			issue.LibraryName = &item.LibraryName
		}

		saved, err := e.issues.Create(issue)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		count++

		e.populateSuggestions(ctx, session, saved, item, externalIDs)
	}
	return count, firstErr
}

// artworkTypeFor maps a defect to the artwork kind that would fix it.
func artworkTypeFor(issueType models.IssueType) (models.ArtworkType, bool) {
	switch issueType {
	case models.IssueNoPoster, models.IssuePlaceholderPoster:
		return models.ArtworkPoster, true
	case models.IssueNoBackground, models.IssuePlaceholderBackground:
		return models.ArtworkBackground, true
	case models.IssueNoLogo:
		return models.ArtworkLogo, true
	}
	return "", false
}

func (e *Engine) populateSuggestions(ctx context.Context, session *Session, issue *models.Issue, item *plex.Item, externalIDs map[string]string) {
	if session.Suggestions == nil {
		return
	}
	artworkType, fixable := artworkTypeFor(issue.IssueType)
	if !fixable {
		return
	}

	results := session.Suggestions.FetchType(ctx, providers.Request{
		MediaType:   issue.MediaType,
		Title:       item.Title,
		ExternalIDs: externalIDs,
		RatingKey:   item.RatingKey,
	}, artworkType)
	if len(results) == 0 {
		return
	}
	if len(results) > maxSuggestionsPerIssue {
		results = results[:maxSuggestionsPerIssue]
	}

	suggestions := make([]models.Suggestion, len(results))
	for i, r := range results {
		suggestions[i] = r.Suggestion()
	}
	if err := e.issues.ReplaceSuggestions(issue.ID, suggestions); err != nil {
		log.Printf("[scan] suggestions for issue %s: %v", issue.ID, err)
	}
}

// ──────────────────── lifecycle control ────────────────────

// Pause blocks the scan loop at the next item boundary.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running || e.paused {
		return ErrScanNotRunning
	}
	e.paused = true
	e.pauseGate = make(chan struct{})
	e.progress.Status = "paused"
	scanID := e.currentScanID

	if err := e.scans.SetStatus(scanID, models.ScanStatusPaused); err != nil {
		return err
	}
	e.scans.AddEvent(scanID, "paused", "Scan paused by user")
	e.bus.Publish("scan_paused", map[string]any{"scan_id": scanID})
	log.Printf("[scan] scan %s paused", scanID)
	return nil
}

// Resume releases a paused scan.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running || !e.paused {
		return ErrScanNotRunning
	}
	e.paused = false
	close(e.pauseGate)
	e.progress.Status = "running"
	scanID := e.currentScanID

	if err := e.scans.SetStatus(scanID, models.ScanStatusRunning); err != nil {
		return err
	}
	e.scans.AddEvent(scanID, "resumed", "Scan resumed by user")
	e.bus.Publish("scan_resumed", map[string]any{"scan_id": scanID})
	log.Printf("[scan] scan %s resumed", scanID)
	return nil
}

// Cancel requests a stop. The scan loop notices at the next item boundary,
// even while paused.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrScanNotRunning
	}
	if !e.cancelled {
		e.cancelled = true
		close(e.cancelCh)
	}
	if e.paused {
		e.paused = false
		close(e.pauseGate)
	}
	log.Printf("[scan] cancel requested for scan %s", e.currentScanID)
	return nil
}

// Status returns the live snapshot.
func (e *Engine) Status() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

// IsRunning reports whether a scan is running or paused.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// CheckInterrupted finds scans left non-terminal by an unclean shutdown.
// They are surfaced, never resumed; the operator discards them explicitly.
func (e *Engine) CheckInterrupted() ([]models.Scan, error) {
	interrupted, err := e.scans.Interrupted()
	if err != nil {
		return nil, err
	}
	for _, scan := range interrupted {
		log.Printf("[scan] found interrupted scan %s (%s)", scan.ID, scan.Status)
	}
	return interrupted, nil
}

// DiscardInterrupted moves an interrupted scan to cancelled. Live and
// already-terminal scans are rejected.
func (e *Engine) DiscardInterrupted(id uuid.UUID) error {
	e.mu.Lock()
	if e.running && e.currentScanID == id {
		e.mu.Unlock()
		return ErrScanAlreadyRunning
	}
	e.mu.Unlock()

	scan, err := e.scans.GetByID(id)
	if err != nil {
		return err
	}
	if scan == nil {
		return fmt.Errorf("scan %s not found", id)
	}
	if scan.Status.IsTerminal() {
		return fmt.Errorf("scan %s is already %s", id, scan.Status)
	}
	if err := e.scans.SetStatus(id, models.ScanStatusCancelled); err != nil {
		return err
	}
	e.scans.AddEvent(id, "cancelled", "Interrupted scan discarded")
	log.Printf("[scan] discarded interrupted scan %s", id)
	return nil
}

// ──────────────────── internals ────────────────────

func (e *Engine) isCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

func (e *Engine) waitIfPaused(ctx context.Context) error {
	e.mu.Lock()
	gate := e.pauseGate
	cancelCh := e.cancelCh
	e.mu.Unlock()

	select {
	case <-gate:
		return nil
	case <-cancelCh:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) setProgress(update func(*Progress)) {
	e.mu.Lock()
	update(&e.progress)
	e.mu.Unlock()
}

func (e *Engine) saveCheckpoint(scanID uuid.UUID, processed, total, issuesFound, editionsUpdated int, library, item string) {
	checkpoint, err := json.Marshal(models.Checkpoint{
		Processed:      processed,
		CurrentLibrary: library,
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := e.scans.UpdateProgress(scanID, processed, total, issuesFound, editionsUpdated, library, item); err != nil {
		log.Printf("[scan] checkpoint progress for %s: %v", scanID, err)
		return
	}
	if err := e.scans.SaveCheckpoint(scanID, string(checkpoint)); err != nil {
		log.Printf("[scan] checkpoint for %s: %v", scanID, err)
	}
}

func (e *Engine) markCompleted(scanID uuid.UUID, processed, total, issuesFound, editionsUpdated int) error {
	if err := e.scans.UpdateProgress(scanID, processed, total, issuesFound, editionsUpdated, "", ""); err != nil {
		return err
	}
	if err := e.scans.SetStatus(scanID, models.ScanStatusCompleted); err != nil {
		return err
	}
	msg := fmt.Sprintf("Scan completed. Found %d issues, updated %d editions.", issuesFound, editionsUpdated)
	e.scans.AddEvent(scanID, "completed", msg)
	e.bus.Publish("scan_completed", map[string]any{
		"scan_id":          scanID,
		"processed":        processed,
		"issues_found":     issuesFound,
		"editions_updated": editionsUpdated,
	})
	log.Printf("[scan] scan %s completed, %d issues, %d editions", scanID, issuesFound, editionsUpdated)
	return nil
}

func (e *Engine) markCancelled(scanID uuid.UUID) error {
	if err := e.scans.SetStatus(scanID, models.ScanStatusCancelled); err != nil {
		return err
	}
	e.scans.AddEvent(scanID, "cancelled", "Scan was cancelled by user")
	e.bus.Publish("scan_cancelled", map[string]any{"scan_id": scanID})
	log.Printf("[scan] scan %s cancelled", scanID)
	return nil
}

func (e *Engine) markFailed(scanID uuid.UUID, cause error) {
	if err := e.scans.SetStatus(scanID, models.ScanStatusFailed); err != nil {
		log.Printf("[scan] marking scan %s failed: %v", scanID, err)
	}
	e.scans.AddEvent(scanID, "failed", fmt.Sprintf("Scan failed: %v", cause))
	e.bus.Publish("scan_failed", map[string]any{"scan_id": scanID, "error": cause.Error()})
}
