package autofix

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/JustinTDCT/MetaFix/internal/models"
	"github.com/JustinTDCT/MetaFix/internal/repository"
)

var ErrAlreadyRunning = errors.New("auto-fix is already running")

// IssueStore is the issue persistence the auto-fix loop needs.
type IssueStore interface {
	List(filter repository.IssueFilter) ([]models.Issue, error)
	SetStatus(id uuid.UUID, status models.IssueStatus) error
	MarkSelected(issueID, suggestionID uuid.UUID) error
}

// ArtworkWriter uploads and locks artwork on the media server.
type ArtworkWriter interface {
	UploadPoster(ctx context.Context, ratingKey, imageURL string) error
	LockPoster(ctx context.Context, ratingKey string) error
	UploadBackground(ctx context.Context, ratingKey, imageURL string) error
	LockBackground(ctx context.Context, ratingKey string) error
}

// WriterFactory builds an ArtworkWriter from the saved Plex configuration.
type WriterFactory func(ctx context.Context) (ArtworkWriter, error)

// Broadcaster pushes live auto-fix events.
type Broadcaster interface {
	Publish(eventType string, data any)
}

// Enqueuer hands run execution off to the background worker.
type Enqueuer interface {
	EnqueueAutofix(opts Options) error
}

// Options controls one auto-fix run.
type Options struct {
	ScanID        uuid.UUID // zero means all pending issues
	SkipUnmatched bool
	MinScore      int
}

// Progress is the live state of an auto-fix run.
type Progress struct {
	Running   bool `json:"running"`
	Processed int  `json:"processed"`
	Total     int  `json:"total"`
	Applied   int  `json:"applied"`
	Skipped   int  `json:"skipped"`
	Failed    int  `json:"failed"`
}

// Engine applies each pending issue's best suggestion automatically. One run
// at a time, like the scan engine.
type Engine struct {
	issues   IssueStore
	writer   WriterFactory
	bus      Broadcaster
	enqueuer Enqueuer

	mu        sync.Mutex
	running   bool
	cancelled bool
	progress  Progress
}

func NewEngine(issues IssueStore, writer WriterFactory, bus Broadcaster) *Engine {
	return &Engine{issues: issues, writer: writer, bus: bus}
}

// SetEnqueuer routes run execution through the job queue. Without one,
// runs execute in-process.
func (e *Engine) SetEnqueuer(enqueuer Enqueuer) {
	e.enqueuer = enqueuer
}

// Start launches a run in the background.
func (e *Engine) Start(opts Options) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}
	e.running = true
	e.cancelled = false
	e.progress = Progress{Running: true}

	if e.enqueuer != nil {
		if err := e.enqueuer.EnqueueAutofix(opts); err != nil {
			e.running = false
			e.progress = Progress{}
			return err
		}
		return nil
	}
	go e.Execute(context.Background(), opts)
	return nil
}

// Cancel stops the current run at the next issue boundary.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		e.cancelled = true
	}
}

// Status returns the live snapshot.
func (e *Engine) Status() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

// IsRunning reports whether a run is in flight.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Execute runs auto-fix synchronously. Exposed for the background worker.
func (e *Engine) Execute(ctx context.Context, opts Options) {
	e.mu.Lock()
	if !e.running {
		// direct worker invocation without Start
		e.running = true
		e.cancelled = false
		e.progress = Progress{Running: true}
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.progress.Running = false
		final := e.progress
		e.mu.Unlock()
		e.bus.Publish("autofix_completed", final)
		log.Printf("[autofix] done: %d applied, %d skipped, %d failed of %d",
			final.Applied, final.Skipped, final.Failed, final.Total)
	}()

	issues, err := e.issues.List(repository.IssueFilter{
		ScanID: opts.ScanID,
		Status: models.IssueStatusPending,
	})
	if err != nil {
		log.Printf("[autofix] listing issues: %v", err)
		return
	}

	e.setProgress(func(p *Progress) { p.Total = len(issues) })
	e.bus.Publish("autofix_started", map[string]any{"total": len(issues)})
	if len(issues) == 0 {
		return
	}

	writer, err := e.writer(ctx)
	if err != nil {
		log.Printf("[autofix] connecting to Plex: %v", err)
		return
	}

	for i := range issues {
		if e.isCancelled() {
			break
		}
		e.fixIssue(ctx, writer, &issues[i], opts)
		e.setProgress(func(p *Progress) { p.Processed++ })
		e.bus.Publish("autofix_progress", e.Status())
	}
}

// fixIssue applies the best-scoring suggestion of one issue. Issues without
// an acceptable suggestion stay pending for manual review.
func (e *Engine) fixIssue(ctx context.Context, writer ArtworkWriter, issue *models.Issue, opts Options) {
	if opts.SkipUnmatched && issue.IssueType == models.IssueNoMatch {
		e.setProgress(func(p *Progress) { p.Skipped++ })
		return
	}

	best := bestSuggestion(issue.Suggestions)
	if best == nil || best.Score < opts.MinScore {
		e.setProgress(func(p *Progress) { p.Skipped++ })
		return
	}

	if err := e.apply(ctx, writer, issue.PlexRatingKey, best); err != nil {
		log.Printf("[autofix] issue %s: %v", issue.ID, err)
		e.setProgress(func(p *Progress) { p.Failed++ })
		return
	}

	if err := e.issues.SetStatus(issue.ID, models.IssueStatusApplied); err != nil {
		log.Printf("[autofix] marking issue %s applied: %v", issue.ID, err)
	}
	if err := e.issues.MarkSelected(issue.ID, best.ID); err != nil {
		log.Printf("[autofix] marking suggestion %s selected: %v", best.ID, err)
	}
	e.setProgress(func(p *Progress) { p.Applied++ })
}

func (e *Engine) apply(ctx context.Context, writer ArtworkWriter, ratingKey string, s *models.Suggestion) error {
	switch s.ArtworkType {
	case models.ArtworkPoster:
		if err := writer.UploadPoster(ctx, ratingKey, s.ImageURL); err != nil {
			return err
		}
		return writer.LockPoster(ctx, ratingKey)
	case models.ArtworkBackground:
		if err := writer.UploadBackground(ctx, ratingKey, s.ImageURL); err != nil {
			return err
		}
		return writer.LockBackground(ctx, ratingKey)
	}
	return errors.New("unsupported artwork type " + string(s.ArtworkType))
}

func bestSuggestion(suggestions []models.Suggestion) *models.Suggestion {
	var best *models.Suggestion
	for i := range suggestions {
		if best == nil || suggestions[i].Score > best.Score {
			best = &suggestions[i]
		}
	}
	return best
}

func (e *Engine) isCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

func (e *Engine) setProgress(update func(*Progress)) {
	e.mu.Lock()
	update(&e.progress)
	e.mu.Unlock()
}
