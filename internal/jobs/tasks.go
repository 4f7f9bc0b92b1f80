package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/JustinTDCT/MetaFix/internal/autofix"
	"github.com/JustinTDCT/MetaFix/internal/models"
	"github.com/JustinTDCT/MetaFix/internal/repository"
	"github.com/JustinTDCT/MetaFix/internal/scan"
)

// ──────── Payloads ────────

type ScanPayload struct {
	ScanID string `json:"scan_id"`
}

type AutofixPayload struct {
	ScanID        string `json:"scan_id,omitempty"`
	SkipUnmatched bool   `json:"skip_unmatched"`
	MinScore      int    `json:"min_score"`
}

// ──────── Register all handlers ────────

func RegisterHandlers(q *Queue, scans *scan.Engine, scanRepo *repository.ScanRepository, fixer *autofix.Engine) {
	q.RegisterHandler(TaskScanRun, asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		var payload ScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("unmarshal scan payload: %w", err)
		}
		scanID, err := uuid.Parse(payload.ScanID)
		if err != nil {
			return fmt.Errorf("parse scan id: %w", err)
		}
		record, err := scanRepo.GetByID(scanID)
		if err != nil {
			return fmt.Errorf("load scan %s: %w", scanID, err)
		}
		if record == nil {
			log.Printf("[jobs] scan %s no longer exists, dropping task", scanID)
			return nil
		}
		// Replayed tasks whose row already moved on must not restart the scan.
		if record.Status != models.ScanStatusRunning {
			log.Printf("[jobs] scan %s is %s, dropping task", scanID, record.Status)
			return nil
		}
		config := models.DefaultScanConfig()
		if record.Config != "" {
			if err := json.Unmarshal([]byte(record.Config), &config); err != nil {
				return fmt.Errorf("decode scan config: %w", err)
			}
		}
		config.ScanType = record.ScanType
		scans.Execute(ctx, scanID, config)
		return nil
	}))

	q.RegisterHandler(TaskAutofixRun, asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		var payload AutofixPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("unmarshal autofix payload: %w", err)
		}
		opts := autofix.Options{
			SkipUnmatched: payload.SkipUnmatched,
			MinScore:      payload.MinScore,
		}
		if payload.ScanID != "" {
			scanID, err := uuid.Parse(payload.ScanID)
			if err != nil {
				return fmt.Errorf("parse scan id: %w", err)
			}
			opts.ScanID = scanID
		}
		fixer.Execute(ctx, opts)
		return nil
	}))
}

// Enqueuer hands scan and autofix execution off to the queue so runs
// survive process restarts and never pile up for the same ID.
type Enqueuer struct {
	queue *Queue
}

func NewEnqueuer(q *Queue) *Enqueuer {
	return &Enqueuer{queue: q}
}

func (e *Enqueuer) EnqueueScan(scanID uuid.UUID) error {
	payload := ScanPayload{ScanID: scanID.String()}
	_, err := e.queue.EnqueueUnique(TaskScanRun, payload, "scan:"+scanID.String(), asynq.Queue(QueueScans))
	return err
}

// EnqueueAutofix queues an autofix run. A fixed task ID keeps concurrent
// requests from starting overlapping runs.
func (e *Enqueuer) EnqueueAutofix(opts autofix.Options) error {
	payload := AutofixPayload{
		SkipUnmatched: opts.SkipUnmatched,
		MinScore:      opts.MinScore,
	}
	if opts.ScanID != uuid.Nil {
		payload.ScanID = opts.ScanID.String()
	}
	_, err := e.queue.EnqueueUnique(TaskAutofixRun, payload, "autofix:run", asynq.Queue(QueueMaintenance))
	return err
}
