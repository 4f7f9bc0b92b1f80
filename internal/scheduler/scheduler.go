package scheduler

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/JustinTDCT/MetaFix/internal/autofix"
	"github.com/JustinTDCT/MetaFix/internal/models"
)

// ScheduleStore is the schedule persistence the scheduler needs.
type ScheduleStore interface {
	List(enabledOnly bool) ([]models.Schedule, error)
	GetByID(id uuid.UUID) (*models.Schedule, error)
	SetRunTimes(id uuid.UUID, lastRun time.Time, nextRun *time.Time) error
}

// ScanStarter starts scans on behalf of triggered schedules.
type ScanStarter interface {
	Start(config models.ScanConfig) (*models.Scan, error)
}

// ScanReader looks up scan state for the auto-commit monitor.
type ScanReader interface {
	GetByID(id uuid.UUID) (*models.Scan, error)
}

// FixStarter launches auto-fix runs after auto-commit scans complete.
type FixStarter interface {
	Start(opts autofix.Options) error
}

// How often the auto-commit monitor polls a scheduled scan's state.
var monitorInterval = 5 * time.Second

// Scheduler drives stored cron schedules. One cron entry per enabled
// schedule, keyed by schedule id so updates replace cleanly.
type Scheduler struct {
	store ScheduleStore
	scans ScanStarter
	reads ScanReader
	fixes FixStarter
	cron  *cron.Cron

	mu      sync.Mutex
	entries map[uuid.UUID]cron.EntryID
	started bool
}

func New(store ScheduleStore, scans ScanStarter, reads ScanReader, fixes FixStarter) *Scheduler {
	return &Scheduler{
		store:   store,
		scans:   scans,
		reads:   reads,
		fixes:   fixes,
		cron:    cron.New(),
		entries: make(map[uuid.UUID]cron.EntryID),
	}
}

// Start launches the cron loop and registers every enabled schedule.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	schedules, err := s.store.List(true)
	if err != nil {
		return err
	}
	for i := range schedules {
		if err := s.AddJob(&schedules[i]); err != nil {
			log.Printf("[scheduler] failed to add job %s: %v", schedules[i].ID, err)
		}
	}

	s.cron.Start()
	log.Printf("[scheduler] started with %d jobs", len(schedules))
	return nil
}

// Stop halts the cron loop, waiting for in-flight triggers.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// AddJob registers one schedule with cron, replacing any existing entry.
func (s *Scheduler) AddJob(schedule *models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[schedule.ID]; ok {
		s.cron.Remove(existing)
		delete(s.entries, schedule.ID)
	}

	id := schedule.ID
	entryID, err := s.cron.AddFunc(schedule.CronExpression, func() { s.trigger(id) })
	if err != nil {
		return err
	}
	s.entries[schedule.ID] = entryID
	log.Printf("[scheduler] added job %s (%s)", schedule.Name, schedule.CronExpression)
	return nil
}

// UpdateJob re-reads a schedule and re-registers or removes its entry.
func (s *Scheduler) UpdateJob(scheduleID uuid.UUID) error {
	schedule, err := s.store.GetByID(scheduleID)
	if err != nil {
		return err
	}
	if schedule == nil || !schedule.Enabled {
		s.RemoveJob(scheduleID)
		return nil
	}
	return s.AddJob(schedule)
}

// RemoveJob drops a schedule's cron entry if present.
func (s *Scheduler) RemoveJob(scheduleID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[scheduleID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, scheduleID)
		log.Printf("[scheduler] removed job %s", scheduleID)
	}
}

// RunNow fires a schedule immediately, outside its cron expression.
func (s *Scheduler) RunNow(scheduleID uuid.UUID) {
	s.trigger(scheduleID)
}

// NextRun reports when a schedule's cron entry fires next.
func (s *Scheduler) NextRun(scheduleID uuid.UUID) *time.Time {
	s.mu.Lock()
	entryID, ok := s.entries[scheduleID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	next := s.cron.Entry(entryID).Next
	if next.IsZero() {
		return nil
	}
	return &next
}

func (s *Scheduler) trigger(scheduleID uuid.UUID) {
	schedule, err := s.store.GetByID(scheduleID)
	if err != nil || schedule == nil {
		log.Printf("[scheduler] trigger %s: schedule missing (%v)", scheduleID, err)
		return
	}
	log.Printf("[scheduler] executing schedule %s (%s)", schedule.Name, scheduleID)

	if err := s.store.SetRunTimes(scheduleID, time.Now().UTC(), s.NextRun(scheduleID)); err != nil {
		log.Printf("[scheduler] stamping run time for %s: %v", scheduleID, err)
	}

	config := models.DefaultScanConfig()
	if err := json.Unmarshal([]byte(schedule.Config), &config); err != nil {
		log.Printf("[scheduler] bad config for schedule %s: %v", scheduleID, err)
		return
	}
	config.ScanType = schedule.ScanType
	config.TriggeredBy = "schedule_" + scheduleID.String()

	started, err := s.scans.Start(config)
	if err != nil {
		log.Printf("[scheduler] schedule %s could not start scan: %v", scheduleID, err)
		return
	}

	if schedule.AutoCommit {
		opts := autofix.Options{ScanID: started.ID, SkipUnmatched: true}
		if schedule.AutoCommitOptions != nil {
			var stored models.AutoCommitOptions
			if err := json.Unmarshal([]byte(*schedule.AutoCommitOptions), &stored); err == nil {
				opts.SkipUnmatched = stored.SkipUnmatched
				opts.MinScore = stored.MinScore
			}
		}
		go s.monitorAndCommit(started.ID, opts)
	}
}

// monitorAndCommit polls a scheduled scan and runs auto-fix once it
// completes. Failed and cancelled scans skip the commit.
func (s *Scheduler) monitorAndCommit(scanID uuid.UUID, opts autofix.Options) {
	log.Printf("[scheduler] monitoring scan %s for auto-commit", scanID)
	for {
		time.Sleep(monitorInterval)

		scanRecord, err := s.reads.GetByID(scanID)
		if err != nil || scanRecord == nil {
			log.Printf("[scheduler] monitor lost scan %s (%v)", scanID, err)
			return
		}

		switch scanRecord.Status {
		case models.ScanStatusCompleted:
			log.Printf("[scheduler] scan %s completed, running auto-commit", scanID)
			if err := s.fixes.Start(opts); err != nil {
				log.Printf("[scheduler] auto-commit for scan %s: %v", scanID, err)
			}
			return
		case models.ScanStatusFailed, models.ScanStatusCancelled:
			log.Printf("[scheduler] scan %s %s, skipping auto-commit", scanID, scanRecord.Status)
			return
		}
	}
}
