package scheduler

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JustinTDCT/MetaFix/internal/autofix"
	"github.com/JustinTDCT/MetaFix/internal/models"
)

type fakeStore struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*models.Schedule
	lastRuns  map[uuid.UUID]time.Time
}

func newFakeStore(schedules ...*models.Schedule) *fakeStore {
	f := &fakeStore{
		schedules: make(map[uuid.UUID]*models.Schedule),
		lastRuns:  make(map[uuid.UUID]time.Time),
	}
	for _, s := range schedules {
		f.schedules[s.ID] = s
	}
	return f
}

func (f *fakeStore) List(enabledOnly bool) ([]models.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Schedule
	for _, s := range f.schedules {
		if enabledOnly && !s.Enabled {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeStore) GetByID(id uuid.UUID) (*models.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (f *fakeStore) SetRunTimes(id uuid.UUID, lastRun time.Time, nextRun *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRuns[id] = lastRun
	return nil
}

type fakeScans struct {
	mu      sync.Mutex
	configs []models.ScanConfig
	scans   map[uuid.UUID]*models.Scan
}

func newFakeScans() *fakeScans {
	return &fakeScans{scans: make(map[uuid.UUID]*models.Scan)}
}

func (f *fakeScans) Start(config models.ScanConfig) (*models.Scan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, config)
	scan := &models.Scan{ID: uuid.New(), Status: models.ScanStatusRunning, TriggeredBy: config.TriggeredBy}
	f.scans[scan.ID] = scan
	return scan, nil
}

func (f *fakeScans) GetByID(id uuid.UUID) (*models.Scan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.scans[id]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeScans) complete(status models.ScanStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.scans {
		s.Status = status
	}
}

type fakeFixes struct {
	mu   sync.Mutex
	runs []autofix.Options
}

func (f *fakeFixes) Start(opts autofix.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, opts)
	return nil
}

func (f *fakeFixes) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func testSchedule(autoCommit bool) *models.Schedule {
	cfg, _ := json.Marshal(models.DefaultScanConfig())
	return &models.Schedule{
		ID:             uuid.New(),
		Name:           "nightly",
		Enabled:        true,
		CronExpression: "0 3 * * *",
		ScanType:       models.ScanTypeBoth,
		Config:         string(cfg),
		AutoCommit:     autoCommit,
	}
}

func TestRunNowStartsScanWithScheduleIdentity(t *testing.T) {
	schedule := testSchedule(false)
	store := newFakeStore(schedule)
	scans := newFakeScans()

	s := New(store, scans, scans, &fakeFixes{})
	s.RunNow(schedule.ID)

	require.Len(t, scans.configs, 1)
	assert.Equal(t, "schedule_"+schedule.ID.String(), scans.configs[0].TriggeredBy)
	assert.Equal(t, models.ScanTypeBoth, scans.configs[0].ScanType)
	assert.Contains(t, store.lastRuns, schedule.ID)
}

func TestAddUpdateRemoveJob(t *testing.T) {
	schedule := testSchedule(false)
	store := newFakeStore(schedule)
	s := New(store, newFakeScans(), newFakeScans(), &fakeFixes{})

	require.NoError(t, s.AddJob(schedule))
	assert.NotNil(t, s.NextRun(schedule.ID))

	// re-adding replaces rather than duplicating
	require.NoError(t, s.AddJob(schedule))
	assert.Len(t, s.entries, 1)

	// disabling removes the entry on update
	store.schedules[schedule.ID].Enabled = false
	require.NoError(t, s.UpdateJob(schedule.ID))
	assert.Nil(t, s.NextRun(schedule.ID))

	// updating a deleted schedule is a clean no-op
	delete(store.schedules, schedule.ID)
	require.NoError(t, s.UpdateJob(schedule.ID))
}

func TestBadCronExpressionRejected(t *testing.T) {
	schedule := testSchedule(false)
	schedule.CronExpression = "not a cron"
	s := New(newFakeStore(schedule), newFakeScans(), newFakeScans(), &fakeFixes{})
	assert.Error(t, s.AddJob(schedule))
}

func TestStartRegistersEnabledOnly(t *testing.T) {
	enabled := testSchedule(false)
	disabled := testSchedule(false)
	disabled.Enabled = false

	s := New(newFakeStore(enabled, disabled), newFakeScans(), newFakeScans(), &fakeFixes{})
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.NotNil(t, s.NextRun(enabled.ID))
	assert.Nil(t, s.NextRun(disabled.ID))
}

func TestAutoCommitRunsAfterCompletion(t *testing.T) {
	old := monitorInterval
	monitorInterval = 10 * time.Millisecond
	defer func() { monitorInterval = old }()

	opts, _ := json.Marshal(models.AutoCommitOptions{SkipUnmatched: true, MinScore: 40})
	optsJSON := string(opts)
	schedule := testSchedule(true)
	schedule.AutoCommitOptions = &optsJSON

	store := newFakeStore(schedule)
	scans := newFakeScans()
	fixes := &fakeFixes{}

	s := New(store, scans, scans, fixes)
	s.RunNow(schedule.ID)
	require.Len(t, scans.configs, 1)

	scans.complete(models.ScanStatusCompleted)

	require.Eventually(t, func() bool { return fixes.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 40, fixes.runs[0].MinScore)
	assert.True(t, fixes.runs[0].SkipUnmatched)
	assert.NotEqual(t, uuid.Nil, fixes.runs[0].ScanID)
}

func TestAutoCommitSkippedOnFailure(t *testing.T) {
	old := monitorInterval
	monitorInterval = 10 * time.Millisecond
	defer func() { monitorInterval = old }()

	schedule := testSchedule(true)
	store := newFakeStore(schedule)
	scans := newFakeScans()
	fixes := &fakeFixes{}

	s := New(store, scans, scans, fixes)
	s.RunNow(schedule.ID)
	scans.complete(models.ScanStatusFailed)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, fixes.count())
}
