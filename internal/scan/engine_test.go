package scan

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JustinTDCT/MetaFix/internal/artwork"
	"github.com/JustinTDCT/MetaFix/internal/models"
	"github.com/JustinTDCT/MetaFix/internal/plex"
	"github.com/JustinTDCT/MetaFix/internal/providers"
)

// ──────────────────── fakes ────────────────────

type fakeScanStore struct {
	mu          sync.Mutex
	scans       map[uuid.UUID]*models.Scan
	events      []string
	checkpoints []string
}

func newFakeScanStore() *fakeScanStore {
	return &fakeScanStore{scans: make(map[uuid.UUID]*models.Scan)}
}

func (f *fakeScanStore) Create(scanType models.ScanType, configJSON, triggeredBy string) (*models.Scan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	scan := &models.Scan{ID: uuid.New(), ScanType: scanType, Status: models.ScanStatusPending,
		Config: configJSON, TriggeredBy: triggeredBy, CreatedAt: time.Now()}
	f.scans[scan.ID] = scan
	return scan, nil
}

func (f *fakeScanStore) GetByID(id uuid.UUID) (*models.Scan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans[id], nil
}

func (f *fakeScanStore) SetStatus(id uuid.UUID, status models.ScanStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.scans[id]
	s.Status = status
	now := time.Now()
	switch status {
	case models.ScanStatusRunning:
		// write-once, same as the scans table
		if s.StartedAt == nil {
			s.StartedAt = &now
		}
	case models.ScanStatusPaused:
		s.PausedAt = &now
	case models.ScanStatusCompleted, models.ScanStatusCancelled, models.ScanStatusFailed:
		s.CompletedAt = &now
	}
	return nil
}

func (f *fakeScanStore) UpdateProgress(id uuid.UUID, processed, total, issuesFound, editionsUpdated int, lib, item string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.scans[id]
	s.ProcessedItems, s.TotalItems = processed, total
	s.IssuesFound, s.EditionsUpdated = issuesFound, editionsUpdated
	return nil
}

func (f *fakeScanStore) SaveCheckpoint(id uuid.UUID, checkpointJSON string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpoints = append(f.checkpoints, checkpointJSON)
	return nil
}

func (f *fakeScanStore) AddEvent(scanID uuid.UUID, eventType, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	return nil
}

func (f *fakeScanStore) Interrupted() ([]models.Scan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Scan
	for _, s := range f.scans {
		if !s.Status.IsTerminal() {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeScanStore) status(id uuid.UUID) models.ScanStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans[id].Status
}

type fakeIssueStore struct {
	mu          sync.Mutex
	issues      []*models.Issue
	suggestions map[uuid.UUID][]models.Suggestion
}

func newFakeIssueStore() *fakeIssueStore {
	return &fakeIssueStore{suggestions: make(map[uuid.UUID][]models.Suggestion)}
}

func (f *fakeIssueStore) Create(issue *models.Issue) (*models.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue.ID = uuid.New()
	f.issues = append(f.issues, issue)
	return issue, nil
}

func (f *fakeIssueStore) ReplaceSuggestions(issueID uuid.UUID, suggestions []models.Suggestion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suggestions[issueID] = suggestions
	return nil
}

type fakeBus struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeBus) Publish(eventType string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func (f *fakeBus) has(eventType string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == eventType {
			return true
		}
	}
	return false
}

type fakeServer struct {
	libraries []plex.Library
	items     map[string][]plex.Item
	gate      chan struct{} // when set, AllLibraryItems blocks until closed
}

func (f *fakeServer) Libraries(ctx context.Context) ([]plex.Library, error) {
	return f.libraries, nil
}

func (f *fakeServer) AllLibraryItems(ctx context.Context, libraryID string) ([]plex.Item, error) {
	if f.gate != nil {
		<-f.gate
	}
	return f.items[libraryID], nil
}

type fakeInspector struct {
	findings map[string][]artwork.Finding // rating key → findings
}

func (f *fakeInspector) Inspect(ctx context.Context, item artwork.ItemInfo, checks artwork.Checks) []artwork.Finding {
	return f.findings[item.RatingKey]
}

type fakeEditions struct {
	mu      sync.Mutex
	applied []string
}

func (f *fakeEditions) GenerateAndApply(ctx context.Context, ratingKey string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, ratingKey)
	return "4K", true, nil
}

type fakeSuggestions struct {
	results []providers.Result
}

func (f *fakeSuggestions) FetchType(ctx context.Context, req providers.Request, artworkType models.ArtworkType) []providers.Result {
	var out []providers.Result
	for _, r := range f.results {
		if r.ArtworkType == artworkType {
			out = append(out, r)
		}
	}
	return out
}

func testItems() []plex.Item {
	return []plex.Item{
		{RatingKey: "1", Title: "Matched Fine", Type: "movie", GUID: "plex://movie/a", Thumb: "/t/1", Art: "/a/1", LibraryName: "Movies", GUIDs: []string{"tmdb://603"}},
		{RatingKey: "2", Title: "Missing Poster", Type: "movie", GUID: "plex://movie/b", Art: "/a/2", LibraryName: "Movies", GUIDs: []string{"tmdb://604"}},
		{RatingKey: "3", Title: "Unmatched", Type: "movie", GUID: "local://3", LibraryName: "Movies"},
	}
}

func newTestEngine(server *fakeServer, inspector *fakeInspector, editions *fakeEditions, suggestions *fakeSuggestions) (*Engine, *fakeScanStore, *fakeIssueStore, *fakeBus) {
	scans := newFakeScanStore()
	issues := newFakeIssueStore()
	bus := &fakeBus{}
	factory := func(ctx context.Context) (*Session, error) {
		session := &Session{Server: server, Inspector: inspector, Editions: editions}
		if suggestions != nil {
			session.Suggestions = suggestions
		}
		return session, nil
	}
	return NewEngine(scans, issues, bus, factory), scans, issues, bus
}

func waitForIdle(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for e.IsRunning() {
		select {
		case <-deadline:
			t.Fatal("scan never finished")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// ──────────────────── tests ────────────────────

func TestScanFindsIssuesAndSuggestions(t *testing.T) {
	server := &fakeServer{
		libraries: []plex.Library{{ID: "lib1", Name: "Movies", Type: "movie"}},
		items:     map[string][]plex.Item{"lib1": testItems()},
	}
	inspector := &fakeInspector{findings: map[string][]artwork.Finding{
		"2": {{IssueType: models.IssueNoPoster}},
		"3": {{IssueType: models.IssueNoMatch}},
	}}
	suggestions := &fakeSuggestions{results: []providers.Result{
		{Source: models.ProviderFanart, ArtworkType: models.ArtworkPoster, ImageURL: "http://img/p.jpg", Score: 10},
	}}

	engine, scans, issues, bus := newTestEngine(server, inspector, nil, suggestions)

	cfg := models.DefaultScanConfig()
	scan, err := engine.Start(cfg)
	require.NoError(t, err)
	waitForIdle(t, engine)

	assert.Equal(t, models.ScanStatusCompleted, scans.status(scan.ID))
	require.Len(t, issues.issues, 2)

	// fixable issue got suggestions, no_match did not
	var posterIssue, matchIssue *models.Issue
	for _, i := range issues.issues {
		switch i.IssueType {
		case models.IssueNoPoster:
			posterIssue = i
		case models.IssueNoMatch:
			matchIssue = i
		}
	}
	require.NotNil(t, posterIssue)
	require.NotNil(t, matchIssue)
	assert.Len(t, issues.suggestions[posterIssue.ID], 1)
	assert.Empty(t, issues.suggestions[matchIssue.ID])

	assert.True(t, bus.has("scan_started"))
	assert.True(t, bus.has("scan_completed"))

	final, _ := scans.GetByID(scan.ID)
	assert.Equal(t, 3, final.ProcessedItems)
	assert.Equal(t, 2, final.IssuesFound)
}

func TestEditionScanSkipsShows(t *testing.T) {
	items := []plex.Item{
		{RatingKey: "m1", Title: "A Movie", Type: "movie", GUID: "plex://movie/a", LibraryName: "Movies"},
		{RatingKey: "s1", Title: "A Show", Type: "show", GUID: "plex://show/b", LibraryName: "TV"},
	}
	server := &fakeServer{items: map[string][]plex.Item{"lib1": items}}
	editions := &fakeEditions{}

	engine, scans, _, _ := newTestEngine(server, &fakeInspector{}, editions, nil)

	cfg := models.DefaultScanConfig()
	cfg.ScanType = models.ScanTypeEdition
	cfg.Libraries = []string{"lib1"}
	scan, err := engine.Start(cfg)
	require.NoError(t, err)
	waitForIdle(t, engine)

	assert.Equal(t, models.ScanStatusCompleted, scans.status(scan.ID))
	assert.Equal(t, []string{"m1"}, editions.applied)

	final, _ := scans.GetByID(scan.ID)
	assert.Equal(t, 1, final.EditionsUpdated)
}

func TestOnlyOneScanAtATime(t *testing.T) {
	gate := make(chan struct{})
	server := &fakeServer{items: map[string][]plex.Item{"lib1": nil}, gate: gate}

	engine, _, _, _ := newTestEngine(server, &fakeInspector{}, nil, nil)

	cfg := models.DefaultScanConfig()
	cfg.Libraries = []string{"lib1"}
	_, err := engine.Start(cfg)
	require.NoError(t, err)

	_, err = engine.Start(cfg)
	assert.ErrorIs(t, err, ErrScanAlreadyRunning)

	close(gate)
	waitForIdle(t, engine)

	// once idle, a new scan may start
	gate2 := make(chan struct{})
	close(gate2)
	server.gate = gate2
	_, err = engine.Start(cfg)
	require.NoError(t, err)
	waitForIdle(t, engine)
}

func TestPauseResumeCancel(t *testing.T) {
	// the gated server keeps the scan alive while we drive the controls
	gate := make(chan struct{})
	server := &fakeServer{items: map[string][]plex.Item{"lib1": nil}, gate: gate}

	engine, scans, _, bus := newTestEngine(server, &fakeInspector{}, nil, nil)

	cfg := models.DefaultScanConfig()
	cfg.Libraries = []string{"lib1"}
	scan, err := engine.Start(cfg)
	require.NoError(t, err)

	require.NoError(t, engine.Pause())
	assert.Equal(t, "paused", engine.Status().Status)
	assert.Equal(t, models.ScanStatusPaused, scans.status(scan.ID))
	assert.ErrorIs(t, engine.Pause(), ErrScanNotRunning) // double pause

	require.NoError(t, engine.Resume())
	assert.Equal(t, models.ScanStatusRunning, scans.status(scan.ID))
	assert.ErrorIs(t, engine.Resume(), ErrScanNotRunning) // not paused now

	require.NoError(t, engine.Cancel())
	close(gate)
	waitForIdle(t, engine)

	assert.Equal(t, models.ScanStatusCancelled, scans.status(scan.ID))
	assert.True(t, bus.has("scan_paused"))
	assert.True(t, bus.has("scan_resumed"))
	assert.True(t, bus.has("scan_cancelled"))
}

func TestResumeKeepsOriginalStart(t *testing.T) {
	gate := make(chan struct{})
	server := &fakeServer{items: map[string][]plex.Item{"lib1": nil}, gate: gate}

	engine, scans, _, _ := newTestEngine(server, &fakeInspector{}, nil, nil)

	cfg := models.DefaultScanConfig()
	cfg.Libraries = []string{"lib1"}
	scan, err := engine.Start(cfg)
	require.NoError(t, err)

	before, _ := scans.GetByID(scan.ID)
	require.NotNil(t, before.StartedAt)
	started := *before.StartedAt

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, engine.Pause())
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, engine.Resume())

	after, _ := scans.GetByID(scan.ID)
	require.NotNil(t, after.StartedAt)
	require.NotNil(t, after.PausedAt)
	assert.Equal(t, started, *after.StartedAt)
	assert.False(t, after.StartedAt.After(*after.PausedAt))

	require.NoError(t, engine.Cancel())
	close(gate)
	waitForIdle(t, engine)
}

func TestCancelWhilePaused(t *testing.T) {
	gate := make(chan struct{})
	server := &fakeServer{items: map[string][]plex.Item{"lib1": nil}, gate: gate}

	engine, scans, _, _ := newTestEngine(server, &fakeInspector{}, nil, nil)

	cfg := models.DefaultScanConfig()
	cfg.Libraries = []string{"lib1"}
	scan, err := engine.Start(cfg)
	require.NoError(t, err)

	require.NoError(t, engine.Pause())
	require.NoError(t, engine.Cancel())
	close(gate)
	waitForIdle(t, engine)

	assert.Equal(t, models.ScanStatusCancelled, scans.status(scan.ID))
}

func TestControlsRequireRunningScan(t *testing.T) {
	engine, _, _, _ := newTestEngine(&fakeServer{}, &fakeInspector{}, nil, nil)
	assert.ErrorIs(t, engine.Pause(), ErrScanNotRunning)
	assert.ErrorIs(t, engine.Resume(), ErrScanNotRunning)
	assert.ErrorIs(t, engine.Cancel(), ErrScanNotRunning)
}

func TestInterruptedScansSurfacedAndDiscarded(t *testing.T) {
	scans := newFakeScanStore()
	leftover, err := scans.Create(models.ScanTypeArtwork, "{}", "manual")
	require.NoError(t, err)
	scans.SetStatus(leftover.ID, models.ScanStatusRunning)

	engine := NewEngine(scans, newFakeIssueStore(), &fakeBus{}, nil)
	interrupted, err := engine.CheckInterrupted()
	require.NoError(t, err)
	require.Len(t, interrupted, 1)
	// surfaced, not auto-resolved
	assert.Equal(t, models.ScanStatusRunning, scans.status(leftover.ID))

	require.NoError(t, engine.DiscardInterrupted(leftover.ID))
	assert.Equal(t, models.ScanStatusCancelled, scans.status(leftover.ID))

	// already terminal now
	assert.Error(t, engine.DiscardInterrupted(leftover.ID))
}

func TestStaleTaskDoesNotExecute(t *testing.T) {
	server := &fakeServer{items: map[string][]plex.Item{"lib1": testItems()}}
	engine, scans, issues, bus := newTestEngine(server, &fakeInspector{}, nil, nil)

	// a running row left behind by an earlier process, replayed off the queue
	leftover, err := scans.Create(models.ScanTypeArtwork, "{}", "manual")
	require.NoError(t, err)
	scans.SetStatus(leftover.ID, models.ScanStatusRunning)

	engine.Execute(context.Background(), leftover.ID, models.DefaultScanConfig())

	// refused: the engine never went live and the row still waits for the operator
	assert.False(t, engine.IsRunning())
	assert.Equal(t, models.ScanStatusRunning, scans.status(leftover.ID))
	assert.Empty(t, issues.issues)
	assert.False(t, bus.has("scan_completed"))

	require.NoError(t, engine.DiscardInterrupted(leftover.ID))
	assert.Equal(t, models.ScanStatusCancelled, scans.status(leftover.ID))
}

func TestExecuteOnlyRunsTheLiveScan(t *testing.T) {
	gate := make(chan struct{})
	server := &fakeServer{items: map[string][]plex.Item{"lib1": nil}, gate: gate}
	engine, scans, _, _ := newTestEngine(server, &fakeInspector{}, nil, nil)

	cfg := models.DefaultScanConfig()
	cfg.Libraries = []string{"lib1"}
	live, err := engine.Start(cfg)
	require.NoError(t, err)

	// a task for any other scan id must not run alongside the live one
	other, err := scans.Create(models.ScanTypeArtwork, "{}", "manual")
	require.NoError(t, err)
	scans.SetStatus(other.ID, models.ScanStatusRunning)
	engine.Execute(context.Background(), other.ID, cfg)

	assert.True(t, engine.IsRunning())
	require.NotNil(t, engine.Status().ScanID)
	assert.Equal(t, live.ID, *engine.Status().ScanID)
	assert.Equal(t, models.ScanStatusRunning, scans.status(other.ID))

	close(gate)
	waitForIdle(t, engine)
	assert.Equal(t, models.ScanStatusCompleted, scans.status(live.ID))
}

func TestCheckpointCadence(t *testing.T) {
	many := make([]plex.Item, 25)
	for i := range many {
		many[i] = plex.Item{RatingKey: "k", Title: "Item", Type: "movie", GUID: "plex://movie/x", LibraryName: "Movies"}
	}
	server := &fakeServer{items: map[string][]plex.Item{"lib1": many}}

	engine, scans, _, _ := newTestEngine(server, &fakeInspector{}, nil, nil)

	cfg := models.DefaultScanConfig()
	cfg.Libraries = []string{"lib1"}
	cfg.CheckpointInterval = 10
	_, err := engine.Start(cfg)
	require.NoError(t, err)
	waitForIdle(t, engine)

	// 25 items at interval 10 → checkpoints at 10 and 20
	assert.Len(t, scans.checkpoints, 2)
}
