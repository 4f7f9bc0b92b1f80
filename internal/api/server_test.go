package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JustinTDCT/MetaFix/internal/autofix"
	"github.com/JustinTDCT/MetaFix/internal/config"
	"github.com/JustinTDCT/MetaFix/internal/events"
	"github.com/JustinTDCT/MetaFix/internal/models"
	"github.com/JustinTDCT/MetaFix/internal/scan"
)

// scanStoreStub satisfies scan.ScanStore with no backing storage so the
// engine can be exercised through its idle-state paths.
type scanStoreStub struct{}

func (scanStoreStub) Create(scanType models.ScanType, configJSON, triggeredBy string) (*models.Scan, error) {
	return &models.Scan{ID: uuid.New(), ScanType: scanType, Status: models.ScanStatusPending}, nil
}
func (scanStoreStub) GetByID(id uuid.UUID) (*models.Scan, error)        { return nil, nil }
func (scanStoreStub) SetStatus(uuid.UUID, models.ScanStatus) error      { return nil }
func (scanStoreStub) UpdateProgress(uuid.UUID, int, int, int, int, string, string) error {
	return nil
}
func (scanStoreStub) SaveCheckpoint(uuid.UUID, string) error            { return nil }
func (scanStoreStub) AddEvent(uuid.UUID, string, string) error          { return nil }
func (scanStoreStub) Interrupted() ([]models.Scan, error)               { return nil, nil }

type issueStoreStub struct{}

func (issueStoreStub) Create(issue *models.Issue) (*models.Issue, error) { return issue, nil }
func (issueStoreStub) ReplaceSuggestions(uuid.UUID, []models.Suggestion) error {
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	bus := events.NewBus()
	engine := scan.NewEngine(scanStoreStub{}, issueStoreStub{}, bus, nil)
	fixer := autofix.NewEngine(nil, nil, bus)
	cfg := &config.Config{Port: 8080}
	return NewServer(cfg, "test", bus, nil, nil, nil, nil, nil, engine, fixer, nil)
}

func doRequest(t *testing.T, srv *Server, method, path, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp Response
	if rec.Body.Len() > 0 {
		json.Unmarshal(rec.Body.Bytes(), &resp)
	}
	return rec, resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec, _ := doRequest(t, srv, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t)
	rec, _ := doRequest(t, srv, http.MethodGet, "/health", "")

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/scans/start", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestScanStartRejectsBadInput(t *testing.T) {
	srv := newTestServer(t)

	rec, resp := doRequest(t, srv, http.MethodPost, "/api/v1/scans/start", `{"scan_type":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "scan_type")

	rec, _ = doRequest(t, srv, http.MethodPost, "/api/v1/scans/start", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanControlsConflictWhenIdle(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{
		"/api/v1/scans/pause",
		"/api/v1/scans/resume",
		"/api/v1/scans/cancel",
	} {
		rec, resp := doRequest(t, srv, http.MethodPost, path, "")
		assert.Equal(t, http.StatusConflict, rec.Code, path)
		assert.False(t, resp.Success, path)
	}
}

func TestScanStatusIdle(t *testing.T) {
	srv := newTestServer(t)
	rec, _ := doRequest(t, srv, http.MethodGet, "/api/v1/scans/status", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Progress scan.Progress `json:"progress"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "idle", body.Data.Progress.Status)
}

func TestInvalidUUIDRejected(t *testing.T) {
	srv := newTestServer(t)

	rec, _ := doRequest(t, srv, http.MethodGet, "/api/v1/scans/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doRequest(t, srv, http.MethodPost, "/api/v1/scans/interrupted/nope/discard", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEditionModulesListed(t *testing.T) {
	srv := newTestServer(t)
	rec, _ := doRequest(t, srv, http.MethodGet, "/api/v1/edition/modules", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool     `json:"success"`
		Data    []string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Len(t, body.Data, 22)
	assert.Contains(t, body.Data, "Resolution")
}

func TestEditionPreviewRequiresRatingKey(t *testing.T) {
	srv := newTestServer(t)
	rec, resp := doRequest(t, srv, http.MethodPost, "/api/v1/edition/preview", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp.Error, "rating_key")
}

func TestScheduleValidation(t *testing.T) {
	srv := newTestServer(t)

	rec, resp := doRequest(t, srv, http.MethodPost, "/api/v1/schedules",
		`{"name":"nightly","cron_expression":"not a cron"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp.Error, "cron")

	rec, resp = doRequest(t, srv, http.MethodPost, "/api/v1/schedules",
		`{"cron_expression":"0 3 * * *"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp.Error, "name")
}

func TestProviderPriorityRejectsEmpty(t *testing.T) {
	srv := newTestServer(t)
	rec, resp := doRequest(t, srv, http.MethodPut, "/api/v1/settings/providers/priority", `[]`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp.Error, "non-empty")
}

func TestUnknownProviderTest(t *testing.T) {
	srv := newTestServer(t)
	rec, _ := doRequest(t, srv, http.MethodPost, "/api/v1/artwork/providers/nonesuch/test", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventStreamKeepalive(t *testing.T) {
	prev := sseKeepaliveInterval
	sseKeepaliveInterval = 25 * time.Millisecond
	defer func() { sseKeepaliveInterval = prev }()

	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/scans/subscribe", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// first the seeded connected event, then a keepalive once the stream
	// goes quiet; both arrive as data frames with a type discriminator
	var types []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(types) < 2 {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		types = append(types, event.Type)
	}
	require.Len(t, types, 2)
	assert.Equal(t, "connected", types[0])
	assert.Equal(t, "keepalive", types[1])
}

func TestAutofixIdleStatusAndCancel(t *testing.T) {
	srv := newTestServer(t)

	rec, resp := doRequest(t, srv, http.MethodGet, "/api/v1/autofix/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, _ = doRequest(t, srv, http.MethodPost, "/api/v1/autofix/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
