package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/JustinTDCT/MetaFix/internal/autofix"
	"github.com/JustinTDCT/MetaFix/internal/config"
	"github.com/JustinTDCT/MetaFix/internal/edition"
	"github.com/JustinTDCT/MetaFix/internal/events"
	"github.com/JustinTDCT/MetaFix/internal/plex"
	"github.com/JustinTDCT/MetaFix/internal/repository"
	"github.com/JustinTDCT/MetaFix/internal/scan"
	"github.com/JustinTDCT/MetaFix/internal/scheduler"
)

type Server struct {
	config       *config.Config
	version      string
	bus          *events.Bus
	configRepo   *repository.ConfigRepository
	scanRepo     *repository.ScanRepository
	issueRepo    *repository.IssueRepository
	editionRepo  *repository.EditionRepository
	scheduleRepo *repository.ScheduleRepository
	scanEngine   *scan.Engine
	fixEngine    *autofix.Engine
	scheduler    *scheduler.Scheduler
	plexAuth     *plex.Auth
	router       *http.ServeMux
}

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func NewServer(cfg *config.Config, version string, bus *events.Bus,
	configRepo *repository.ConfigRepository, scanRepo *repository.ScanRepository,
	issueRepo *repository.IssueRepository, editionRepo *repository.EditionRepository,
	scheduleRepo *repository.ScheduleRepository, scanEngine *scan.Engine,
	fixEngine *autofix.Engine, sched *scheduler.Scheduler) *Server {

	s := &Server{
		config:       cfg,
		version:      version,
		bus:          bus,
		configRepo:   configRepo,
		scanRepo:     scanRepo,
		issueRepo:    issueRepo,
		editionRepo:  editionRepo,
		scheduleRepo: scheduleRepo,
		scanEngine:   scanEngine,
		fixEngine:    fixEngine,
		scheduler:    sched,
		plexAuth:     plex.NewAuth(cfg.ClientID),
		router:       http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Static files
	fs := http.FileServer(http.Dir("web"))
	s.router.Handle("/", fs)

	s.router.HandleFunc("GET /health", s.handleHealth)

	// Plex connection
	s.router.HandleFunc("POST /api/v1/plex/auth/pin", s.handleCreatePin)
	s.router.HandleFunc("GET /api/v1/plex/auth/pin/{id}", s.handleCheckPin)
	s.router.HandleFunc("POST /api/v1/plex/resources", s.handleDiscoverServers)
	s.router.HandleFunc("POST /api/v1/plex/connect", s.handlePlexConnect)
	s.router.HandleFunc("GET /api/v1/plex/status", s.handlePlexStatus)
	s.router.HandleFunc("DELETE /api/v1/plex/connection", s.handlePlexDisconnect)
	s.router.HandleFunc("GET /api/v1/plex/libraries", s.handlePlexLibraries)
	s.router.HandleFunc("GET /api/v1/plex/libraries/{id}/items", s.handlePlexLibraryItems)
	s.router.HandleFunc("GET /api/v1/plex/items/{key}", s.handlePlexItem)

	// Scans
	s.router.HandleFunc("POST /api/v1/scans/start", s.handleScanStart)
	s.router.HandleFunc("POST /api/v1/scans/pause", s.handleScanPause)
	s.router.HandleFunc("POST /api/v1/scans/resume", s.handleScanResume)
	s.router.HandleFunc("POST /api/v1/scans/cancel", s.handleScanCancel)
	s.router.HandleFunc("GET /api/v1/scans/status", s.handleScanStatus)
	s.router.HandleFunc("GET /api/v1/scans/subscribe", s.handleEventStream)
	s.router.HandleFunc("GET /api/v1/scans/interrupted", s.handleInterruptedScans)
	s.router.HandleFunc("POST /api/v1/scans/interrupted/{id}/discard", s.handleDiscardInterrupted)
	s.router.HandleFunc("GET /api/v1/scans", s.handleScanHistory)
	s.router.HandleFunc("GET /api/v1/scans/{id}", s.handleGetScan)
	s.router.HandleFunc("GET /api/v1/scans/{id}/events", s.handleScanEvents)
	s.router.HandleFunc("DELETE /api/v1/scans/{id}", s.handleDeleteScan)

	// Issues
	s.router.HandleFunc("GET /api/v1/issues", s.handleListIssues)
	s.router.HandleFunc("GET /api/v1/issues/stats", s.handleIssueStats)
	s.router.HandleFunc("GET /api/v1/issues/{id}", s.handleGetIssue)
	s.router.HandleFunc("POST /api/v1/issues/{id}/accept", s.handleAcceptIssue)
	s.router.HandleFunc("POST /api/v1/issues/{id}/skip", s.handleSkipIssue)
	s.router.HandleFunc("POST /api/v1/issues/{id}/refresh", s.handleRefreshSuggestions)

	// Artwork providers
	s.router.HandleFunc("GET /api/v1/artwork/providers", s.handleListProviders)
	s.router.HandleFunc("POST /api/v1/artwork/providers/{name}/test", s.handleTestProvider)
	s.router.HandleFunc("GET /api/v1/artwork/search", s.handleArtworkSearch)

	// Editions
	s.router.HandleFunc("GET /api/v1/edition/modules", s.handleEditionModules)
	s.router.HandleFunc("GET /api/v1/edition/config", s.handleGetEditionConfig)
	s.router.HandleFunc("PUT /api/v1/edition/config", s.handleSaveEditionConfig)
	s.router.HandleFunc("POST /api/v1/edition/preview", s.handleEditionPreview)
	s.router.HandleFunc("POST /api/v1/edition/apply", s.handleEditionApply)
	s.router.HandleFunc("GET /api/v1/edition/backups", s.handleListEditionBackups)
	s.router.HandleFunc("POST /api/v1/edition/restore", s.handleEditionRestore)

	// Autofix
	s.router.HandleFunc("POST /api/v1/autofix/start", s.handleAutofixStart)
	s.router.HandleFunc("GET /api/v1/autofix/status", s.handleAutofixStatus)
	s.router.HandleFunc("POST /api/v1/autofix/cancel", s.handleAutofixCancel)
	s.router.HandleFunc("GET /api/v1/autofix/preview", s.handleAutofixPreview)
	s.router.HandleFunc("GET /api/v1/autofix/subscribe", s.handleEventStream)

	// Schedules
	s.router.HandleFunc("GET /api/v1/schedules", s.handleListSchedules)
	s.router.HandleFunc("POST /api/v1/schedules", s.handleCreateSchedule)
	s.router.HandleFunc("GET /api/v1/schedules/{id}", s.handleGetSchedule)
	s.router.HandleFunc("PUT /api/v1/schedules/{id}", s.handleUpdateSchedule)
	s.router.HandleFunc("DELETE /api/v1/schedules/{id}", s.handleDeleteSchedule)
	s.router.HandleFunc("POST /api/v1/schedules/{id}/enable", s.handleEnableSchedule)
	s.router.HandleFunc("POST /api/v1/schedules/{id}/disable", s.handleDisableSchedule)
	s.router.HandleFunc("POST /api/v1/schedules/{id}/run", s.handleRunSchedule)

	// Settings
	s.router.HandleFunc("GET /api/v1/settings", s.handleGetSettings)
	s.router.HandleFunc("PUT /api/v1/settings", s.handleUpdateSettings)
	s.router.HandleFunc("GET /api/v1/settings/providers/priority", s.handleGetProviderPriority)
	s.router.HandleFunc("PUT /api/v1/settings/providers/priority", s.handleSetProviderPriority)

	// WebSocket
	s.router.HandleFunc("GET /api/v1/ws", s.handleWebSocket)
}

// editionEngine builds an edition engine bound to the current Plex
// connection. Config-only operations pass a nil client through.
func (s *Server) editionEngine() (*edition.Engine, error) {
	client, err := s.plexClient()
	if err != nil {
		return nil, err
	}
	return edition.NewEngine(client, s.editionRepo), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"ts":      time.Now().UTC().Format(time.RFC3339),
	})
}

// ──────────────────── Helpers ────────────────────

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, Response{Success: false, Error: message})
}

func (s *Server) Start() error {
	handler := s.securityHeadersMiddleware(s.corsMiddleware(s.router))
	srv := &http.Server{Addr: s.config.Address(), Handler: handler}
	return srv.ListenAndServe()
}

// Handler exposes the wrapped router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.securityHeadersMiddleware(s.corsMiddleware(s.router))
}

// securityHeadersMiddleware adds standard security headers to all responses.
func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles CORS preflight and response headers globally.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
