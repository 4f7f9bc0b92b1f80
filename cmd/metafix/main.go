package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JustinTDCT/MetaFix/internal/api"
	"github.com/JustinTDCT/MetaFix/internal/artwork"
	"github.com/JustinTDCT/MetaFix/internal/autofix"
	"github.com/JustinTDCT/MetaFix/internal/config"
	"github.com/JustinTDCT/MetaFix/internal/crypto"
	"github.com/JustinTDCT/MetaFix/internal/db"
	"github.com/JustinTDCT/MetaFix/internal/edition"
	"github.com/JustinTDCT/MetaFix/internal/events"
	"github.com/JustinTDCT/MetaFix/internal/jobs"
	"github.com/JustinTDCT/MetaFix/internal/plex"
	"github.com/JustinTDCT/MetaFix/internal/providers"
	"github.com/JustinTDCT/MetaFix/internal/repository"
	"github.com/JustinTDCT/MetaFix/internal/scan"
	"github.com/JustinTDCT/MetaFix/internal/scheduler"
	"github.com/JustinTDCT/MetaFix/internal/version"
)

var errPlexNotConfigured = errors.New("plex connection not configured")

func main() {
	ver := version.Load()
	log.Printf("MetaFix %s starting...", ver.Version)

	cfg := config.Load()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer database.Close()

	if err := db.Migrate(database, "migrations"); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	cipher := crypto.NewCipher(cfg.SecretKey)
	configRepo := repository.NewConfigRepository(database.DB, cipher)
	scanRepo := repository.NewScanRepository(database.DB)
	issueRepo := repository.NewIssueRepository(database.DB)
	editionRepo := repository.NewEditionRepository(database.DB)
	scheduleRepo := repository.NewScheduleRepository(database.DB)

	bus := events.NewBus()

	plexClient := func() (*plex.Client, error) {
		serverURL, token, err := configRepo.PlexConnection()
		if err != nil {
			return nil, err
		}
		if serverURL == "" || token == "" {
			return nil, errPlexNotConfigured
		}
		return plex.NewClient(serverURL, token), nil
	}

	sessions := func(ctx context.Context) (*scan.Session, error) {
		client, err := plexClient()
		if err != nil {
			return nil, err
		}
		suggestions, err := providers.BuildAggregator(configRepo, client)
		if err != nil {
			return nil, err
		}
		return &scan.Session{
			Server:      client,
			Inspector:   artwork.NewDetector(client),
			Editions:    edition.NewEngine(client, editionRepo),
			Suggestions: suggestions,
		}, nil
	}

	scanEngine := scan.NewEngine(scanRepo, issueRepo, bus, sessions)
	fixEngine := autofix.NewEngine(issueRepo, func(ctx context.Context) (autofix.ArtworkWriter, error) {
		return plexClient()
	}, bus)

	if interrupted, err := scanEngine.CheckInterrupted(); err != nil {
		log.Printf("interrupted scan check failed: %v", err)
	} else if len(interrupted) > 0 {
		log.Printf("%d interrupted scan(s) awaiting discard", len(interrupted))
	}

	queue := jobs.NewQueue(cfg.RedisAddr)
	jobs.RegisterHandlers(queue, scanEngine, scanRepo, fixEngine)
	enqueuer := jobs.NewEnqueuer(queue)
	scanEngine.SetEnqueuer(enqueuer)
	fixEngine.SetEnqueuer(enqueuer)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go func() {
		if err := queue.Start(workerCtx); err != nil {
			log.Fatalf("job queue failed: %v", err)
		}
	}()

	sched := scheduler.New(scheduleRepo, scanEngine, scanRepo, fixEngine)
	if err := sched.Start(); err != nil {
		log.Fatalf("scheduler failed: %v", err)
	}

	srv := api.NewServer(cfg, ver.Version, bus,
		configRepo, scanRepo, issueRepo, editionRepo, scheduleRepo,
		scanEngine, fixEngine, sched)

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", cfg.Address())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)
	sched.Stop()
	queue.Stop()
}
