package edition

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/JustinTDCT/MetaFix/internal/models"
	"github.com/JustinTDCT/MetaFix/internal/plex"
	"github.com/JustinTDCT/MetaFix/internal/repository"
)

// Compose runs the configured modules against raw item metadata and joins
// their fragments. Returns "" when nothing matched.
func Compose(meta map[string]any, cfg *models.EditionConfig) string {
	enabled := make(map[string]bool, len(cfg.EnabledModules))
	for _, name := range cfg.EnabledModules {
		enabled[name] = true
	}

	var parts []string
	for _, name := range cfg.ModuleOrder {
		if !enabled[name] {
			continue
		}
		module := lookupModule(name)
		if module == nil {
			continue
		}
		if value := module(meta, cfg.Settings); value != "" {
			parts = append(parts, value)
		}
	}

	separator := cfg.Settings.Separator
	if separator == "" {
		separator = " . "
	}
	return strings.Join(parts, separator)
}

// Engine generates and applies edition strings against a Plex server.
type Engine struct {
	client *plex.Client
	repo   *repository.EditionRepository
}

func NewEngine(client *plex.Client, repo *repository.EditionRepository) *Engine {
	return &Engine{client: client, repo: repo}
}

// Config loads the stored module configuration with defaults filled in.
func (e *Engine) Config() (*models.EditionConfig, error) {
	return e.repo.GetConfig(ModuleNames())
}

// SaveConfig persists the module configuration.
func (e *Engine) SaveConfig(cfg *models.EditionConfig) error {
	return e.repo.SaveConfig(cfg)
}

// Generate builds the edition string for an item without applying it.
func (e *Engine) Generate(ctx context.Context, ratingKey string) (string, error) {
	cfg, err := e.Config()
	if err != nil {
		return "", err
	}
	meta, err := e.client.RawItemMetadata(ctx, ratingKey)
	if err != nil {
		return "", err
	}
	return Compose(meta, cfg), nil
}

// Apply backs up the item's current edition, then writes the new one.
// The backup keeps the pre-MetaFix value so Restore always has an original.
func (e *Engine) Apply(ctx context.Context, ratingKey, editionString string) error {
	item, err := e.client.ItemMetadata(ctx, ratingKey)
	if err != nil {
		return err
	}

	var original *string
	if item.EditionTitle != "" {
		original = &item.EditionTitle
	}
	if _, err := e.repo.Backup(ratingKey, item.Title, original, &editionString); err != nil {
		return err
	}

	return e.client.SetEdition(ctx, ratingKey, editionString)
}

// GenerateAndApply is the scan-loop path: generate, then apply when the
// result differs from what is already set.
func (e *Engine) GenerateAndApply(ctx context.Context, ratingKey string) (string, bool, error) {
	edition, err := e.Generate(ctx, ratingKey)
	if err != nil {
		return "", false, err
	}
	if edition == "" {
		return "", false, nil
	}

	item, err := e.client.ItemMetadata(ctx, ratingKey)
	if err != nil {
		return "", false, err
	}
	if item.EditionTitle == edition {
		return edition, false, nil
	}

	if err := e.Apply(ctx, ratingKey, edition); err != nil {
		return "", false, err
	}
	log.Printf("[edition] %s: %q", ratingKey, edition)
	return edition, true, nil
}

// Restore writes an item's backed-up original edition back to Plex.
func (e *Engine) Restore(ctx context.Context, ratingKey string) error {
	backup, err := e.repo.GetBackup(ratingKey)
	if err != nil {
		return err
	}
	if backup == nil {
		return fmt.Errorf("no edition backup for item %s", ratingKey)
	}

	original := ""
	if backup.OriginalEdition != nil {
		original = *backup.OriginalEdition
	}
	if err := e.client.SetEdition(ctx, ratingKey, original); err != nil {
		return err
	}
	return e.repo.MarkRestored(backup.ID)
}
