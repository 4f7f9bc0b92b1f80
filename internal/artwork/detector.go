package artwork

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/JustinTDCT/MetaFix/internal/models"
)

// Poster artwork is expected near 2:3. Backgrounds are expected wide.
const (
	posterIdealRatio = 0.667
	posterTolerance  = 0.15
)

// Finding is one detected defect on an item.
type Finding struct {
	IssueType models.IssueType
	Details   map[string]any
}

// ImageSource resolves a Plex image path to a fetchable URL.
type ImageSource interface {
	ImageURL(path string) string
}

// Detector inspects a Plex item for artwork defects. Aspect ratios are
// memoized per image path so re-scans of the same artwork are free.
type Detector struct {
	source ImageSource
	client *http.Client
	ratios map[string]float64
}

func NewDetector(source ImageSource) *Detector {
	return &Detector{
		source: source,
		client: &http.Client{Timeout: 10 * time.Second},
		ratios: make(map[string]float64),
	}
}

// Checks selects which defect classes to look for.
type Checks struct {
	Unmatched    bool
	Posters      bool
	Backgrounds  bool
	Placeholders bool
}

// Inspect runs the enabled checks against an item. An unmatched item is
// reported alone since its other defects are unfixable until it matches.
func (d *Detector) Inspect(ctx context.Context, item ItemInfo, checks Checks) []Finding {
	if checks.Unmatched && !item.Matched {
		return []Finding{{IssueType: models.IssueNoMatch}}
	}

	var findings []Finding
	if checks.Posters && item.ThumbPath == "" {
		findings = append(findings, Finding{IssueType: models.IssueNoPoster})
	}
	if checks.Backgrounds && item.ArtPath == "" {
		findings = append(findings, Finding{IssueType: models.IssueNoBackground})
	}

	if !checks.Placeholders {
		return findings
	}

	if checks.Posters && item.ThumbPath != "" {
		if ratio, ok := d.aspectRatio(ctx, item.ThumbPath); ok && posterLooksWrong(ratio) {
			findings = append(findings, Finding{
				IssueType: models.IssuePlaceholderPoster,
				Details:   map[string]any{"detected_aspect_ratio": ratio},
			})
		}
	}
	if checks.Backgrounds && item.ArtPath != "" {
		if ratio, ok := d.aspectRatio(ctx, item.ArtPath); ok && backgroundLooksWrong(ratio) {
			findings = append(findings, Finding{
				IssueType: models.IssuePlaceholderBackground,
				Details:   map[string]any{"detected_aspect_ratio": ratio},
			})
		}
	}
	return findings
}

// ItemInfo is the slice of item state the detector needs.
type ItemInfo struct {
	RatingKey string
	Matched   bool
	ThumbPath string
	ArtPath   string
}

// posterLooksWrong flags landscape posters (video screenshots) and images
// far from the standard 2:3 shape. Odd but still portrait ratios pass.
func posterLooksWrong(ratio float64) bool {
	if ratio > 1.0 {
		return true
	}
	minValid := posterIdealRatio * (1 - posterTolerance)
	maxValid := posterIdealRatio * (1 + posterTolerance)
	if ratio >= minValid && ratio <= maxValid {
		return false
	}
	return ratio > 0.9 || ratio < 0.4
}

// backgroundLooksWrong flags backgrounds that are portrait or too square.
func backgroundLooksWrong(ratio float64) bool {
	return ratio < 1.2
}

// aspectRatio fetches an image's header and returns width/height. A fetch or
// decode failure suppresses the check rather than producing a false defect.
func (d *Detector) aspectRatio(ctx context.Context, path string) (float64, bool) {
	if ratio, ok := d.ratios[path]; ok {
		return ratio, ratio > 0
	}

	ratio, err := d.fetchRatio(ctx, path)
	if err != nil {
		log.Printf("[detector] aspect ratio for %s: %v", path, err)
		d.ratios[path] = -1
		return 0, false
	}
	d.ratios[path] = ratio
	return ratio, true
}

func (d *Detector) fetchRatio(ctx context.Context, path string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", d.source.ImageURL(path), nil)
	if err != nil {
		return 0, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("image fetch returned %d", resp.StatusCode)
	}

	cfg, _, err := image.DecodeConfig(resp.Body)
	if err != nil {
		return 0, err
	}
	if cfg.Height == 0 {
		return 0, fmt.Errorf("zero-height image")
	}
	return float64(cfg.Width) / float64(cfg.Height), nil
}

// DetailsJSON marshals a finding's details for storage, or nil when empty.
func (f Finding) DetailsJSON() *string {
	if len(f.Details) == 0 {
		return nil
	}
	raw, err := json.Marshal(f.Details)
	if err != nil {
		return nil
	}
	s := string(raw)
	return &s
}
