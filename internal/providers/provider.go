package providers

import (
	"context"

	"github.com/JustinTDCT/MetaFix/internal/models"
	"github.com/JustinTDCT/MetaFix/internal/plex"
)

// Request identifies a media item to fetch artwork for.
type Request struct {
	MediaType   models.MediaType
	Title       string
	ExternalIDs map[string]string // source → id (tmdb, imdb, tvdb)
	RatingKey   string            // for the Plex provider
}

// Result is one artwork candidate from a provider.
type Result struct {
	Source       models.ProviderName
	ArtworkType  models.ArtworkType
	ImageURL     string
	ThumbnailURL string
	Language     string
	Score        int
	SetName      string
	CreatorName  string
}

// Provider fetches artwork candidates from one external source. A provider
// with no usable id for the request returns an empty slice, not an error.
type Provider interface {
	Name() models.ProviderName
	Fetch(ctx context.Context, req Request) ([]Result, error)
}

// KeySource supplies saved provider API keys and the preference order.
type KeySource interface {
	ProviderKey(provider string) (string, error)
	ProviderPriority() ([]string, error)
}

// Configured builds adapters for every provider with a saved key. The Plex
// provider rides along when a client is given.
func Configured(source KeySource, plexClient *plex.Client) ([]Provider, error) {
	var set []Provider
	for _, name := range []string{"fanart", "mediux", "tmdb", "tvdb"} {
		key, err := source.ProviderKey(name)
		if err != nil {
			return nil, err
		}
		if key == "" {
			continue
		}
		switch name {
		case "fanart":
			set = append(set, NewFanartProvider(key))
		case "mediux":
			set = append(set, NewMediuxProvider(key))
		case "tmdb":
			set = append(set, NewTMDBProvider(key))
		case "tvdb":
			set = append(set, NewTVDBProvider(key))
		}
	}
	if plexClient != nil {
		set = append(set, NewPlexProvider(plexClient))
	}
	return set, nil
}

// BuildAggregator assembles the configured provider set under the saved
// priority order.
func BuildAggregator(source KeySource, plexClient *plex.Client) (*Aggregator, error) {
	set, err := Configured(source, plexClient)
	if err != nil {
		return nil, err
	}
	priority, err := source.ProviderPriority()
	if err != nil {
		return nil, err
	}
	return NewAggregator(set, priority), nil
}

// Suggestion converts a result into its storable form.
func (r Result) Suggestion() models.Suggestion {
	s := models.Suggestion{
		Source:      r.Source,
		ArtworkType: r.ArtworkType,
		ImageURL:    r.ImageURL,
		Score:       r.Score,
	}
	if r.ThumbnailURL != "" {
		s.ThumbnailURL = &r.ThumbnailURL
	}
	if r.Language != "" {
		s.Language = &r.Language
	}
	if r.SetName != "" {
		s.SetName = &r.SetName
	}
	if r.CreatorName != "" {
		s.CreatorName = &r.CreatorName
	}
	return s
}
