package providers

import (
	"context"

	"github.com/JustinTDCT/MetaFix/internal/models"
	"github.com/JustinTDCT/MetaFix/internal/plex"
)

// PlexProvider surfaces the artwork choices Plex's own agents already offer
// for an item. It needs a rating key, not external ids.
type PlexProvider struct {
	client *plex.Client
}

func NewPlexProvider(client *plex.Client) *PlexProvider {
	return &PlexProvider{client: client}
}

func (p *PlexProvider) Name() models.ProviderName { return models.ProviderPlex }

func (p *PlexProvider) Fetch(ctx context.Context, req Request) ([]Result, error) {
	if req.RatingKey == "" {
		return nil, nil
	}

	var results []Result

	posters, err := p.client.AvailablePosters(ctx, req.RatingKey)
	if err != nil {
		return nil, err
	}
	for _, opt := range posters {
		results = append(results, Result{
			Source:      models.ProviderPlex,
			ArtworkType: models.ArtworkPoster,
			ImageURL:    opt.URL,
			ThumbnailURL: opt.Thumb,
		})
	}

	backgrounds, err := p.client.AvailableBackgrounds(ctx, req.RatingKey)
	if err != nil {
		return nil, err
	}
	for _, opt := range backgrounds {
		results = append(results, Result{
			Source:      models.ProviderPlex,
			ArtworkType: models.ArtworkBackground,
			ImageURL:    opt.URL,
			ThumbnailURL: opt.Thumb,
		})
	}
	return results, nil
}
