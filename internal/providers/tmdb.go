package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JustinTDCT/MetaFix/internal/models"
)

const tmdbFallbackImageBase = "https://image.tmdb.org/t/p/"

type TMDBProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter

	mu        sync.Mutex
	imageBase string
}

func NewTMDBProvider(apiKey string) *TMDBProvider {
	return &TMDBProvider{
		apiKey:  apiKey,
		baseURL: "https://api.themoviedb.org/3",
		client:  &http.Client{Timeout: 10 * time.Second},
		// TMDB allows ~50 req/s; stay well under it
		limiter: rate.NewLimiter(rate.Limit(20), 5),
	}
}

func (p *TMDBProvider) Name() models.ProviderName { return models.ProviderTMDB }

func (p *TMDBProvider) get(ctx context.Context, endpoint string, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != 200 {
		return fmt.Errorf("TMDB returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// imageBaseURL returns TMDB's configured secure image host, cached after the
// first lookup. Falls back to the well-known host on any failure.
func (p *TMDBProvider) imageBaseURL(ctx context.Context) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.imageBase != "" {
		return p.imageBase
	}

	var cfg struct {
		Images struct {
			SecureBaseURL string `json:"secure_base_url"`
		} `json:"images"`
	}
	if err := p.get(ctx, "/configuration?api_key="+p.apiKey, &cfg); err != nil || cfg.Images.SecureBaseURL == "" {
		p.imageBase = tmdbFallbackImageBase
	} else {
		p.imageBase = cfg.Images.SecureBaseURL
	}
	return p.imageBase
}

// resolveID turns an external imdb or tvdb id into a TMDB id via /find.
func (p *TMDBProvider) resolveID(ctx context.Context, req Request) (string, error) {
	if id := req.ExternalIDs["tmdb"]; id != "" {
		return id, nil
	}

	var extID, source string
	if id := req.ExternalIDs["imdb"]; id != "" {
		extID, source = id, "imdb_id"
	} else if id := req.ExternalIDs["tvdb"]; id != "" {
		extID, source = id, "tvdb_id"
	} else {
		return "", nil
	}

	var found struct {
		MovieResults []struct {
			ID int `json:"id"`
		} `json:"movie_results"`
		TVResults []struct {
			ID int `json:"id"`
		} `json:"tv_results"`
	}
	endpoint := fmt.Sprintf("/find/%s?api_key=%s&external_source=%s", extID, p.apiKey, source)
	if err := p.get(ctx, endpoint, &found); err != nil {
		return "", err
	}

	if req.MediaType == models.MediaTypeMovie && len(found.MovieResults) > 0 {
		return fmt.Sprint(found.MovieResults[0].ID), nil
	}
	if req.MediaType != models.MediaTypeMovie && len(found.TVResults) > 0 {
		return fmt.Sprint(found.TVResults[0].ID), nil
	}
	return "", nil
}

func (p *TMDBProvider) Fetch(ctx context.Context, req Request) ([]Result, error) {
	if p.apiKey == "" {
		return nil, nil
	}

	tmdbID, err := p.resolveID(ctx, req)
	if err != nil {
		return nil, err
	}
	if tmdbID == "" {
		return nil, nil
	}

	kind := "tv"
	if req.MediaType == models.MediaTypeMovie {
		kind = "movie"
	}

	var images struct {
		Posters []tmdbImage `json:"posters"`
		Backdrops []tmdbImage `json:"backdrops"`
		Logos   []tmdbImage `json:"logos"`
	}
	endpoint := fmt.Sprintf("/%s/%s/images?api_key=%s&include_image_language=en,null", kind, tmdbID, p.apiKey)
	if err := p.get(ctx, endpoint, &images); err != nil {
		return nil, err
	}

	base := p.imageBaseURL(ctx)
	var results []Result
	results = appendTMDBResults(results, base, images.Posters, models.ArtworkPoster)
	results = appendTMDBResults(results, base, images.Backdrops, models.ArtworkBackground)
	results = appendTMDBResults(results, base, images.Logos, models.ArtworkLogo)
	return results, nil
}

type tmdbImage struct {
	FilePath    string  `json:"file_path"`
	Language    string  `json:"iso_639_1"`
	VoteAverage float64 `json:"vote_average"`
}

func appendTMDBResults(results []Result, base string, images []tmdbImage, artworkType models.ArtworkType) []Result {
	for _, img := range images {
		results = append(results, Result{
			Source:       models.ProviderTMDB,
			ArtworkType:  artworkType,
			ImageURL:     base + "original" + img.FilePath,
			ThumbnailURL: base + "w500" + img.FilePath,
			Language:     img.Language,
			Score:        int(img.VoteAverage * 10),
		})
	}
	return results
}
