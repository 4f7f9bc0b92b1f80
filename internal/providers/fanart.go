package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/JustinTDCT/MetaFix/internal/models"
)

// fanart.tv keys by tmdb id for movies and tvdb id for shows. The response
// groups images by a per-type key; anything not in this map is ignored.
var fanartTypeMap = map[string]models.ArtworkType{
	"hdmovielogo":     models.ArtworkLogo,
	"hdtvlogo":        models.ArtworkLogo,
	"clearlogo":       models.ArtworkLogo,
	"movieposter":     models.ArtworkPoster,
	"tvposter":        models.ArtworkPoster,
	"moviebackground": models.ArtworkBackground,
	"showbackground":  models.ArtworkBackground,
}

type FanartProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewFanartProvider(apiKey string) *FanartProvider {
	return &FanartProvider{
		apiKey:  apiKey,
		baseURL: "http://webservice.fanart.tv/v3",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *FanartProvider) Name() models.ProviderName { return models.ProviderFanart }

func (p *FanartProvider) Fetch(ctx context.Context, req Request) ([]Result, error) {
	if p.apiKey == "" {
		return nil, nil
	}

	var endpoint string
	switch req.MediaType {
	case models.MediaTypeMovie:
		id := req.ExternalIDs["tmdb"]
		if id == "" {
			id = req.ExternalIDs["imdb"]
		}
		if id == "" {
			return nil, nil
		}
		endpoint = fmt.Sprintf("%s/movies/%s", p.baseURL, id)
	default:
		id := req.ExternalIDs["tvdb"]
		if id == "" {
			return nil, nil
		}
		endpoint = fmt.Sprintf("%s/tv/%s", p.baseURL, id)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("api-key", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("fanart.tv returned %d", resp.StatusCode)
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	var results []Result
	for key, artworkType := range fanartTypeMap {
		raw, ok := body[key]
		if !ok {
			continue
		}
		var images []struct {
			URL   string `json:"url"`
			Lang  string `json:"lang"`
			Likes string `json:"likes"`
		}
		if err := json.Unmarshal(raw, &images); err != nil {
			continue
		}
		for _, img := range images {
			likes, _ := strconv.Atoi(img.Likes)
			results = append(results, Result{
				Source:      models.ProviderFanart,
				ArtworkType: artworkType,
				ImageURL:    img.URL,
				Language:    img.Lang,
				Score:       likes,
			})
		}
	}
	return results, nil
}
