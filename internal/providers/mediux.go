package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/JustinTDCT/MetaFix/internal/models"
)

var mediuxTypeMap = map[string]models.ArtworkType{
	"poster":     models.ArtworkPoster,
	"backdrop":   models.ArtworkBackground,
	"background": models.ArtworkBackground,
	"title_card": models.ArtworkBackground,
	"logo":       models.ArtworkLogo,
	"clear_logo": models.ArtworkLogo,
}

const mediuxMovieQuery = `query ($id: ID!) {
  movies_by_id(id: $id) {
    movie_sets {
      set_title
      user_created { username }
      files { id file_type }
    }
  }
}`

const mediuxShowQuery = `query ($id: ID!) {
  shows_by_id(id: $id) {
    show_sets {
      set_title
      user_created { username }
      files { id file_type }
    }
  }
}`

type MediuxProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewMediuxProvider(apiKey string) *MediuxProvider {
	return &MediuxProvider{
		apiKey:  apiKey,
		baseURL: "https://staged.mediux.io",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *MediuxProvider) Name() models.ProviderName { return models.ProviderMediux }

func (p *MediuxProvider) Fetch(ctx context.Context, req Request) ([]Result, error) {
	if p.apiKey == "" {
		return nil, nil
	}
	tmdbID := req.ExternalIDs["tmdb"]
	if tmdbID == "" {
		return nil, nil
	}

	query := mediuxShowQuery
	if req.MediaType == models.MediaTypeMovie {
		query = mediuxMovieQuery
	}

	payload, _ := json.Marshal(map[string]any{
		"query": query,
		"variables": map[string]string{
			"id": "tmdb-" + tmdbID,
		},
	})

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/graphql", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("Mediux returned %d", resp.StatusCode)
	}

	type mediuxSet struct {
		SetTitle    string `json:"set_title"`
		UserCreated struct {
			Username string `json:"username"`
		} `json:"user_created"`
		Files []struct {
			ID       string `json:"id"`
			FileType string `json:"file_type"`
		} `json:"files"`
	}
	var body struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
		Data struct {
			MoviesByID *struct {
				MovieSets []mediuxSet `json:"movie_sets"`
			} `json:"movies_by_id"`
			ShowsByID *struct {
				ShowSets []mediuxSet `json:"show_sets"`
			} `json:"shows_by_id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	// Mediux reports unknown ids as GraphQL errors, not 404s
	if len(body.Errors) > 0 {
		return nil, nil
	}

	var sets []mediuxSet
	if body.Data.MoviesByID != nil {
		sets = body.Data.MoviesByID.MovieSets
	}
	if body.Data.ShowsByID != nil {
		sets = body.Data.ShowsByID.ShowSets
	}

	var results []Result
	for _, set := range sets {
		for _, file := range set.Files {
			artworkType, ok := mediuxTypeMap[file.FileType]
			if !ok {
				continue
			}
			results = append(results, Result{
				Source:      models.ProviderMediux,
				ArtworkType: artworkType,
				ImageURL:    fmt.Sprintf("%s/assets/%s", p.baseURL, file.ID),
				SetName:     set.SetTitle,
				CreatorName: set.UserCreated.Username,
			})
		}
	}
	return results, nil
}
