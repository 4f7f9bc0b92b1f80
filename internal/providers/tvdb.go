package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/JustinTDCT/MetaFix/internal/models"
)

// TVDB v4 artwork type ids for the kinds we care about.
var tvdbTypeMap = map[int]models.ArtworkType{
	3:  models.ArtworkPoster,
	4:  models.ArtworkBackground,
	22: models.ArtworkLogo,
	23: models.ArtworkLogo,
}

type TVDBProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewTVDBProvider(apiKey string) *TVDBProvider {
	return &TVDBProvider{
		apiKey:  apiKey,
		baseURL: "https://api4.thetvdb.com/v4",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *TVDBProvider) Name() models.ProviderName { return models.ProviderTVDB }

// login exchanges the API key for a bearer token. TVDB tokens are JWTs; the
// exp claim drives our refresh time, with a 24h fallback when it is absent.
func (p *TVDBProvider) login(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Now().Before(p.tokenExpiry) {
		return p.token, nil
	}

	payload, _ := json.Marshal(map[string]string{"apikey": p.apiKey})
	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/login", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("TVDB login returned %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.Data.Token == "" {
		return "", fmt.Errorf("TVDB login returned no token")
	}

	p.token = body.Data.Token
	p.tokenExpiry = tokenExpiry(body.Data.Token)
	return p.token, nil
}

// tokenExpiry reads the exp claim without verifying the signature. We only
// need the timestamp, not trust in the token.
func tokenExpiry(token string) time.Time {
	fallback := time.Now().Add(24 * time.Hour)

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return fallback
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fallback
	}
	// refresh a little early
	return exp.Time.Add(-5 * time.Minute)
}

func (p *TVDBProvider) Fetch(ctx context.Context, req Request) ([]Result, error) {
	if p.apiKey == "" {
		return nil, nil
	}
	tvdbID := req.ExternalIDs["tvdb"]
	if tvdbID == "" {
		return nil, nil
	}

	token, err := p.login(ctx)
	if err != nil {
		return nil, err
	}

	kind := "series"
	if req.MediaType == models.MediaTypeMovie {
		kind = "movies"
	}

	httpReq, err := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/%s/%s/extended", p.baseURL, kind, tvdbID), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("TVDB returned %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			Artworks []struct {
				Image    string `json:"image"`
				Thumb    string `json:"thumbnail"`
				Language string `json:"language"`
				Type     int    `json:"type"`
				Score    int    `json:"score"`
			} `json:"artworks"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	var results []Result
	for _, art := range body.Data.Artworks {
		artworkType, ok := tvdbTypeMap[art.Type]
		if !ok {
			continue
		}
		results = append(results, Result{
			Source:       models.ProviderTVDB,
			ArtworkType:  artworkType,
			ImageURL:     art.Image,
			ThumbnailURL: art.Thumb,
			Language:     art.Language,
			Score:        art.Score,
		})
	}
	return results, nil
}
