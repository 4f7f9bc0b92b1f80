package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	plexTVBase  = "https://plex.tv"
	productName = "MetaFix"
)

// Pin is a plex.tv link code awaiting user approval.
type Pin struct {
	ID   int    `json:"id"`
	Code string `json:"code"`
}

// ServerInfo describes a reachable Plex server discovered via plex.tv.
type ServerInfo struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	Port       int    `json:"port"`
	URI        string `json:"uri"`
	Local      bool   `json:"local"`
	Relay      bool   `json:"relay"`
	AccessToken string `json:"access_token,omitempty"`
}

// Auth drives the plex.tv PIN login flow.
type Auth struct {
	clientID string
	http     *http.Client
}

func NewAuth(clientID string) *Auth {
	return &Auth{
		clientID: clientID,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *Auth) headers(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Product", productName)
	req.Header.Set("X-Plex-Client-Identifier", a.clientID)
}

// CreatePin requests a new strong PIN and returns its id, code, and the
// auth URL the user must open to approve it.
func (a *Auth) CreatePin(ctx context.Context) (*Pin, string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", plexTVBase+"/api/v2/pins?strong=true", nil)
	if err != nil {
		return nil, "", err
	}
	a.headers(req)

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &ProtocolError{Status: resp.StatusCode}
	}

	var pin Pin
	if err := json.NewDecoder(resp.Body).Decode(&pin); err != nil {
		return nil, "", fmt.Errorf("decode pin: %w", err)
	}

	authURL := fmt.Sprintf(
		"https://app.plex.tv/auth#?clientID=%s&code=%s&context%%5Bdevice%%5D%%5Bproduct%%5D=%s",
		url.QueryEscape(a.clientID), url.QueryEscape(pin.Code), url.QueryEscape(productName),
	)
	return &pin, authURL, nil
}

// CheckPin polls a PIN once. The token is empty until the user approves.
func (a *Auth) CheckPin(ctx context.Context, pinID int, code string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/v2/pins/%d?code=%s", plexTVBase, pinID, url.QueryEscape(code))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return "", err
	}
	a.headers(req)

	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("pin %d expired", pinID)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return "", &ProtocolError{Status: resp.StatusCode}
	}

	var body struct {
		AuthToken string `json:"authToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode pin: %w", err)
	}
	return body.AuthToken, nil
}

// DiscoverServers lists the account's Plex servers with their connection
// candidates, local connections first.
func (a *Auth) DiscoverServers(ctx context.Context, token string) ([]ServerInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", plexTVBase+"/api/v2/resources?includeHttps=1", nil)
	if err != nil {
		return nil, err
	}
	a.headers(req)
	req.Header.Set("X-Plex-Token", token)

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &ProtocolError{Status: resp.StatusCode}
	}

	var resources []struct {
		Name        string `json:"name"`
		Provides    string `json:"provides"`
		AccessToken string `json:"accessToken"`
		Connections []struct {
			Address string `json:"address"`
			Port    int    `json:"port"`
			URI     string `json:"uri"`
			Local   bool   `json:"local"`
			Relay   bool   `json:"relay"`
		} `json:"connections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&resources); err != nil {
		return nil, fmt.Errorf("decode resources: %w", err)
	}

	var servers []ServerInfo
	for _, res := range resources {
		if !containsWord(res.Provides, "server") {
			continue
		}
		for _, conn := range res.Connections {
			servers = append(servers, ServerInfo{
				Name:        res.Name,
				Address:     conn.Address,
				Port:        conn.Port,
				URI:         conn.URI,
				Local:       conn.Local,
				Relay:       conn.Relay,
				AccessToken: res.AccessToken,
			})
		}
	}
	// local direct connections are the most useful, put them first
	sortServers(servers)
	return servers, nil
}

func sortServers(servers []ServerInfo) {
	rank := func(s ServerInfo) int {
		switch {
		case s.Local && !s.Relay:
			return 0
		case !s.Relay:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(servers, func(i, j int) bool {
		return rank(servers[i]) < rank(servers[j])
	})
}

func containsWord(csv, word string) bool {
	for _, part := range strings.Split(csv, ",") {
		if strings.TrimSpace(part) == word {
			return true
		}
	}
	return false
}
