package plex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrUnauthorized = errors.New("invalid Plex token")
	ErrUnreachable  = errors.New("cannot reach Plex server")
)

// ProtocolError is returned for non-2xx responses that are not auth failures.
type ProtocolError struct {
	Status int
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("Plex API error: %d", e.Status)
}

// Library is a Plex library section. Only movie and show sections are
// surfaced by the client.
type Library struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	ItemCount int    `json:"item_count"`
	UUID      string `json:"uuid"`
}

// Item is a Plex media item with the fields the scanners care about.
type Item struct {
	RatingKey    string   `json:"rating_key"`
	Title        string   `json:"title"`
	Year         *int     `json:"year,omitempty"`
	Type         string   `json:"type"`
	GUID         string   `json:"guid,omitempty"`
	Thumb        string   `json:"thumb,omitempty"`
	Art          string   `json:"art,omitempty"`
	LibraryName  string   `json:"library_name"`
	AddedAt      int64    `json:"added_at,omitempty"`
	EditionTitle string   `json:"edition_title,omitempty"`
	GUIDs        []string `json:"guids,omitempty"` // external ids, source://value
}

// IsMatched reports whether the item has a real metadata match. Unmatched
// items carry a local:// guid (or none at all).
func (it *Item) IsMatched() bool {
	return it.GUID != "" && !strings.HasPrefix(it.GUID, "local://")
}

func (it *Item) HasPoster() bool     { return it.Thumb != "" }
func (it *Item) HasBackground() bool { return it.Art != "" }

// ExternalID returns the id for a given source (tmdb, imdb, tvdb), or "".
func (it *Item) ExternalID(source string) string {
	prefix := source + "://"
	for _, g := range it.GUIDs {
		if strings.HasPrefix(g, prefix) {
			return g[len(prefix):]
		}
	}
	return ""
}

// ExternalIDs collects all known external ids as source→value.
func (it *Item) ExternalIDs() map[string]string {
	ids := make(map[string]string)
	for _, source := range []string{"tmdb", "imdb", "tvdb"} {
		if v := it.ExternalID(source); v != "" {
			ids[source] = v
		}
	}
	return ids
}

// ArtworkOption is an artwork choice offered by Plex's own agents.
type ArtworkOption struct {
	URL      string `json:"url"`
	Thumb    string `json:"thumb"`
	Provider string `json:"provider"`
	Selected bool   `json:"selected"`
}

// Client is a typed wrapper over the Plex Media Server HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(serverURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout: 30 * time.Second,
			// Plex servers frequently redirect between http/https bindings.
			CheckRedirect: nil,
		},
	}
}

func (c *Client) request(ctx context.Context, method, endpoint string, params url.Values) (map[string]any, error) {
	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: timed out", ErrUnreachable)
		}
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

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode Plex response: %w", err)
	}
	return data, nil
}

// TestConnection probes the server root and returns its name and version.
func (c *Client) TestConnection(ctx context.Context) (name, version string, err error) {
	data, err := c.request(ctx, "GET", "/", nil)
	if err != nil {
		return "", "", err
	}
	container := mapValue(data, "MediaContainer")
	name, _ = container["friendlyName"].(string)
	if name == "" {
		name = "Plex Server"
	}
	version, _ = container["version"].(string)
	return name, version, nil
}

// Libraries lists the server's video libraries (movie and show sections).
func (c *Client) Libraries(ctx context.Context) ([]Library, error) {
	data, err := c.request(ctx, "GET", "/library/sections", nil)
	if err != nil {
		return nil, err
	}

	var libraries []Library
	for _, raw := range sliceValue(mapValue(data, "MediaContainer"), "Directory") {
		section, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		libType, _ := section["type"].(string)
		if libType != "movie" && libType != "show" {
			continue
		}

		count := intField(section, "count")
		if count == 0 {
			count = intField(section, "size")
		}
		if count == 0 {
			count = intField(section, "totalSize")
		}

		uuid, _ := section["uuid"].(string)
		libraries = append(libraries, Library{
			ID:        stringField(section, "key"),
			Name:      stringField(section, "title"),
			Type:      libType,
			ItemCount: count,
			UUID:      uuid,
		})
	}
	return libraries, nil
}

// LibraryItems returns one page of items plus the library's total count.
func (c *Client) LibraryItems(ctx context.Context, libraryID string, start, size int) ([]Item, int, error) {
	libData, err := c.request(ctx, "GET", "/library/sections/"+libraryID, nil)
	if err != nil {
		return nil, 0, err
	}
	libraryName := "Unknown"
	if dirs := sliceValue(mapValue(libData, "MediaContainer"), "Directory"); len(dirs) > 0 {
		if dir, ok := dirs[0].(map[string]any); ok {
			libraryName = stringField(dir, "title")
		}
	}

	params := url.Values{}
	params.Set("X-Plex-Container-Start", fmt.Sprint(start))
	params.Set("X-Plex-Container-Size", fmt.Sprint(size))

	data, err := c.request(ctx, "GET", "/library/sections/"+libraryID+"/all", params)
	if err != nil {
		return nil, 0, err
	}
	container := mapValue(data, "MediaContainer")
	total := intField(container, "totalSize")

	var items []Item
	for _, raw := range sliceValue(container, "Metadata") {
		meta, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		items = append(items, itemFromMetadata(meta, libraryName))
	}
	return items, total, nil
}

// AllLibraryItems pages through a library until exhausted.
func (c *Client) AllLibraryItems(ctx context.Context, libraryID string) ([]Item, error) {
	const pageSize = 100

	var all []Item
	start := 0
	for {
		items, total, err := c.LibraryItems(ctx, libraryID, start, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if start+len(items) >= total || len(items) == 0 {
			break
		}
		start += pageSize
	}
	return all, nil
}

// ItemMetadata fetches a single item's metadata as a typed Item.
func (c *Client) ItemMetadata(ctx context.Context, ratingKey string) (*Item, error) {
	data, err := c.request(ctx, "GET", "/library/metadata/"+ratingKey, nil)
	if err != nil {
		return nil, err
	}
	container := mapValue(data, "MediaContainer")
	metas := sliceValue(container, "Metadata")
	if len(metas) == 0 {
		return nil, fmt.Errorf("item %s not found", ratingKey)
	}
	meta, ok := metas[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("item %s: malformed metadata", ratingKey)
	}

	item := itemFromMetadata(meta, stringField(container, "librarySectionTitle"))
	return &item, nil
}

// RawItemMetadata fetches a single item's metadata as undecoded JSON. The
// edition modules need fields the typed Item does not carry.
func (c *Client) RawItemMetadata(ctx context.Context, ratingKey string) (map[string]any, error) {
	data, err := c.request(ctx, "GET", "/library/metadata/"+ratingKey, nil)
	if err != nil {
		return nil, err
	}
	metas := sliceValue(mapValue(data, "MediaContainer"), "Metadata")
	if len(metas) == 0 {
		return nil, fmt.Errorf("item %s not found", ratingKey)
	}
	meta, ok := metas[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("item %s: malformed metadata", ratingKey)
	}
	return meta, nil
}

// ImageURL builds a fetchable URL for a Plex image path, appending the token.
func (c *Client) ImageURL(path string) string {
	if strings.HasPrefix(path, "http") {
		return path
	}
	return fmt.Sprintf("%s%s?X-Plex-Token=%s", c.baseURL, path, url.QueryEscape(c.token))
}

// UploadPoster sets a new poster from a remote URL.
func (c *Client) UploadPoster(ctx context.Context, ratingKey, imageURL string) error {
	params := url.Values{}
	params.Set("url", imageURL)
	_, err := c.request(ctx, "POST", "/library/metadata/"+ratingKey+"/posters", params)
	return err
}

// UploadBackground sets new background art from a remote URL.
func (c *Client) UploadBackground(ctx context.Context, ratingKey, imageURL string) error {
	params := url.Values{}
	params.Set("url", imageURL)
	_, err := c.request(ctx, "POST", "/library/metadata/"+ratingKey+"/arts", params)
	return err
}

// LockPoster prevents Plex agents from replacing the poster.
func (c *Client) LockPoster(ctx context.Context, ratingKey string) error {
	params := url.Values{}
	params.Set("thumb.locked", "1")
	_, err := c.request(ctx, "PUT", "/library/metadata/"+ratingKey, params)
	return err
}

// LockBackground prevents Plex agents from replacing the background.
func (c *Client) LockBackground(ctx context.Context, ratingKey string) error {
	params := url.Values{}
	params.Set("art.locked", "1")
	_, err := c.request(ctx, "PUT", "/library/metadata/"+ratingKey, params)
	return err
}

// SetEdition writes the edition title field. An empty string clears it.
func (c *Client) SetEdition(ctx context.Context, ratingKey, edition string) error {
	params := url.Values{}
	params.Set("editionTitle.value", edition)
	_, err := c.request(ctx, "PUT", "/library/metadata/"+ratingKey, params)
	return err
}

// AvailablePosters lists poster choices from Plex's built-in sources.
func (c *Client) AvailablePosters(ctx context.Context, ratingKey string) ([]ArtworkOption, error) {
	return c.availableArtwork(ctx, ratingKey, "posters")
}

// AvailableBackgrounds lists background choices from Plex's built-in sources.
func (c *Client) AvailableBackgrounds(ctx context.Context, ratingKey string) ([]ArtworkOption, error) {
	return c.availableArtwork(ctx, ratingKey, "arts")
}

func (c *Client) availableArtwork(ctx context.Context, ratingKey, kind string) ([]ArtworkOption, error) {
	data, err := c.request(ctx, "GET", "/library/metadata/"+ratingKey+"/"+kind, nil)
	if err != nil {
		return nil, err
	}

	var options []ArtworkOption
	for _, raw := range sliceValue(mapValue(data, "MediaContainer"), "Metadata") {
		meta, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		provider := stringField(meta, "provider")
		if provider == "" {
			provider = "plex"
		}
		selected, _ := meta["selected"].(bool)
		options = append(options, ArtworkOption{
			URL:      stringField(meta, "key"),
			Thumb:    stringField(meta, "thumb"),
			Provider: provider,
			Selected: selected,
		})
	}
	return options, nil
}

// ──────────────────── JSON helpers ────────────────────

func itemFromMetadata(meta map[string]any, libraryName string) Item {
	var guids []string
	for _, raw := range sliceValue(meta, "Guid") {
		if g, ok := raw.(map[string]any); ok {
			if id := stringField(g, "id"); id != "" {
				guids = append(guids, id)
			}
		}
	}

	var year *int
	if y := intField(meta, "year"); y != 0 {
		year = &y
	}

	itemType := stringField(meta, "type")
	if itemType == "" {
		itemType = "movie"
	}
	title := stringField(meta, "title")
	if title == "" {
		title = "Unknown"
	}

	return Item{
		RatingKey:    stringField(meta, "ratingKey"),
		Title:        title,
		Year:         year,
		Type:         itemType,
		GUID:         stringField(meta, "guid"),
		Thumb:        stringField(meta, "thumb"),
		Art:          stringField(meta, "art"),
		LibraryName:  libraryName,
		AddedAt:      int64(intField(meta, "addedAt")),
		EditionTitle: stringField(meta, "editionTitle"),
		GUIDs:        guids,
	}
}

func mapValue(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}

func sliceValue(m map[string]any, key string) []any {
	if v, ok := m[key].([]any); ok {
		return v
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case string:
		var i int
		fmt.Sscanf(v, "%d", &i)
		return i
	default:
		return 0
	}
}
