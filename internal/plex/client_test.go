package plex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemMatching(t *testing.T) {
	matched := Item{GUID: "plex://movie/5d776829880197001ec90e8f"}
	assert.True(t, matched.IsMatched())

	unmatched := Item{GUID: "local://12345"}
	assert.False(t, unmatched.IsMatched())

	empty := Item{}
	assert.False(t, empty.IsMatched())
}

func TestItemExternalIDs(t *testing.T) {
	item := Item{GUIDs: []string{"imdb://tt0133093", "tmdb://603", "tvdb://290434"}}

	assert.Equal(t, "tt0133093", item.ExternalID("imdb"))
	assert.Equal(t, "603", item.ExternalID("tmdb"))
	assert.Equal(t, "", item.ExternalID("anidb"))

	ids := item.ExternalIDs()
	assert.Len(t, ids, 3)
	assert.Equal(t, "290434", ids["tvdb"])
}

func TestLibrariesFiltersNonVideo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.Header.Get("X-Plex-Token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"MediaContainer":{"Directory":[
			{"key":"1","title":"Movies","type":"movie","count":120,"uuid":"abc"},
			{"key":"2","title":"Music","type":"artist","count":400},
			{"key":"3","title":"TV","type":"show","count":45,"uuid":"def"}
		]}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token")
	libs, err := client.Libraries(context.Background())
	require.NoError(t, err)
	require.Len(t, libs, 2)
	assert.Equal(t, "Movies", libs[0].Name)
	assert.Equal(t, "show", libs[1].Type)
	assert.Equal(t, 45, libs[1].ItemCount)
}

func TestLibraryItemsPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/library/sections/1":
			w.Write([]byte(`{"MediaContainer":{"Directory":[{"title":"Movies"}]}}`))
		case "/library/sections/1/all":
			if r.URL.Query().Get("X-Plex-Container-Start") == "0" {
				w.Write([]byte(`{"MediaContainer":{"totalSize":3,"Metadata":[
					{"ratingKey":"10","title":"A","type":"movie","guid":"plex://movie/a","thumb":"/t/10"},
					{"ratingKey":"11","title":"B","type":"movie","guid":"plex://movie/b"}
				]}}`))
			} else {
				w.Write([]byte(`{"MediaContainer":{"totalSize":3,"Metadata":[
					{"ratingKey":"12","title":"C","type":"movie","guid":"local://12"}
				]}}`))
			}
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok")
	items, total, err := client.LibraryItems(context.Background(), "1", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 2)
	assert.Equal(t, "Movies", items[0].LibraryName)
	assert.True(t, items[0].HasPoster())
	assert.False(t, items[1].HasPoster())
}

func TestRequestErrorTaxonomy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/unauthorized":
			w.WriteHeader(http.StatusUnauthorized)
		case "/teapot":
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok")

	_, err := client.request(context.Background(), "GET", "/unauthorized", nil)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = client.request(context.Background(), "GET", "/teapot", nil)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, http.StatusTeapot, protoErr.Status)

	down := NewClient("http://127.0.0.1:1", "tok")
	_, err = down.request(context.Background(), "GET", "/", nil)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestImageURL(t *testing.T) {
	client := NewClient("http://plex:32400", "secret")
	assert.Equal(t, "http://plex:32400/library/metadata/1/thumb/2?X-Plex-Token=secret",
		client.ImageURL("/library/metadata/1/thumb/2"))
	assert.Equal(t, "https://image.tmdb.org/x.jpg", client.ImageURL("https://image.tmdb.org/x.jpg"))
}
