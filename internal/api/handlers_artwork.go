package api

import (
	"net/http"

	"github.com/JustinTDCT/MetaFix/internal/models"
	"github.com/JustinTDCT/MetaFix/internal/providers"
)

// Reference IDs used for provider connectivity tests (Fight Club; Doctor Who
// for TVDB since it needs a series id).
var providerTestIDs = map[string]string{
	"tmdb": "550",
	"imdb": "tt0137523",
	"tvdb": "76107",
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	priority, err := s.configRepo.ProviderPriority()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type providerInfo struct {
		Name       string `json:"name"`
		Configured bool   `json:"configured"`
	}
	var list []providerInfo
	for _, name := range []string{"fanart", "mediux", "tmdb", "tvdb"} {
		key, err := s.configRepo.ProviderKey(name)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		list = append(list, providerInfo{Name: name, Configured: key != ""})
	}
	_, plexErr := s.plexClient()
	list = append(list, providerInfo{Name: "plex", Configured: plexErr == nil})

	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
		"providers": list,
		"priority":  priority,
	}})
}

// handleTestProvider exercises one provider against a well-known title and
// reports whether the round trip worked.
func (s *Server) handleTestProvider(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var provider providers.Provider
	mediaType := models.MediaTypeMovie
	switch name {
	case "fanart", "mediux", "tmdb", "tvdb":
		key, err := s.configRepo.ProviderKey(name)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if key == "" {
			s.respondError(w, http.StatusBadRequest, name+" api key not configured")
			return
		}
		switch name {
		case "fanart":
			provider = providers.NewFanartProvider(key)
		case "mediux":
			provider = providers.NewMediuxProvider(key)
		case "tmdb":
			provider = providers.NewTMDBProvider(key)
		case "tvdb":
			provider = providers.NewTVDBProvider(key)
			mediaType = models.MediaTypeShow
		}
	case "plex":
		client, err := s.plexClient()
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if _, _, err := client.TestConnection(r.Context()); err != nil {
			s.respondJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
				"ok": false, "error": err.Error(),
			}})
			return
		}
		s.respondJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{"ok": true}})
		return
	default:
		s.respondError(w, http.StatusNotFound, "unknown provider "+name)
		return
	}

	results, err := provider.Fetch(r.Context(), providers.Request{
		MediaType:   mediaType,
		ExternalIDs: providerTestIDs,
	})
	if err != nil {
		s.respondJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
			"ok": false, "error": err.Error(),
		}})
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
		"ok": true, "results": len(results),
	}})
}

// handleArtworkSearch runs an ad-hoc aggregation for a media item.
func (s *Server) handleArtworkSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mediaType := models.MediaType(q.Get("media_type"))
	if mediaType == "" {
		mediaType = models.MediaTypeMovie
	}

	externalIDs := map[string]string{}
	for _, source := range []string{"tmdb", "imdb", "tvdb"} {
		if v := q.Get(source); v != "" {
			externalIDs[source] = v
		}
	}
	if len(externalIDs) == 0 && q.Get("rating_key") == "" {
		s.respondError(w, http.StatusBadRequest, "at least one of tmdb, imdb, tvdb, rating_key is required")
		return
	}

	agg, err := s.aggregator()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	req := providers.Request{
		MediaType:   mediaType,
		Title:       q.Get("title"),
		ExternalIDs: externalIDs,
		RatingKey:   q.Get("rating_key"),
	}

	var results []providers.Result
	if kind := models.ArtworkType(q.Get("artwork_type")); kind != "" {
		results = agg.FetchType(r.Context(), req, kind)
	} else {
		results = agg.Fetch(r.Context(), req)
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: results})
}
