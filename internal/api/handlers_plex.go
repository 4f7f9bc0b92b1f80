package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/JustinTDCT/MetaFix/internal/plex"
)

// ──────────────────── PIN auth ────────────────────

func (s *Server) handleCreatePin(w http.ResponseWriter, r *http.Request) {
	pin, authURL, err := s.plexAuth.CreatePin(r.Context())
	if err != nil {
		s.respondError(w, http.StatusBadGateway, "failed to create pin: "+err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
		"pin_id":   pin.ID,
		"code":     pin.Code,
		"auth_url": authURL,
	}})
}

func (s *Server) handleCheckPin(w http.ResponseWriter, r *http.Request) {
	pinID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid pin id")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		s.respondError(w, http.StatusBadRequest, "code is required")
		return
	}

	token, err := s.plexAuth.CheckPin(r.Context(), pinID, code)
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
		"authenticated": token != "",
		"token":         token,
	}})
}

func (s *Server) handleDiscoverServers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		s.respondError(w, http.StatusBadRequest, "token is required")
		return
	}

	servers, err := s.plexAuth.DiscoverServers(r.Context(), req.Token)
	if err != nil {
		s.respondError(w, http.StatusBadGateway, "failed to discover servers: "+err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: servers})
}

// ──────────────────── Connection ────────────────────

func (s *Server) handlePlexConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL   string `json:"url"`
		Token string `json:"token"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" || req.Token == "" {
		s.respondError(w, http.StatusBadRequest, "url and token are required")
		return
	}

	client := plex.NewClient(req.URL, req.Token)
	name, version, err := client.TestConnection(r.Context())
	if err != nil {
		if errors.Is(err, plex.ErrUnauthorized) {
			s.respondError(w, http.StatusUnauthorized, "plex rejected the token")
			return
		}
		s.respondError(w, http.StatusBadGateway, "could not reach server: "+err.Error())
		return
	}
	if req.Name == "" {
		req.Name = name
	}

	if err := s.configRepo.SavePlexConnection(req.URL, req.Token, req.Name); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
		"server_name": req.Name,
		"version":     version,
	}})
}

func (s *Server) handlePlexStatus(w http.ResponseWriter, r *http.Request) {
	client, err := s.plexClient()
	if err != nil {
		if errors.Is(err, errPlexNotConfigured) {
			s.respondJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
				"configured": false, "connected": false,
			}})
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	serverName, _ := s.configRepo.Get("plex_server_name")
	name, version, err := client.TestConnection(r.Context())
	if err != nil {
		s.respondJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
			"configured":  true,
			"connected":   false,
			"server_name": serverName,
			"error":       err.Error(),
		}})
		return
	}
	if serverName == "" {
		serverName = name
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
		"configured":  true,
		"connected":   true,
		"server_name": serverName,
		"version":     version,
	}})
}

func (s *Server) handlePlexDisconnect(w http.ResponseWriter, r *http.Request) {
	for _, key := range []string{"plex_url", "plex_token", "plex_server_name"} {
		if err := s.configRepo.Delete(key); err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true})
}

// ──────────────────── Browsing ────────────────────

func (s *Server) handlePlexLibraries(w http.ResponseWriter, r *http.Request) {
	client, err := s.plexClient()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	libraries, err := client.Libraries(r.Context())
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: libraries})
}

func (s *Server) handlePlexLibraryItems(w http.ResponseWriter, r *http.Request) {
	client, err := s.plexClient()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	start, _ := strconv.Atoi(r.URL.Query().Get("start"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if size <= 0 || size > 500 {
		size = 100
	}

	items, total, err := client.LibraryItems(r.Context(), r.PathValue("id"), start, size)
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
		"items": items,
		"total": total,
		"start": start,
		"size":  size,
	}})
}

func (s *Server) handlePlexItem(w http.ResponseWriter, r *http.Request) {
	client, err := s.plexClient()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, err := client.ItemMetadata(r.Context(), r.PathValue("key"))
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	if item == nil {
		s.respondError(w, http.StatusNotFound, "item not found")
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: item})
}
