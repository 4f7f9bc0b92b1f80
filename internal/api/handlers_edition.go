package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/JustinTDCT/MetaFix/internal/edition"
	"github.com/JustinTDCT/MetaFix/internal/models"
)

func (s *Server) handleEditionModules(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: edition.ModuleNames()})
}

func (s *Server) handleGetEditionConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.editionRepo.GetConfig(edition.ModuleNames())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: cfg})
}

func (s *Server) handleSaveEditionConfig(w http.ResponseWriter, r *http.Request) {
	var cfg models.EditionConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid edition config: "+err.Error())
		return
	}

	known := make(map[string]bool)
	for _, name := range edition.ModuleNames() {
		known[name] = true
	}
	for _, name := range cfg.EnabledModules {
		if !known[name] {
			s.respondError(w, http.StatusBadRequest, "unknown module "+name)
			return
		}
	}
	if cfg.Settings.Separator == "" {
		cfg.Settings.Separator = " . "
	}

	if err := s.editionRepo.SaveConfig(&cfg); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: cfg})
}

// handleEditionPreview generates an edition string without applying it.
func (s *Server) handleEditionPreview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RatingKey string `json:"rating_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RatingKey == "" {
		s.respondError(w, http.StatusBadRequest, "rating_key is required")
		return
	}

	engine, err := s.editionEngine()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	editionString, err := engine.Generate(r.Context(), req.RatingKey)
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
		"rating_key": req.RatingKey,
		"edition":    editionString,
	}})
}

// handleEditionApply generates and writes an edition string, backing up the
// original first.
func (s *Server) handleEditionApply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RatingKey string `json:"rating_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RatingKey == "" {
		s.respondError(w, http.StatusBadRequest, "rating_key is required")
		return
	}

	engine, err := s.editionEngine()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	editionString, updated, err := engine.GenerateAndApply(r.Context(), req.RatingKey)
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
		"rating_key": req.RatingKey,
		"edition":    editionString,
		"updated":    updated,
	}})
}

func (s *Server) handleListEditionBackups(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	backups, err := s.editionRepo.ListBackups(limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: backups})
}

// handleEditionRestore puts the original edition string back from backup.
func (s *Server) handleEditionRestore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RatingKey string `json:"rating_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RatingKey == "" {
		s.respondError(w, http.StatusBadRequest, "rating_key is required")
		return
	}

	engine, err := s.editionEngine()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := engine.Restore(r.Context(), req.RatingKey); err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true})
}
