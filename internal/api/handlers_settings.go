package api

import (
	"encoding/json"
	"net/http"

	"github.com/JustinTDCT/MetaFix/internal/repository"
)

// handleGetSettings lists config entries. Secret values are never echoed;
// encrypted entries report presence only.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	entries, err := s.configRepo.Entries()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type settingEntry struct {
		Key   string `json:"key"`
		Value string `json:"value,omitempty"`
		Set   bool   `json:"set"`
	}
	out := make([]settingEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, settingEntry{Key: e.Key, Value: e.Value, Set: e.Encrypted || e.Value != ""})
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: out})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]string
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid settings payload: "+err.Error())
		return
	}

	for key, value := range updates {
		if value == "" && repository.IsSecret(key) {
			// blank secret means "clear it"
			if err := s.configRepo.Delete(key); err != nil {
				s.respondError(w, http.StatusInternalServerError, err.Error())
				return
			}
			continue
		}
		if err := s.configRepo.Set(key, value); err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true})
}

func (s *Server) handleGetProviderPriority(w http.ResponseWriter, r *http.Request) {
	priority, err := s.configRepo.ProviderPriority()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: priority})
}

func (s *Server) handleSetProviderPriority(w http.ResponseWriter, r *http.Request) {
	var priority []string
	if err := json.NewDecoder(r.Body).Decode(&priority); err != nil || len(priority) == 0 {
		s.respondError(w, http.StatusBadRequest, "priority must be a non-empty list")
		return
	}
	if err := s.configRepo.SetProviderPriority(priority); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: priority})
}
