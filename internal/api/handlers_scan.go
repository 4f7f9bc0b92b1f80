package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/JustinTDCT/MetaFix/internal/models"
	"github.com/JustinTDCT/MetaFix/internal/scan"
)

func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	config := models.DefaultScanConfig()
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid scan config: "+err.Error())
		return
	}
	switch config.ScanType {
	case models.ScanTypeArtwork, models.ScanTypeEdition, models.ScanTypeBoth:
	default:
		s.respondError(w, http.StatusBadRequest, "invalid scan_type")
		return
	}
	if config.TriggeredBy == "" {
		config.TriggeredBy = "manual"
	}

	record, err := s.scanEngine.Start(config)
	if err != nil {
		if errors.Is(err, scan.ErrScanAlreadyRunning) {
			s.respondError(w, http.StatusConflict, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, Response{Success: true, Data: record})
}

func (s *Server) handleScanPause(w http.ResponseWriter, r *http.Request) {
	s.scanControl(w, s.scanEngine.Pause())
}

func (s *Server) handleScanResume(w http.ResponseWriter, r *http.Request) {
	s.scanControl(w, s.scanEngine.Resume())
}

func (s *Server) handleScanCancel(w http.ResponseWriter, r *http.Request) {
	s.scanControl(w, s.scanEngine.Cancel())
}

func (s *Server) scanControl(w http.ResponseWriter, err error) {
	if err != nil {
		if errors.Is(err, scan.ErrScanNotRunning) {
			s.respondError(w, http.StatusConflict, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true})
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	progress := s.scanEngine.Status()
	data := map[string]interface{}{"progress": progress}
	if progress.ScanID != nil {
		if record, err := s.scanRepo.GetByID(*progress.ScanID); err == nil && record != nil {
			data["scan"] = record
		}
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func (s *Server) handleScanHistory(w http.ResponseWriter, r *http.Request) {
	status := models.ScanStatus(r.URL.Query().Get("status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	scans, err := s.scanRepo.List(status, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: scans})
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid scan id")
		return
	}
	record, err := s.scanRepo.GetByID(id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if record == nil {
		s.respondError(w, http.StatusNotFound, "scan not found")
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: record})
}

func (s *Server) handleScanEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid scan id")
		return
	}
	events, err := s.scanRepo.Events(id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: events})
}

func (s *Server) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid scan id")
		return
	}
	record, err := s.scanRepo.GetByID(id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if record == nil {
		s.respondError(w, http.StatusNotFound, "scan not found")
		return
	}
	if !record.Status.IsTerminal() {
		s.respondError(w, http.StatusConflict, "scan is still live; cancel or discard it first")
		return
	}
	if err := s.scanRepo.Delete(id); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true})
}

// ──────────────────── Interrupted scans ────────────────────

func (s *Server) handleInterruptedScans(w http.ResponseWriter, r *http.Request) {
	interrupted, err := s.scanEngine.CheckInterrupted()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: interrupted})
}

func (s *Server) handleDiscardInterrupted(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid scan id")
		return
	}
	if err := s.scanEngine.DiscardInterrupted(id); err != nil {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true})
}
