package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/JustinTDCT/MetaFix/internal/models"
)

type scheduleRequest struct {
	Name              string                    `json:"name"`
	Enabled           *bool                     `json:"enabled"`
	CronExpression    string                    `json:"cron_expression"`
	ScanType          models.ScanType           `json:"scan_type"`
	Config            *models.ScanConfig        `json:"config"`
	AutoCommit        bool                      `json:"auto_commit"`
	AutoCommitOptions *models.AutoCommitOptions `json:"auto_commit_options"`
}

func (req *scheduleRequest) validate() string {
	if req.Name == "" {
		return "name is required"
	}
	if _, err := cron.ParseStandard(req.CronExpression); err != nil {
		return "invalid cron expression: " + err.Error()
	}
	switch req.ScanType {
	case models.ScanTypeArtwork, models.ScanTypeEdition, models.ScanTypeBoth:
	case "":
		req.ScanType = models.ScanTypeArtwork
	default:
		return "invalid scan_type"
	}
	return ""
}

func (req *scheduleRequest) apply(schedule *models.Schedule) error {
	schedule.Name = req.Name
	schedule.CronExpression = req.CronExpression
	schedule.ScanType = req.ScanType
	schedule.AutoCommit = req.AutoCommit
	if req.Enabled != nil {
		schedule.Enabled = *req.Enabled
	}

	config := models.DefaultScanConfig()
	if req.Config != nil {
		config = *req.Config
	}
	config.ScanType = req.ScanType
	raw, err := json.Marshal(config)
	if err != nil {
		return err
	}
	schedule.Config = string(raw)

	schedule.AutoCommitOptions = nil
	if req.AutoCommitOptions != nil {
		raw, err := json.Marshal(req.AutoCommitOptions)
		if err != nil {
			return err
		}
		opts := string(raw)
		schedule.AutoCommitOptions = &opts
	}
	return nil
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.scheduleRepo.List(false)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for i := range schedules {
		if schedules[i].Enabled {
			schedules[i].NextRunAt = s.scheduler.NextRun(schedules[i].ID)
		}
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: schedules})
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid schedule: "+err.Error())
		return
	}
	if msg := req.validate(); msg != "" {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	schedule := &models.Schedule{Enabled: true}
	if err := req.apply(schedule); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	created, err := s.scheduleRepo.Create(schedule)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if created.Enabled {
		if err := s.scheduler.AddJob(created); err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		created.NextRunAt = s.scheduler.NextRun(created.ID)
	}
	s.respondJSON(w, http.StatusCreated, Response{Success: true, Data: created})
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, ok := s.loadSchedule(w, r)
	if !ok {
		return
	}
	if schedule.Enabled {
		schedule.NextRunAt = s.scheduler.NextRun(schedule.ID)
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: schedule})
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, ok := s.loadSchedule(w, r)
	if !ok {
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid schedule: "+err.Error())
		return
	}
	if msg := req.validate(); msg != "" {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}
	if err := req.apply(schedule); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	updated, err := s.scheduleRepo.Update(schedule)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.scheduler.UpdateJob(updated.ID); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if updated.Enabled {
		updated.NextRunAt = s.scheduler.NextRun(updated.ID)
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: updated})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, ok := s.loadSchedule(w, r)
	if !ok {
		return
	}
	s.scheduler.RemoveJob(schedule.ID)
	if err := s.scheduleRepo.Delete(schedule.ID); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true})
}

func (s *Server) handleEnableSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleEnabled(w, r, true)
}

func (s *Server) handleDisableSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleEnabled(w, r, false)
}

func (s *Server) setScheduleEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	schedule, ok := s.loadSchedule(w, r)
	if !ok {
		return
	}
	schedule.Enabled = enabled
	updated, err := s.scheduleRepo.Update(schedule)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.scheduler.UpdateJob(updated.ID); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if updated.Enabled {
		updated.NextRunAt = s.scheduler.NextRun(updated.ID)
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: updated})
}

func (s *Server) handleRunSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, ok := s.loadSchedule(w, r)
	if !ok {
		return
	}
	s.scheduler.RunNow(schedule.ID)
	s.respondJSON(w, http.StatusAccepted, Response{Success: true})
}

func (s *Server) loadSchedule(w http.ResponseWriter, r *http.Request) (*models.Schedule, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid schedule id")
		return nil, false
	}
	schedule, err := s.scheduleRepo.GetByID(id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if schedule == nil {
		s.respondError(w, http.StatusNotFound, "schedule not found")
		return nil, false
	}
	return schedule, true
}
