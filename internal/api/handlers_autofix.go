package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/JustinTDCT/MetaFix/internal/autofix"
	"github.com/JustinTDCT/MetaFix/internal/models"
	"github.com/JustinTDCT/MetaFix/internal/repository"
)

func decodeAutofixOptions(r *http.Request) (autofix.Options, error) {
	var req struct {
		ScanID        string `json:"scan_id"`
		SkipUnmatched *bool  `json:"skip_unmatched"`
		MinScore      int    `json:"min_score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return autofix.Options{}, err
	}

	opts := autofix.Options{SkipUnmatched: true, MinScore: req.MinScore}
	if req.SkipUnmatched != nil {
		opts.SkipUnmatched = *req.SkipUnmatched
	}
	if req.ScanID != "" {
		id, err := uuid.Parse(req.ScanID)
		if err != nil {
			return autofix.Options{}, errors.New("invalid scan_id")
		}
		opts.ScanID = id
	}
	return opts, nil
}

func (s *Server) handleAutofixStart(w http.ResponseWriter, r *http.Request) {
	opts, err := decodeAutofixOptions(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.fixEngine.Start(opts); err != nil {
		if errors.Is(err, autofix.ErrAlreadyRunning) {
			s.respondError(w, http.StatusConflict, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, Response{Success: true})
}

func (s *Server) handleAutofixStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: s.fixEngine.Status()})
}

func (s *Server) handleAutofixCancel(w http.ResponseWriter, r *http.Request) {
	if !s.fixEngine.IsRunning() {
		s.respondError(w, http.StatusConflict, "no autofix run in progress")
		return
	}
	s.fixEngine.Cancel()
	s.respondJSON(w, http.StatusOK, Response{Success: true})
}

// handleAutofixPreview reports what a run with the given options would do,
// without touching anything.
func (s *Server) handleAutofixPreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.IssueFilter{Status: models.IssueStatusPending}
	if raw := q.Get("scan_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid scan_id")
			return
		}
		filter.ScanID = id
	}
	minScore, _ := strconv.Atoi(q.Get("min_score"))
	skipUnmatched := q.Get("skip_unmatched") != "false"

	issues, err := s.issueRepo.List(filter)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	wouldApply, unmatched, noSuggestions, belowMinScore := 0, 0, 0, 0
	for i := range issues {
		issue := &issues[i]
		if skipUnmatched && issue.IssueType == models.IssueNoMatch {
			unmatched++
			continue
		}
		best := 0
		found := false
		for _, suggestion := range issue.Suggestions {
			if !found || suggestion.Score > best {
				best = suggestion.Score
				found = true
			}
		}
		switch {
		case !found:
			noSuggestions++
		case best < minScore:
			belowMinScore++
		default:
			wouldApply++
		}
	}

	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
		"pending":         len(issues),
		"would_apply":     wouldApply,
		"unmatched":       unmatched,
		"no_suggestions":  noSuggestions,
		"below_min_score": belowMinScore,
	}})
}
