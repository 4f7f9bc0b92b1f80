package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/JustinTDCT/MetaFix/internal/models"
	"github.com/JustinTDCT/MetaFix/internal/providers"
	"github.com/JustinTDCT/MetaFix/internal/repository"
)

// Suggestion cap when refreshing through the API, matching the scan-time cap.
const maxRefreshedSuggestions = 20

func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.IssueFilter{
		Status:    models.IssueStatus(q.Get("status")),
		IssueType: models.IssueType(q.Get("issue_type")),
		MediaType: models.MediaType(q.Get("media_type")),
		Library:   q.Get("library"),
	}
	if raw := q.Get("scan_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid scan_id")
			return
		}
		filter.ScanID = id
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	issues, err := s.issueRepo.List(filter)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.issueRepo.Count(filter)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
		"issues": issues,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	}})
}

func (s *Server) handleIssueStats(w http.ResponseWriter, r *http.Request) {
	scanID := uuid.Nil
	if raw := r.URL.Query().Get("scan_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid scan_id")
			return
		}
		scanID = id
	}

	byStatus, err := s.issueRepo.CountByStatus(scanID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byType, err := s.issueRepo.CountByType(scanID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total := 0
	for _, n := range byStatus {
		total += n
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
		"total":     total,
		"by_status": byStatus,
		"by_type":   byType,
	}})
}

func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	issue, ok := s.loadIssue(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: issue})
}

// handleAcceptIssue applies a chosen suggestion to Plex, locks the field,
// and resolves the issue.
func (s *Server) handleAcceptIssue(w http.ResponseWriter, r *http.Request) {
	issue, ok := s.loadIssue(w, r)
	if !ok {
		return
	}
	if issue.Status == models.IssueStatusApplied {
		s.respondError(w, http.StatusConflict, "issue is already applied")
		return
	}

	var req struct {
		SuggestionID string `json:"suggestion_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SuggestionID == "" {
		s.respondError(w, http.StatusBadRequest, "suggestion_id is required")
		return
	}
	suggestionID, err := uuid.Parse(req.SuggestionID)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid suggestion_id")
		return
	}

	suggestion, err := s.issueRepo.GetSuggestion(suggestionID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if suggestion == nil || suggestion.IssueID != issue.ID {
		s.respondError(w, http.StatusNotFound, "suggestion not found for this issue")
		return
	}

	client, err := s.plexClient()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	switch suggestion.ArtworkType {
	case models.ArtworkPoster:
		err = client.UploadPoster(ctx, issue.PlexRatingKey, suggestion.ImageURL)
		if err == nil {
			err = client.LockPoster(ctx, issue.PlexRatingKey)
		}
	case models.ArtworkBackground:
		err = client.UploadBackground(ctx, issue.PlexRatingKey, suggestion.ImageURL)
		if err == nil {
			err = client.LockBackground(ctx, issue.PlexRatingKey)
		}
	default:
		s.respondError(w, http.StatusBadRequest, "artwork type "+string(suggestion.ArtworkType)+" cannot be applied")
		return
	}
	if err != nil {
		s.issueRepo.SetStatus(issue.ID, models.IssueStatusFailed)
		s.respondError(w, http.StatusBadGateway, "apply failed: "+err.Error())
		return
	}

	if err := s.issueRepo.MarkSelected(issue.ID, suggestion.ID); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.issueRepo.SetStatus(issue.ID, models.IssueStatusApplied); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.bus.Publish("issue_applied", map[string]interface{}{
		"issue_id":      issue.ID,
		"suggestion_id": suggestion.ID,
	})
	s.respondJSON(w, http.StatusOK, Response{Success: true})
}

func (s *Server) handleSkipIssue(w http.ResponseWriter, r *http.Request) {
	issue, ok := s.loadIssue(w, r)
	if !ok {
		return
	}
	if issue.Status != models.IssueStatusPending && issue.Status != models.IssueStatusAccepted {
		s.respondError(w, http.StatusConflict, "issue is already resolved")
		return
	}
	if err := s.issueRepo.SetStatus(issue.ID, models.IssueStatusRejected); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true})
}

// handleRefreshSuggestions re-runs the provider aggregation for one issue
// and atomically replaces its suggestion set.
func (s *Server) handleRefreshSuggestions(w http.ResponseWriter, r *http.Request) {
	issue, ok := s.loadIssue(w, r)
	if !ok {
		return
	}
	artworkType, fixable := artworkTypeForIssue(issue.IssueType)
	if !fixable {
		s.respondError(w, http.StatusBadRequest, "issue type "+string(issue.IssueType)+" has no artwork suggestions")
		return
	}

	agg, err := s.aggregator()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	results := agg.FetchType(r.Context(), providers.Request{
		MediaType:   issue.MediaType,
		Title:       issue.Title,
		ExternalIDs: issue.ExternalIDMap(),
		RatingKey:   issue.PlexRatingKey,
	}, artworkType)
	if len(results) > maxRefreshedSuggestions {
		results = results[:maxRefreshedSuggestions]
	}

	suggestions := make([]models.Suggestion, len(results))
	for i, res := range results {
		suggestions[i] = res.Suggestion()
	}
	if err := s.issueRepo.ReplaceSuggestions(issue.ID, suggestions); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	refreshed, err := s.issueRepo.GetByID(issue.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: refreshed})
}

func artworkTypeForIssue(issueType models.IssueType) (models.ArtworkType, bool) {
	switch issueType {
	case models.IssueNoPoster, models.IssuePlaceholderPoster:
		return models.ArtworkPoster, true
	case models.IssueNoBackground, models.IssuePlaceholderBackground:
		return models.ArtworkBackground, true
	case models.IssueNoLogo:
		return models.ArtworkLogo, true
	}
	return "", false
}

func (s *Server) loadIssue(w http.ResponseWriter, r *http.Request) (*models.Issue, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid issue id")
		return nil, false
	}
	issue, err := s.issueRepo.GetByID(id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if issue == nil {
		s.respondError(w, http.StatusNotFound, "issue not found")
		return nil, false
	}
	return issue, true
}
