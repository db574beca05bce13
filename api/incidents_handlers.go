package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"racecontrol/core/adjudication"
	"racecontrol/core/store"
)

type reportIncidentRequest struct {
	ID          string               `json:"id"`
	Division    string               `json:"division"`
	Race        string               `json:"race"`
	Round       string               `json:"round"`
	Corner      string               `json:"corner"`
	Reason      string               `json:"reason"`
	Description string               `json:"description"`
	ReporterID  string               `json:"reporterId"`
	ReporterTag string               `json:"reporterTag"`
	GuiltyID    string               `json:"guiltyId"`
	GuiltyTag   string               `json:"guiltyTag"`
	Evidence    []store.EvidenceItem `json:"evidence"`
}

func (s *Server) handleReportIncident(w http.ResponseWriter, r *http.Request) {
	var req reportIncidentRequest
	if !s.decode(w, r, &req) {
		return
	}
	incident, err := s.adjudication.ReportIncident(r.Context(), adjudication.ReportRequest{
		ID:          req.ID,
		Division:    req.Division,
		Race:        req.Race,
		Round:       req.Round,
		Corner:      req.Corner,
		Reason:      req.Reason,
		Description: req.Description,
		ReporterID:  req.ReporterID,
		ReporterTag: req.ReporterTag,
		GuiltyID:    req.GuiltyID,
		GuiltyTag:   req.GuiltyTag,
		Evidence:    req.Evidence,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, incident)
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := s.incidents.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (s *Server) handleListOpenIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := s.incidents.ListOpen(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := s.incidents.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if incident == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "incident not found", Code: adjudication.CodeNotFound})
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

func (s *Server) handleGetByNumber(w http.ResponseWriter, r *http.Request) {
	incident, err := s.incidents.GetByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if incident == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "incident not found", Code: adjudication.CodeNotFound})
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

type appendEvidenceRequest struct {
	AddedBy string               `json:"addedBy"`
	Items   []store.EvidenceItem `json:"items"`
}

func (s *Server) handleAppendEvidence(w http.ResponseWriter, r *http.Request) {
	var req appendEvidenceRequest
	if !s.decode(w, r, &req) {
		return
	}
	incident, err := s.adjudication.AppendEvidence(r.Context(), chi.URLParam(r, "id"), req.AddedBy, req.Items)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

type stewardRequest struct {
	StewardID string `json:"stewardId"`
}

func (s *Server) handlePreviewFinalize(w http.ResponseWriter, r *http.Request) {
	var req stewardRequest
	if !s.decode(w, r, &req) {
		return
	}
	preview, err := s.adjudication.PreviewFinalize(r.Context(), chi.URLParam(r, "id"), req.StewardID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

type confirmFinalizeRequest struct {
	StewardID          string `json:"stewardId"`
	PublishedMessageID string `json:"publishedMessageId"`
}

func (s *Server) handleConfirmFinalize(w http.ResponseWriter, r *http.Request) {
	var req confirmFinalizeRequest
	if !s.decode(w, r, &req) {
		return
	}
	incident, err := s.adjudication.ConfirmFinalize(r.Context(), chi.URLParam(r, "id"), req.StewardID, req.PublishedMessageID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

type withdrawalRequest struct {
	UserID       string `json:"userId"`
	UserTag      string `json:"userTag"`
	DeleteRecord bool   `json:"deleteRecord"`
}

func (s *Server) handleRequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if !s.decode(w, r, &req) {
		return
	}
	pending, err := s.adjudication.RequestWithdrawal(r.Context(), chi.URLParam(r, "id"), req.UserID, req.UserTag, req.DeleteRecord)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleConfirmWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.adjudication.ConfirmWithdrawal(r.Context(), chi.URLParam(r, "id"), req.UserID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

type appealRequest struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

func (s *Server) handleRequestAppeal(w http.ResponseWriter, r *http.Request) {
	var req appealRequest
	if !s.decode(w, r, &req) {
		return
	}
	pending, err := s.adjudication.RequestAppeal(r.Context(), chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleSubmitAppeal(w http.ResponseWriter, r *http.Request) {
	var req appealRequest
	if !s.decode(w, r, &req) {
		return
	}
	incident, err := s.adjudication.SubmitAppeal(r.Context(), chi.URLParam(r, "id"), req.UserID, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

type replyRequest struct {
	RequestedBy string `json:"requestedBy"`
	UserID      string `json:"userId"`
	Text        string `json:"text"`
}

func (s *Server) handleRequestReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if !s.decode(w, r, &req) {
		return
	}
	pending, err := s.adjudication.RequestAccusedReply(r.Context(), chi.URLParam(r, "id"), req.RequestedBy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleSubmitReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if !s.decode(w, r, &req) {
		return
	}
	incident, err := s.adjudication.SubmitAccusedReply(r.Context(), chi.URLParam(r, "number"), req.UserID, req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

func (s *Server) handlePeekSequence(w http.ResponseWriter, r *http.Request) {
	n, err := s.counter.Peek(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"nextIncidentNumber": n})
}
