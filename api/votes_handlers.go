package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"racecontrol/core/adjudication"
	"racecontrol/core/decision"
)

func (s *Server) handleGetVotes(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.votes.GetVotes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

type castVoteRequest struct {
	Track         decision.Track     `json:"track"`
	Category      *decision.Category `json:"category"`
	ClearCategory bool               `json:"clearCategory"`
	Plus          *bool              `json:"plus"`
	Minus         *bool              `json:"minus"`
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var req castVoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.adjudication.CastVote(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "voterId"), adjudication.VoteChange{
		Track:         req.Track,
		Category:      req.Category,
		ClearCategory: req.ClearCategory,
		Plus:          req.Plus,
		Minus:         req.Minus,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleTally(w http.ResponseWriter, r *http.Request) {
	track := decision.Track(r.URL.Query().Get("track"))
	if track == "" {
		track = decision.TrackGuilty
	}
	report, err := s.adjudication.TallyIncident(r.Context(), chi.URLParam(r, "id"), track)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
