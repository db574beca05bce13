package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"racecontrol/core/adjudication"
	"racecontrol/core/store"
)

// Pending-action slots are exposed generically per kind so the orchestration
// layer can inspect and manage windows directly. Reads apply the same
// expiry-at-read rule as everything else in the core.

func (s *Server) handleGetPending(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	userID := chi.URLParam(r, "userId")
	now := time.Now().UTC()
	ctx := r.Context()

	var (
		payload any
		err     error
	)
	switch kind {
	case "evidence":
		var p *store.PendingEvidence
		p, err = s.workflow.GetPendingEvidence(ctx, userID, now)
		if p != nil {
			payload = p
		}
	case "report":
		var p *store.PendingReport
		p, err = s.workflow.GetPendingReport(ctx, userID, now)
		if p != nil {
			payload = p
		}
	case "appeal":
		var p *store.PendingAppeal
		p, err = s.workflow.GetPendingAppeal(ctx, userID, now)
		if p != nil {
			payload = p
		}
	case "finalization":
		var p *store.PendingFinalization
		p, err = s.workflow.GetPendingFinalization(ctx, userID, now)
		if p != nil {
			payload = p
		}
	case "withdrawal":
		var p *store.PendingWithdrawal
		p, err = s.workflow.GetPendingWithdrawal(ctx, userID, now)
		if p != nil {
			payload = p
		}
	default:
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown pending kind " + kind, Code: "bad_request"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if payload == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no live window", Code: adjudication.CodeWindowExpired})
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handlePutPending(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	userID := chi.URLParam(r, "userId")
	ctx := r.Context()

	var err error
	switch kind {
	case "evidence":
		var p store.PendingEvidence
		if !s.decode(w, r, &p) {
			return
		}
		err = s.workflow.PutPendingEvidence(ctx, userID, p)
	case "report":
		var p store.PendingReport
		if !s.decode(w, r, &p) {
			return
		}
		err = s.workflow.PutPendingReport(ctx, userID, p)
	case "appeal":
		var p store.PendingAppeal
		if !s.decode(w, r, &p) {
			return
		}
		err = s.workflow.PutPendingAppeal(ctx, userID, p)
	case "finalization":
		var p store.PendingFinalization
		if !s.decode(w, r, &p) {
			return
		}
		err = s.workflow.PutPendingFinalization(ctx, userID, p)
	case "withdrawal":
		var p store.PendingWithdrawal
		if !s.decode(w, r, &p) {
			return
		}
		err = s.workflow.PutPendingWithdrawal(ctx, userID, p)
	default:
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown pending kind " + kind, Code: "bad_request"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeletePending(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	userID := chi.URLParam(r, "userId")
	ctx := r.Context()

	var err error
	switch kind {
	case "evidence":
		err = s.workflow.DeletePendingEvidence(ctx, userID)
	case "report":
		err = s.workflow.DeletePendingReport(ctx, userID)
	case "appeal":
		err = s.workflow.DeletePendingAppeal(ctx, userID)
	case "finalization":
		err = s.workflow.DeletePendingFinalization(ctx, userID)
	case "withdrawal":
		err = s.workflow.DeletePendingWithdrawal(ctx, userID)
	default:
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown pending kind " + kind, Code: "bad_request"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Guilty-reply windows are keyed by (user, incident number), so they get their
// own composite-key routes next to the per-user slots above.

func (s *Server) handleGetReplyWindow(w http.ResponseWriter, r *http.Request) {
	p, err := s.workflow.GetPendingGuiltyReply(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "number"), time.Now().UTC())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if p == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no live window", Code: adjudication.CodeWindowExpired})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutReplyWindow(w http.ResponseWriter, r *http.Request) {
	var p store.PendingGuiltyReply
	if !s.decode(w, r, &p) {
		return
	}
	if err := s.workflow.PutPendingGuiltyReply(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "number"), p); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteReplyWindow(w http.ResponseWriter, r *http.Request) {
	if err := s.workflow.DeletePendingGuiltyReply(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "number")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListReplyWindows(w http.ResponseWriter, r *http.Request) {
	list, err := s.workflow.ListPendingGuiltyReplies(r.Context(), chi.URLParam(r, "userId"), time.Now().UTC())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
