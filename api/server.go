// Package api exposes the adjudication core to the rendering/orchestration
// layer over HTTP. Everything crossing this boundary is plain data: identity
// strings, timestamps and free text, never platform objects.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"

	"racecontrol/config"
	"racecontrol/core/adjudication"
	"racecontrol/core/sequence"
	"racecontrol/core/storage"
	"racecontrol/core/store"
)

const requestBodyMaxBytes = 256 * 1024

type ServerDeps struct {
	Cfg          *config.AppConfig
	Adjudication *adjudication.Service
	Incidents    *store.IncidentsStore
	Votes        *store.VotesStore
	Workflow     *store.WorkflowStore
	Counter      *sequence.Counter
	Logger       *slog.Logger
}

type Server struct {
	cfg          *config.AppConfig
	adjudication *adjudication.Service
	incidents    *store.IncidentsStore
	votes        *store.VotesStore
	workflow     *store.WorkflowStore
	counter      *sequence.Counter
	logger       *slog.Logger
}

func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:          deps.Cfg,
		adjudication: deps.Adjudication,
		incidents:    deps.Incidents,
		votes:        deps.Votes,
		workflow:     deps.Workflow,
		counter:      deps.Counter,
		logger:       logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.requestLogMiddleware)

	r.MethodFunc(http.MethodPost, "/incidents", s.handleReportIncident)
	r.MethodFunc(http.MethodGet, "/incidents", s.handleListIncidents)
	r.MethodFunc(http.MethodGet, "/incidents/open", s.handleListOpenIncidents)
	r.MethodFunc(http.MethodGet, "/incidents/number/{number}", s.handleGetByNumber)
	r.MethodFunc(http.MethodGet, "/incidents/{id}", s.handleGetIncident)
	r.MethodFunc(http.MethodPost, "/incidents/{id}/evidence", s.handleAppendEvidence)
	r.MethodFunc(http.MethodPost, "/incidents/{id}/finalize/preview", s.handlePreviewFinalize)
	r.MethodFunc(http.MethodPost, "/incidents/{id}/finalize/confirm", s.handleConfirmFinalize)
	r.MethodFunc(http.MethodPost, "/incidents/{id}/withdraw", s.handleRequestWithdrawal)
	r.MethodFunc(http.MethodPost, "/incidents/{id}/withdraw/confirm", s.handleConfirmWithdrawal)
	r.MethodFunc(http.MethodPost, "/incidents/{id}/appeal", s.handleRequestAppeal)
	r.MethodFunc(http.MethodPost, "/incidents/{id}/appeal/submit", s.handleSubmitAppeal)
	r.MethodFunc(http.MethodPost, "/incidents/{id}/reply/request", s.handleRequestReply)
	r.MethodFunc(http.MethodPost, "/replies/{number}", s.handleSubmitReply)

	r.MethodFunc(http.MethodGet, "/incidents/{id}/votes", s.handleGetVotes)
	r.MethodFunc(http.MethodPut, "/incidents/{id}/votes/{voterId}", s.handleCastVote)
	r.MethodFunc(http.MethodGet, "/incidents/{id}/tally", s.handleTally)

	r.MethodFunc(http.MethodGet, "/pending/reply/{userId}", s.handleListReplyWindows)
	r.MethodFunc(http.MethodGet, "/pending/reply/{userId}/{number}", s.handleGetReplyWindow)
	r.MethodFunc(http.MethodPut, "/pending/reply/{userId}/{number}", s.handlePutReplyWindow)
	r.MethodFunc(http.MethodDelete, "/pending/reply/{userId}/{number}", s.handleDeleteReplyWindow)
	r.MethodFunc(http.MethodGet, "/pending/{kind}/{userId}", s.handleGetPending)
	r.MethodFunc(http.MethodPut, "/pending/{kind}/{userId}", s.handlePutPending)
	r.MethodFunc(http.MethodDelete, "/pending/{kind}/{userId}", s.handleDeletePending)

	r.MethodFunc(http.MethodGet, "/sequence/peek", s.handlePeekSequence)
	return r
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic", "method", r.Method, "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, requestBodyMaxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Code: "bad_request"})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps domain rejections to stable status codes and everything
// else to a transient or internal failure.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var rej *adjudication.Rejection
	if errors.As(err, &rej) {
		writeJSON(w, rejectionStatus(rej.Code), errorBody{Error: rej.Message, Code: rej.Code})
		return
	}
	if errors.Is(err, storage.ErrLockTimeout) {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "store busy, retry", Code: "lock_timeout"})
		return
	}
	s.logger.Error("request failed", "err", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
}

func rejectionStatus(code string) int {
	switch code {
	case adjudication.CodeNotFound:
		return http.StatusNotFound
	case adjudication.CodeVoterIneligible, adjudication.CodeNotReporter, adjudication.CodeWrongOwner:
		return http.StatusForbidden
	case adjudication.CodeIncidentClosed, adjudication.CodeWindowExpired:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}
