// Package adjudication sequences the stores into the workflow use cases:
// report, evidence, voting, finalization, withdrawal, appeal and accused
// replies. Each use case is thin; the invariants live in the stores and the
// decision engine.
package adjudication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"racecontrol/config"
	"racecontrol/core/decision"
	"racecontrol/core/sequence"
	"racecontrol/core/store"
)

type Service struct {
	incidents *store.IncidentsStore
	votes     *store.VotesStore
	workflow  *store.WorkflowStore
	audits    *store.AuditStore
	counter   *sequence.Counter

	windows   config.WindowsConfig
	sanctions config.SanctionsConfig
	logger    *slog.Logger

	now        func() time.Time
	retryDelay time.Duration
}

func NewService(incidents *store.IncidentsStore, votes *store.VotesStore, workflow *store.WorkflowStore, audits *store.AuditStore, counter *sequence.Counter, windows config.WindowsConfig, sanctions config.SanctionsConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		incidents:  incidents,
		votes:      votes,
		workflow:   workflow,
		audits:     audits,
		counter:    counter,
		windows:    windows,
		sanctions:  sanctions,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		retryDelay: 250 * time.Millisecond,
	}
}

// retryTransient runs a mutating step and, on a transient failure (lock
// timeout, filesystem error), retries it once after a short fixed delay.
// Rejections pass straight through.
func (s *Service) retryTransient(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil || errors.Is(err, ErrRejected) {
		return err
	}
	s.logger.Warn("transient failure, retrying once", "op", op, "err", err)
	select {
	case <-time.After(s.retryDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return fn()
}

func (s *Service) audit(ctx context.Context, ev store.AuditEvent) {
	if err := s.audits.Append(ctx, ev); err != nil {
		// The core write already succeeded and is authoritative; a failed
		// audit append is reported, not rolled back.
		s.logger.Warn("audit append failed", "type", ev.Type, "err", err)
	}
}

// ReportRequest carries the plain-data fields of a new incident report. The
// id is origin-assigned (typically the report message identifier).
type ReportRequest struct {
	ID          string
	Division    string
	Race        string
	Round       string
	Corner      string
	Reason      string
	Description string
	ReporterID  string
	ReporterTag string
	GuiltyID    string
	GuiltyTag   string
	Evidence    []store.EvidenceItem
}

// ReportIncident validates the report, allocates the next ticket, persists
// the incident, clears the reporter's draft slot and arms their evidence
// window.
func (s *Service) ReportIncident(ctx context.Context, req ReportRequest) (*store.Incident, error) {
	if req.ID == "" {
		return nil, reject(CodeValidationFailed, "incident id is required")
	}
	if req.Race == "" || req.Round == "" || req.Description == "" {
		return nil, reject(CodeValidationFailed, "race, round and description are required")
	}
	ticket, err := s.counter.Next(ctx)
	if err != nil {
		return nil, err
	}
	incident := &store.Incident{
		ID:             req.ID,
		IncidentNumber: ticket,
		Status:         store.StatusOpen,
		Division:       req.Division,
		Race:           req.Race,
		Round:          req.Round,
		Corner:         req.Corner,
		Reason:         req.Reason,
		Description:    req.Description,
		ReporterID:     req.ReporterID,
		ReporterTag:    req.ReporterTag,
		GuiltyID:       req.GuiltyID,
		GuiltyTag:      req.GuiltyTag,
		Evidence:       req.Evidence,
	}
	var saved *store.Incident
	err = s.retryTransient(ctx, "report", func() error {
		var err error
		saved, err = s.incidents.Save(ctx, incident)
		return err
	})
	if err != nil {
		return nil, err
	}
	if req.ReporterID != "" {
		if err := s.workflow.DeletePendingReport(ctx, req.ReporterID); err != nil {
			s.logger.Warn("clearing report draft failed", "user", req.ReporterID, "err", err)
		}
		window := store.PendingEvidence{Window: store.Deadline(s.now(), s.windows.Evidence), IncidentID: saved.ID}
		if err := s.workflow.PutPendingEvidence(ctx, req.ReporterID, window); err != nil {
			s.logger.Warn("arming evidence window failed", "user", req.ReporterID, "err", err)
		}
	}
	s.audit(ctx, store.AuditEvent{
		Type:           "incident_reported",
		ActorID:        req.ReporterID,
		IncidentID:     saved.ID,
		IncidentNumber: saved.IncidentNumber,
	})
	return saved, nil
}

// SaveDraft stores (or refreshes) the user's pending report draft.
func (s *Service) SaveDraft(ctx context.Context, userID string, draft store.Incident) error {
	if userID == "" {
		return reject(CodeValidationFailed, "user id is required")
	}
	p := store.PendingReport{Window: store.Deadline(s.now(), s.windows.Report), Draft: draft}
	return s.retryTransient(ctx, "save-draft", func() error {
		return s.workflow.PutPendingReport(ctx, userID, p)
	})
}

// Draft returns the user's unexpired report draft, if any.
func (s *Service) Draft(ctx context.Context, userID string) (*store.PendingReport, error) {
	return s.workflow.GetPendingReport(ctx, userID, s.now())
}

// AppendEvidence adds evidence to an open incident.
func (s *Service) AppendEvidence(ctx context.Context, incidentID, addedBy string, items []store.EvidenceItem) (*store.Incident, error) {
	incident, err := s.incidents.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, reject(CodeNotFound, "no incident with id "+incidentID)
	}
	if incident.Status.Terminal() {
		return nil, reject(CodeIncidentClosed, fmt.Sprintf("%s is %s", incident.IncidentNumber, incident.Status))
	}
	now := s.now()
	for i := range items {
		items[i].AddedBy = addedBy
		items[i].AddedAt = now
	}
	var updated *store.Incident
	err = s.retryTransient(ctx, "append-evidence", func() error {
		var err error
		updated, err = s.incidents.AppendEvidence(ctx, incidentID, items)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, store.AuditEvent{
		Type:           "evidence_added",
		ActorID:        addedBy,
		IncidentID:     incidentID,
		IncidentNumber: incident.IncidentNumber,
		Detail:         map[string]string{"items": fmt.Sprintf("%d", len(items))},
	})
	return updated, nil
}

// VoteChange mutates one voter's entry on one track. Nil pointer fields leave
// the corresponding state untouched.
type VoteChange struct {
	Track         decision.Track
	Category      *decision.Category
	ClearCategory bool
	Plus          *bool
	Minus         *bool
}

// CastVote applies a vote change after the eligibility check. The entry is
// created lazily on first interaction and survives being cleared back to
// empty: its presence records that the voter touched the incident.
func (s *Service) CastVote(ctx context.Context, incidentID, voterID string, change VoteChange) (decision.VoteEntry, error) {
	var zero decision.VoteEntry
	if !change.Track.Valid() {
		return zero, reject(CodeInvalidTrack, "track must be guilty or reporter")
	}
	if change.Category != nil && !change.Category.Valid() {
		return zero, reject(CodeInvalidCategory, "unknown category "+string(*change.Category))
	}
	incident, err := s.incidents.Get(ctx, incidentID)
	if err != nil {
		return zero, err
	}
	if incident == nil {
		return zero, reject(CodeNotFound, "no incident with id "+incidentID)
	}
	if incident.Status.Terminal() {
		return zero, reject(CodeIncidentClosed, fmt.Sprintf("%s is %s", incident.IncidentNumber, incident.Status))
	}
	if !decision.CanVote(voterID, incident.ReporterID, incident.GuiltyID) {
		return zero, reject(CodeVoterIneligible, "reporter and accused cannot vote on their own incident")
	}
	ledger, err := s.votes.GetVotes(ctx, incidentID)
	if err != nil {
		return zero, err
	}
	entry := ledger[voterID]
	if change.ClearCategory {
		entry.SetCategory(change.Track, nil)
	} else if change.Category != nil {
		c := *change.Category
		entry.SetCategory(change.Track, &c)
	}
	if change.Plus != nil {
		entry.SetPlus(change.Track, *change.Plus)
	}
	if change.Minus != nil {
		entry.SetMinus(change.Track, *change.Minus)
	}
	err = s.retryTransient(ctx, "cast-vote", func() error {
		return s.votes.SetVote(ctx, incidentID, voterID, entry)
	})
	if err != nil {
		return zero, err
	}
	s.audit(ctx, store.AuditEvent{
		Type:           "vote_cast",
		ActorID:        voterID,
		IncidentID:     incidentID,
		IncidentNumber: incident.IncidentNumber,
		Detail:         map[string]string{"track": string(change.Track)},
	})
	return entry, nil
}

// TallyReport is the computed voting state of one track.
type TallyReport struct {
	Track    decision.Track       `json:"track"`
	Tally    decision.TallyResult `json:"tally"`
	Decision decision.Category    `json:"decision"`
	Shifted  decision.Category    `json:"shifted"`
	Text     string               `json:"text"`
}

// TallyIncident computes the current tally, decision and shifted sanction for
// one track without mutating anything.
func (s *Service) TallyIncident(ctx context.Context, incidentID string, track decision.Track) (TallyReport, error) {
	var zero TallyReport
	if !track.Valid() {
		return zero, reject(CodeInvalidTrack, "track must be guilty or reporter")
	}
	incident, err := s.incidents.Get(ctx, incidentID)
	if err != nil {
		return zero, err
	}
	if incident == nil {
		return zero, reject(CodeNotFound, "no incident with id "+incidentID)
	}
	ledger, err := s.votes.GetVotes(ctx, incidentID)
	if err != nil {
		return zero, err
	}
	return s.computeTally(ledger, track), nil
}

func (s *Service) computeTally(ledger map[string]decision.VoteEntry, track decision.Track) TallyReport {
	tally := decision.Tally(ledger, track)
	decided, _ := decision.WinningCategory(ledger, track)
	shifted := decision.ShiftedSanction(decided, tally.NetPenalty)
	return TallyReport{
		Track:    track,
		Tally:    tally,
		Decision: decided,
		Shifted:  shifted,
		Text:     decision.SanctionText(shifted, s.sanctions.Cat0Text),
	}
}

// PreviewFinalize computes the outcome the steward is about to apply and
// parks it in their finalization window. Confirming applies exactly this
// snapshot.
func (s *Service) PreviewFinalize(ctx context.Context, incidentID, stewardID string) (*store.PendingFinalization, error) {
	if stewardID == "" {
		return nil, reject(CodeValidationFailed, "steward id is required")
	}
	incident, err := s.incidents.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, reject(CodeNotFound, "no incident with id "+incidentID)
	}
	if incident.Status.Terminal() {
		return nil, reject(CodeIncidentClosed, fmt.Sprintf("%s is %s", incident.IncidentNumber, incident.Status))
	}
	ledger, err := s.votes.GetVotes(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	report := s.computeTally(ledger, decision.TrackGuilty)
	pending := store.PendingFinalization{
		Window:       store.Deadline(s.now(), s.windows.Finalization),
		IncidentID:   incident.ID,
		Snapshot:     *incident,
		Decision:     report.Decision,
		Shifted:      report.Shifted,
		Tally:        report.Tally,
		DecisionText: report.Text,
	}
	err = s.retryTransient(ctx, "preview-finalize", func() error {
		return s.workflow.PutPendingFinalization(ctx, stewardID, pending)
	})
	if err != nil {
		return nil, err
	}
	return &pending, nil
}

// ConfirmFinalize applies the steward's previewed outcome. The window must
// still be live and must belong to the same incident.
func (s *Service) ConfirmFinalize(ctx context.Context, incidentID, stewardID, publishedMessageID string) (*store.Incident, error) {
	pending, err := s.workflow.GetPendingFinalization(ctx, stewardID, s.now())
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, reject(CodeWindowExpired, "no live finalization preview; run preview again")
	}
	if pending.IncidentID != incidentID {
		return nil, reject(CodeWrongOwner, "finalization preview belongs to another incident")
	}
	incident, err := s.incidents.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, reject(CodeNotFound, "no incident with id "+incidentID)
	}
	if incident.Status.Terminal() {
		return nil, reject(CodeIncidentClosed, fmt.Sprintf("%s is %s", incident.IncidentNumber, incident.Status))
	}
	incident.Status = store.StatusFinalized
	incident.Outcome = &store.Outcome{
		Decision:           pending.Shifted,
		DecisionText:       pending.DecisionText,
		FinalizedAt:        s.now(),
		PublishedMessageID: publishedMessageID,
	}
	var saved *store.Incident
	err = s.retryTransient(ctx, "confirm-finalize", func() error {
		var err error
		saved, err = s.incidents.Save(ctx, incident)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := s.workflow.DeletePendingFinalization(ctx, stewardID); err != nil {
		s.logger.Warn("clearing finalization window failed", "user", stewardID, "err", err)
	}
	s.audit(ctx, store.AuditEvent{
		Type:           "incident_finalized",
		ActorID:        stewardID,
		IncidentID:     saved.ID,
		IncidentNumber: saved.IncidentNumber,
		Detail:         map[string]string{"decision": string(pending.Shifted)},
	})
	return saved, nil
}

// RequestWithdrawal opens the reporter's confirmation window. Only the
// reporter (by id, or tag fallback) may withdraw.
func (s *Service) RequestWithdrawal(ctx context.Context, incidentID, userID, userTag string, deleteRecord bool) (*store.PendingWithdrawal, error) {
	incident, err := s.incidents.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, reject(CodeNotFound, "no incident with id "+incidentID)
	}
	if incident.Status.Terminal() {
		return nil, reject(CodeIncidentClosed, fmt.Sprintf("%s is %s", incident.IncidentNumber, incident.Status))
	}
	if !decision.CanWithdraw(incident.ReporterID, incident.ReporterTag, userID, userTag) {
		return nil, reject(CodeNotReporter, "only the reporter can withdraw an incident")
	}
	pending := store.PendingWithdrawal{
		Window:       store.Deadline(s.now(), s.windows.Withdrawal),
		IncidentID:   incident.ID,
		DeleteRecord: deleteRecord,
	}
	err = s.retryTransient(ctx, "request-withdrawal", func() error {
		return s.workflow.PutPendingWithdrawal(ctx, userID, pending)
	})
	if err != nil {
		return nil, err
	}
	return &pending, nil
}

// ConfirmWithdrawal applies the parked withdrawal: either marks the incident
// withdrawn or deletes the record together with its ledger and pending state.
func (s *Service) ConfirmWithdrawal(ctx context.Context, incidentID, userID string) error {
	pending, err := s.workflow.GetPendingWithdrawal(ctx, userID, s.now())
	if err != nil {
		return err
	}
	if pending == nil {
		return reject(CodeWindowExpired, "no live withdrawal request; start again")
	}
	if pending.IncidentID != incidentID {
		return reject(CodeWrongOwner, "withdrawal request belongs to another incident")
	}
	incident, err := s.incidents.Get(ctx, incidentID)
	if err != nil {
		return err
	}
	if incident == nil {
		return reject(CodeNotFound, "no incident with id "+incidentID)
	}
	if pending.DeleteRecord {
		err = s.retryTransient(ctx, "withdraw-delete", func() error {
			return s.incidents.Delete(ctx, incidentID)
		})
		if err != nil {
			return err
		}
		if err := s.votes.DeleteVotes(ctx, incidentID); err != nil {
			s.logger.Warn("deleting vote ledger failed", "incident", incidentID, "err", err)
		}
	} else {
		incident.Status = store.StatusWithdrawn
		err = s.retryTransient(ctx, "withdraw", func() error {
			_, err := s.incidents.Save(ctx, incident)
			return err
		})
		if err != nil {
			return err
		}
	}
	if err := s.workflow.DeletePendingWithdrawal(ctx, userID); err != nil {
		s.logger.Warn("clearing withdrawal window failed", "user", userID, "err", err)
	}
	// The evidence window is keyed by user and re-armed on every report, so it
	// may already belong to a newer incident. Only clear it when it still
	// points at the incident being withdrawn.
	if ev, err := s.workflow.GetPendingEvidence(ctx, userID, s.now()); err != nil {
		s.logger.Warn("reading evidence window failed", "user", userID, "err", err)
	} else if ev != nil && ev.IncidentID == incidentID {
		if err := s.workflow.DeletePendingEvidence(ctx, userID); err != nil {
			s.logger.Warn("clearing evidence window failed", "user", userID, "err", err)
		}
	}
	s.audit(ctx, store.AuditEvent{
		Type:           "incident_withdrawn",
		ActorID:        userID,
		IncidentID:     incident.ID,
		IncidentNumber: incident.IncidentNumber,
		Detail:         map[string]string{"deleted": fmt.Sprintf("%t", pending.DeleteRecord)},
	})
	return nil
}

// RequestAccusedReply opens a reply window for the accused on this incident.
// Windows are per (user, incident): parallel incidents get parallel windows.
func (s *Service) RequestAccusedReply(ctx context.Context, incidentID, requestedBy string) (*store.PendingGuiltyReply, error) {
	incident, err := s.incidents.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, reject(CodeNotFound, "no incident with id "+incidentID)
	}
	if incident.GuiltyID == "" {
		return nil, reject(CodeValidationFailed, "incident has no accused party on record")
	}
	pending := store.PendingGuiltyReply{
		Window:     store.Deadline(s.now(), s.windows.AccusedReply),
		IncidentID: incident.ID,
	}
	err = s.retryTransient(ctx, "request-reply", func() error {
		return s.workflow.PutPendingGuiltyReply(ctx, incident.GuiltyID, incident.IncidentNumber, pending)
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, store.AuditEvent{
		Type:           "reply_requested",
		ActorID:        requestedBy,
		IncidentID:     incident.ID,
		IncidentNumber: incident.IncidentNumber,
	})
	return &pending, nil
}

// SubmitAccusedReply records the accused party's statement inside their live
// window and closes it.
func (s *Service) SubmitAccusedReply(ctx context.Context, incidentNumber, userID, text string) (*store.Incident, error) {
	if text == "" {
		return nil, reject(CodeValidationFailed, "reply text is required")
	}
	pending, err := s.workflow.GetPendingGuiltyReply(ctx, userID, incidentNumber, s.now())
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, reject(CodeWindowExpired, "no live reply window for "+sequence.Normalize(incidentNumber))
	}
	incident, err := s.incidents.Get(ctx, pending.IncidentID)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, reject(CodeNotFound, "incident behind the reply window no longer exists")
	}
	incident.Description = incident.Description + "\n\nStatement by accused: " + text
	var saved *store.Incident
	err = s.retryTransient(ctx, "submit-reply", func() error {
		var err error
		saved, err = s.incidents.Save(ctx, incident)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := s.workflow.DeletePendingGuiltyReply(ctx, userID, incidentNumber); err != nil {
		s.logger.Warn("clearing reply window failed", "user", userID, "err", err)
	}
	s.audit(ctx, store.AuditEvent{
		Type:           "reply_submitted",
		ActorID:        userID,
		IncidentID:     saved.ID,
		IncidentNumber: saved.IncidentNumber,
	})
	return saved, nil
}

// RequestAppeal opens the accused party's appeal window on a finalized
// incident.
func (s *Service) RequestAppeal(ctx context.Context, incidentID, userID string) (*store.PendingAppeal, error) {
	incident, err := s.incidents.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, reject(CodeNotFound, "no incident with id "+incidentID)
	}
	if incident.Status != store.StatusFinalized {
		return nil, reject(CodeValidationFailed, "only finalized incidents can be appealed")
	}
	if incident.GuiltyID == "" || userID != incident.GuiltyID {
		return nil, reject(CodeWrongOwner, "only the sanctioned party can appeal")
	}
	pending := store.PendingAppeal{
		Window:     store.Deadline(s.now(), s.windows.Appeal),
		IncidentID: incident.ID,
	}
	err = s.retryTransient(ctx, "request-appeal", func() error {
		return s.workflow.PutPendingAppeal(ctx, userID, pending)
	})
	if err != nil {
		return nil, err
	}
	return &pending, nil
}

// SubmitAppeal reopens the finalized incident for a fresh round of voting:
// the outcome is cleared and the status returns to OPEN.
func (s *Service) SubmitAppeal(ctx context.Context, incidentID, userID, reason string) (*store.Incident, error) {
	pending, err := s.workflow.GetPendingAppeal(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, reject(CodeWindowExpired, "no live appeal window; request an appeal first")
	}
	if pending.IncidentID != incidentID {
		return nil, reject(CodeWrongOwner, "appeal window belongs to another incident")
	}
	incident, err := s.incidents.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, reject(CodeNotFound, "no incident with id "+incidentID)
	}
	incident.Status = store.StatusOpen
	incident.Outcome = nil
	if reason != "" {
		incident.Description = incident.Description + "\n\nAppeal: " + reason
	}
	var saved *store.Incident
	err = s.retryTransient(ctx, "submit-appeal", func() error {
		var err error
		saved, err = s.incidents.Save(ctx, incident)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := s.workflow.DeletePendingAppeal(ctx, userID); err != nil {
		s.logger.Warn("clearing appeal window failed", "user", userID, "err", err)
	}
	s.audit(ctx, store.AuditEvent{
		Type:           "incident_appealed",
		ActorID:        userID,
		IncidentID:     saved.ID,
		IncidentNumber: saved.IncidentNumber,
	})
	return saved, nil
}
