package adjudication

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"racecontrol/config"
	"racecontrol/core/decision"
	"racecontrol/core/sequence"
	"racecontrol/core/storage"
	"racecontrol/core/store"
)

type env struct {
	svc      *Service
	incidents *store.IncidentsStore
	votes    *store.VotesStore
	workflow *store.WorkflowStore
	clock    *time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := storage.New(t.TempDir(), time.Millisecond, 20)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	incidents := store.NewIncidentsStore(st)
	votes := store.NewVotesStore(st)
	workflow := store.NewWorkflowStore(st)
	audits := store.NewAuditStore(st)
	counter := sequence.NewCounter(st, 1000)
	windows := config.WindowsConfig{
		Evidence:     30 * time.Minute,
		Report:       15 * time.Minute,
		Appeal:       48 * time.Hour,
		Finalization: 10 * time.Minute,
		Withdrawal:   5 * time.Minute,
		AccusedReply: 24 * time.Hour,
	}
	svc := NewService(incidents, votes, workflow, audits, counter, windows, config.SanctionsConfig{Cat0Text: "no further action"}, slog.Default())
	clock := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	svc.retryDelay = time.Millisecond
	return &env{svc: svc, incidents: incidents, votes: votes, workflow: workflow, clock: &clock}
}

func (e *env) advance(d time.Duration) { *e.clock = e.clock.Add(d) }

func report(t *testing.T, e *env, id string) *store.Incident {
	t.Helper()
	in, err := e.svc.ReportIncident(context.Background(), ReportRequest{
		ID:          id,
		Division:    "Div 1",
		Race:        "Spa",
		Round:       "3",
		Corner:      "Eau Rouge",
		Reason:      "collision",
		Description: "pushed off at the top of the hill",
		ReporterID:  "rep1",
		ReporterTag: "Rep#1",
		GuiltyID:    "drv9",
		GuiltyTag:   "Drv#9",
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	return in
}

func rejectionCode(t *testing.T, err error) string {
	t.Helper()
	var r *Rejection
	if !errors.As(err, &r) {
		t.Fatalf("want Rejection, got %v", err)
	}
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("rejection does not match ErrRejected: %v", err)
	}
	return r.Code
}

func TestReportAllocatesTicketAndArmsEvidenceWindow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	in := report(t, e, "msg-1")
	if in.IncidentNumber != "INC-1001" {
		t.Fatalf("first ticket %q, want INC-1001", in.IncidentNumber)
	}
	if in.Status != store.StatusOpen {
		t.Fatalf("status %q, want OPEN", in.Status)
	}
	second := report(t, e, "msg-2")
	if second.IncidentNumber != "INC-1002" {
		t.Fatalf("second ticket %q, want INC-1002", second.IncidentNumber)
	}
	window, err := e.workflow.GetPendingEvidence(ctx, "rep1", *e.clock)
	if err != nil {
		t.Fatalf("get evidence window: %v", err)
	}
	if window == nil || window.IncidentID != "msg-2" {
		t.Fatalf("evidence window not armed: %+v", window)
	}
}

func TestReportValidation(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.ReportIncident(context.Background(), ReportRequest{ID: "msg-1", Race: "Spa"})
	if code := rejectionCode(t, err); code != CodeValidationFailed {
		t.Fatalf("code %q, want %q", code, CodeValidationFailed)
	}
}

func TestReportClearsDraft(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if err := e.svc.SaveDraft(ctx, "rep1", store.Incident{Race: "Spa"}); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	if d, _ := e.svc.Draft(ctx, "rep1"); d == nil {
		t.Fatalf("draft not stored")
	}
	report(t, e, "msg-1")
	if d, _ := e.svc.Draft(ctx, "rep1"); d != nil {
		t.Fatalf("draft survived submission: %+v", d)
	}
}

func TestCastVoteEligibility(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	in := report(t, e, "msg-1")
	c2 := decision.Cat2
	if _, err := e.svc.CastVote(ctx, in.ID, "rep1", VoteChange{Track: decision.TrackGuilty, Category: &c2}); rejectionCode(t, err) != CodeVoterIneligible {
		t.Fatalf("reporter vote not rejected")
	}
	if _, err := e.svc.CastVote(ctx, in.ID, "drv9", VoteChange{Track: decision.TrackGuilty, Category: &c2}); rejectionCode(t, err) != CodeVoterIneligible {
		t.Fatalf("accused vote not rejected")
	}
	entry, err := e.svc.CastVote(ctx, in.ID, "steward1", VoteChange{Track: decision.TrackGuilty, Category: &c2})
	if err != nil {
		t.Fatalf("steward vote: %v", err)
	}
	if entry.Category == nil || *entry.Category != decision.Cat2 {
		t.Fatalf("vote not applied: %+v", entry)
	}
}

func TestCastVoteClearedEntryStillPresent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	in := report(t, e, "msg-1")
	c1 := decision.Cat1
	if _, err := e.svc.CastVote(ctx, in.ID, "steward1", VoteChange{Track: decision.TrackGuilty, Category: &c1}); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, err := e.svc.CastVote(ctx, in.ID, "steward1", VoteChange{Track: decision.TrackGuilty, ClearCategory: true}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	ledger, err := e.votes.GetVotes(ctx, in.ID)
	if err != nil {
		t.Fatalf("getVotes: %v", err)
	}
	entry, ok := ledger["steward1"]
	if !ok {
		t.Fatalf("cleared entry removed from ledger; it must persist as a touch record")
	}
	if entry.Category != nil {
		t.Fatalf("category not cleared: %+v", entry)
	}
}

func TestFinalizeFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	in := report(t, e, "msg-1")
	c2 := decision.Cat2
	c3 := decision.Cat3
	plus := true
	if _, err := e.svc.CastVote(ctx, in.ID, "s1", VoteChange{Track: decision.TrackGuilty, Category: &c2}); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, err := e.svc.CastVote(ctx, in.ID, "s2", VoteChange{Track: decision.TrackGuilty, Category: &c2, Plus: &plus}); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, err := e.svc.CastVote(ctx, in.ID, "s3", VoteChange{Track: decision.TrackGuilty, Category: &c3}); err != nil {
		t.Fatalf("vote: %v", err)
	}

	preview, err := e.svc.PreviewFinalize(ctx, in.ID, "steward1")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if preview.Decision != decision.Cat2 {
		t.Fatalf("decision %v, want CAT2", preview.Decision)
	}
	if preview.Shifted != decision.Cat3 {
		t.Fatalf("shifted %v, want CAT3 (net +1)", preview.Shifted)
	}

	if _, err := e.svc.ConfirmFinalize(ctx, "other-incident", "steward1", ""); rejectionCode(t, err) != CodeWrongOwner {
		t.Fatalf("confirm against wrong incident not rejected")
	}
	final, err := e.svc.ConfirmFinalize(ctx, in.ID, "steward1", "publish-42")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if final.Status != store.StatusFinalized || final.Outcome == nil {
		t.Fatalf("not finalized: %+v", final)
	}
	if final.Outcome.Decision != decision.Cat3 || final.Outcome.PublishedMessageID != "publish-42" {
		t.Fatalf("outcome wrong: %+v", final.Outcome)
	}

	open, err := e.incidents.ListOpen(ctx)
	if err != nil {
		t.Fatalf("listOpen: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("finalized incident still open: %+v", open)
	}
	if _, err := e.svc.CastVote(ctx, in.ID, "s4", VoteChange{Track: decision.TrackGuilty, Category: &c2}); rejectionCode(t, err) != CodeIncidentClosed {
		t.Fatalf("vote on finalized incident not rejected")
	}
}

func TestConfirmFinalizeExpiredWindow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	in := report(t, e, "msg-1")
	if _, err := e.svc.PreviewFinalize(ctx, in.ID, "steward1"); err != nil {
		t.Fatalf("preview: %v", err)
	}
	e.advance(11 * time.Minute)
	_, err := e.svc.ConfirmFinalize(ctx, in.ID, "steward1", "")
	if rejectionCode(t, err) != CodeWindowExpired {
		t.Fatalf("expired preview not rejected: %v", err)
	}
}

func TestFinalizeWithoutCategoryVotesDefaultsCat0(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	in := report(t, e, "msg-1")
	minus := true
	if _, err := e.svc.CastVote(ctx, in.ID, "s1", VoteChange{Track: decision.TrackGuilty, Minus: &minus}); err != nil {
		t.Fatalf("vote: %v", err)
	}
	preview, err := e.svc.PreviewFinalize(ctx, in.ID, "steward1")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if preview.Decision != decision.Cat0 || preview.Shifted != decision.Cat0 {
		t.Fatalf("no-vote default wrong: %+v", preview)
	}
	if preview.DecisionText != "no further action" {
		t.Fatalf("cat0 text %q", preview.DecisionText)
	}
}

func TestWithdrawalOwnership(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	in := report(t, e, "msg-1")
	if _, err := e.svc.RequestWithdrawal(ctx, in.ID, "somebody", "Some#1", false); rejectionCode(t, err) != CodeNotReporter {
		t.Fatalf("non-reporter withdrawal not rejected")
	}
	if _, err := e.svc.RequestWithdrawal(ctx, in.ID, "rep1", "Rep#1", false); err != nil {
		t.Fatalf("request withdrawal: %v", err)
	}
	if err := e.svc.ConfirmWithdrawal(ctx, in.ID, "rep1"); err != nil {
		t.Fatalf("confirm withdrawal: %v", err)
	}
	got, err := e.incidents.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.StatusWithdrawn {
		t.Fatalf("status %q, want WITHDRAWN", got.Status)
	}
}

func TestWithdrawalKeepsEvidenceWindowOfNewerIncident(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first := report(t, e, "msg-1")
	report(t, e, "msg-2") // re-arms rep1's evidence window, now pointing at msg-2
	if _, err := e.svc.RequestWithdrawal(ctx, first.ID, "rep1", "Rep#1", false); err != nil {
		t.Fatalf("request withdrawal: %v", err)
	}
	if err := e.svc.ConfirmWithdrawal(ctx, first.ID, "rep1"); err != nil {
		t.Fatalf("confirm withdrawal: %v", err)
	}
	window, err := e.workflow.GetPendingEvidence(ctx, "rep1", *e.clock)
	if err != nil {
		t.Fatalf("get evidence window: %v", err)
	}
	if window == nil || window.IncidentID != "msg-2" {
		t.Fatalf("withdrawing msg-1 must not touch msg-2's evidence window, got %+v", window)
	}
}

func TestWithdrawalClearsOwnEvidenceWindow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	in := report(t, e, "msg-1")
	if _, err := e.svc.RequestWithdrawal(ctx, in.ID, "rep1", "Rep#1", false); err != nil {
		t.Fatalf("request withdrawal: %v", err)
	}
	if err := e.svc.ConfirmWithdrawal(ctx, in.ID, "rep1"); err != nil {
		t.Fatalf("confirm withdrawal: %v", err)
	}
	if w, _ := e.workflow.GetPendingEvidence(ctx, "rep1", *e.clock); w != nil {
		t.Fatalf("evidence window for the withdrawn incident survived: %+v", w)
	}
}

func TestWithdrawalWithDeletion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	in := report(t, e, "msg-1")
	c1 := decision.Cat1
	if _, err := e.svc.CastVote(ctx, in.ID, "s1", VoteChange{Track: decision.TrackGuilty, Category: &c1}); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, err := e.svc.RequestWithdrawal(ctx, in.ID, "rep1", "Rep#1", true); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := e.svc.ConfirmWithdrawal(ctx, in.ID, "rep1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got, _ := e.incidents.Get(ctx, in.ID); got != nil {
		t.Fatalf("record survived deletion: %+v", got)
	}
	if got, _ := e.incidents.GetByNumber(ctx, in.IncidentNumber); got != nil {
		t.Fatalf("index survived deletion: %+v", got)
	}
	ledger, _ := e.votes.GetVotes(ctx, in.ID)
	if len(ledger) != 0 {
		t.Fatalf("ledger survived deletion: %v", ledger)
	}
}

func TestAccusedReplyFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first := report(t, e, "msg-1")
	second := report(t, e, "msg-2")
	if _, err := e.svc.RequestAccusedReply(ctx, first.ID, "steward1"); err != nil {
		t.Fatalf("request reply: %v", err)
	}
	if _, err := e.svc.RequestAccusedReply(ctx, second.ID, "steward1"); err != nil {
		t.Fatalf("request reply: %v", err)
	}
	list, err := e.workflow.ListPendingGuiltyReplies(ctx, "drv9", *e.clock)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("accused should owe two independent replies, got %v", list)
	}
	updated, err := e.svc.SubmitAccusedReply(ctx, first.IncidentNumber, "drv9", "I was ahead at the apex")
	if err != nil {
		t.Fatalf("submit reply: %v", err)
	}
	if updated.Description == first.Description {
		t.Fatalf("reply not appended")
	}
	// The second window is untouched.
	if w, _ := e.workflow.GetPendingGuiltyReply(ctx, "drv9", second.IncidentNumber, *e.clock); w == nil {
		t.Fatalf("sibling reply window lost")
	}
	// Replying again on the consumed window is rejected.
	if _, err := e.svc.SubmitAccusedReply(ctx, first.IncidentNumber, "drv9", "again"); rejectionCode(t, err) != CodeWindowExpired {
		t.Fatalf("consumed window not rejected")
	}
}

func TestAccusedReplyExpiredWindow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	in := report(t, e, "msg-1")
	if _, err := e.svc.RequestAccusedReply(ctx, in.ID, "steward1"); err != nil {
		t.Fatalf("request: %v", err)
	}
	e.advance(25 * time.Hour)
	_, err := e.svc.SubmitAccusedReply(ctx, in.IncidentNumber, "drv9", "too late")
	if rejectionCode(t, err) != CodeWindowExpired {
		t.Fatalf("expired reply window not rejected: %v", err)
	}
}

func TestAppealReopensIncident(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	in := report(t, e, "msg-1")
	c2 := decision.Cat2
	if _, err := e.svc.CastVote(ctx, in.ID, "s1", VoteChange{Track: decision.TrackGuilty, Category: &c2}); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, err := e.svc.PreviewFinalize(ctx, in.ID, "steward1"); err != nil {
		t.Fatalf("preview: %v", err)
	}
	if _, err := e.svc.ConfirmFinalize(ctx, in.ID, "steward1", ""); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if _, err := e.svc.RequestAppeal(ctx, in.ID, "rep1"); rejectionCode(t, err) != CodeWrongOwner {
		t.Fatalf("non-accused appeal not rejected")
	}
	if _, err := e.svc.RequestAppeal(ctx, in.ID, "drv9"); err != nil {
		t.Fatalf("request appeal: %v", err)
	}
	reopened, err := e.svc.SubmitAppeal(ctx, in.ID, "drv9", "the contact was racing incident")
	if err != nil {
		t.Fatalf("submit appeal: %v", err)
	}
	if reopened.Status != store.StatusOpen || reopened.Outcome != nil {
		t.Fatalf("appeal did not reopen: %+v", reopened)
	}
	open, err := e.incidents.ListOpen(ctx)
	if err != nil {
		t.Fatalf("listOpen: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("reopened incident not listed open")
	}
}

func TestAppendEvidenceGuards(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.AppendEvidence(ctx, "ghost", "rep1", []store.EvidenceItem{{Type: store.EvidenceLink, URL: "https://clip"}})
	if rejectionCode(t, err) != CodeNotFound {
		t.Fatalf("missing incident not rejected: %v", err)
	}
	in := report(t, e, "msg-1")
	updated, err := e.svc.AppendEvidence(ctx, in.ID, "rep1", []store.EvidenceItem{{Type: store.EvidenceLink, URL: "https://clip"}})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(updated.Evidence) != 1 || updated.Evidence[0].AddedBy != "rep1" || updated.Evidence[0].AddedAt.IsZero() {
		t.Fatalf("evidence not stamped: %+v", updated.Evidence)
	}
}
