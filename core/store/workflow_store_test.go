package store

import (
	"context"
	"testing"
	"time"
)

func TestPendingEvidenceExpiryAtRead(t *testing.T) {
	s := NewWorkflowStore(newTestStorage(t))
	ctx := context.Background()
	now := time.Now().UTC()
	p := PendingEvidence{Window: Deadline(now, time.Minute), IncidentID: "m1"}
	if err := s.PutPendingEvidence(ctx, "rep1", p); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.GetPendingEvidence(ctx, "rep1", now)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.IncidentID != "m1" {
		t.Fatalf("live window missing: %+v", got)
	}
	// One tick past the window, before any sweep: treated as absent.
	got, err = s.GetPendingEvidence(ctx, "rep1", now.Add(time.Minute+time.Millisecond))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expired window still visible: %+v", got)
	}
}

func TestPendingDeleteIsIdempotent(t *testing.T) {
	s := NewWorkflowStore(newTestStorage(t))
	ctx := context.Background()
	if err := s.DeletePendingAppeal(ctx, "nobody"); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
	now := time.Now().UTC()
	if err := s.PutPendingAppeal(ctx, "drv9", PendingAppeal{Window: Deadline(now, time.Hour), IncidentID: "m1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.DeletePendingAppeal(ctx, "drv9"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeletePendingAppeal(ctx, "drv9"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if got, _ := s.GetPendingAppeal(ctx, "drv9", now); got != nil {
		t.Fatalf("appeal survived delete: %+v", got)
	}
}

func TestGuiltyReplyWindowsArePerIncident(t *testing.T) {
	s := NewWorkflowStore(newTestStorage(t))
	ctx := context.Background()
	now := time.Now().UTC()
	if err := s.PutPendingGuiltyReply(ctx, "drv9", "INC-1", PendingGuiltyReply{Window: Deadline(now, time.Hour), IncidentID: "m1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutPendingGuiltyReply(ctx, "drv9", "inc-2", PendingGuiltyReply{Window: Deadline(now, time.Hour), IncidentID: "m2"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	list, err := s.ListPendingGuiltyReplies(ctx, "drv9", now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("want 2 concurrent reply windows, got %v", list)
	}
	if err := s.DeletePendingGuiltyReply(ctx, "drv9", "1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := s.GetPendingGuiltyReply(ctx, "drv9", "INC-2", now)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.IncidentID != "m2" {
		t.Fatalf("sibling window lost: %+v", got)
	}
}

func TestDeleteLastGuiltyReplyPrunesOuterEntry(t *testing.T) {
	s := NewWorkflowStore(newTestStorage(t))
	ctx := context.Background()
	now := time.Now().UTC()
	if err := s.PutPendingGuiltyReply(ctx, "drv9", "INC-1", PendingGuiltyReply{Window: Deadline(now, time.Hour), IncidentID: "m1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.DeletePendingGuiltyReply(ctx, "drv9", "INC-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	list, err := s.ListPendingGuiltyReplies(ctx, "drv9", now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("outer entry not pruned: %v", list)
	}
}

func TestSweepExpiredAllKinds(t *testing.T) {
	s := NewWorkflowStore(newTestStorage(t))
	ctx := context.Background()
	now := time.Now().UTC()
	stale := Deadline(now, -time.Minute)
	live := Deadline(now, time.Hour)

	if err := s.PutPendingEvidence(ctx, "u1", PendingEvidence{Window: stale, IncidentID: "m1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutPendingReport(ctx, "u2", PendingReport{Window: stale}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutPendingAppeal(ctx, "u3", PendingAppeal{Window: stale, IncidentID: "m1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutPendingFinalization(ctx, "u4", PendingFinalization{Window: stale, IncidentID: "m1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutPendingWithdrawal(ctx, "u5", PendingWithdrawal{Window: stale, IncidentID: "m1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutPendingGuiltyReply(ctx, "u6", "INC-1", PendingGuiltyReply{Window: stale, IncidentID: "m1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutPendingGuiltyReply(ctx, "u6", "INC-2", PendingGuiltyReply{Window: live, IncidentID: "m2"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	removed, err := s.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 6 {
		t.Fatalf("removed %d, want 6", removed)
	}
	if got, _ := s.GetPendingGuiltyReply(ctx, "u6", "INC-2", now); got == nil {
		t.Fatalf("live reply window swept")
	}

	again, err := s.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again != 0 {
		t.Fatalf("second sweep removed %d, want 0", again)
	}
}
