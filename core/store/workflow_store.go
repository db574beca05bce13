package store

import (
	"context"
	"time"

	"racecontrol/core/sequence"
	"racecontrol/core/storage"
)

// WorkflowStore is the registry of time-boxed pending actions, kept in the
// workflow document alongside the incidents. Every read re-checks expiry
// against the caller's clock: an entry past its window is absent no matter
// what is still on disk. The sweep exists for cleanup, not correctness.
type WorkflowStore struct {
	store *storage.Store
}

func NewWorkflowStore(store *storage.Store) *WorkflowStore {
	return &WorkflowStore{store: store}
}

func (s *WorkflowStore) GetPendingEvidence(ctx context.Context, userID string, now time.Time) (*PendingEvidence, error) {
	return storage.View(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (*PendingEvidence, error) {
			p := doc.Workflow.PendingEvidence[userID]
			if p == nil || p.Expired(now) {
				return nil, nil
			}
			out := *p
			return &out, nil
		})
}

func (s *WorkflowStore) PutPendingEvidence(ctx context.Context, userID string, p PendingEvidence) error {
	_, err := storage.Update(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (bool, struct{}, error) {
			if doc.Workflow.PendingEvidence == nil {
				doc.Workflow.PendingEvidence = map[string]*PendingEvidence{}
			}
			doc.Workflow.PendingEvidence[userID] = &p
			return true, struct{}{}, nil
		})
	return err
}

func (s *WorkflowStore) DeletePendingEvidence(ctx context.Context, userID string) error {
	return deleteSlot(ctx, s, func(doc *workflowDoc) bool {
		if _, ok := doc.Workflow.PendingEvidence[userID]; !ok {
			return false
		}
		delete(doc.Workflow.PendingEvidence, userID)
		return true
	})
}

func (s *WorkflowStore) GetPendingReport(ctx context.Context, userID string, now time.Time) (*PendingReport, error) {
	return storage.View(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (*PendingReport, error) {
			p := doc.Workflow.PendingIncidentReports[userID]
			if p == nil || p.Expired(now) {
				return nil, nil
			}
			out := *p
			return &out, nil
		})
}

func (s *WorkflowStore) PutPendingReport(ctx context.Context, userID string, p PendingReport) error {
	_, err := storage.Update(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (bool, struct{}, error) {
			if doc.Workflow.PendingIncidentReports == nil {
				doc.Workflow.PendingIncidentReports = map[string]*PendingReport{}
			}
			doc.Workflow.PendingIncidentReports[userID] = &p
			return true, struct{}{}, nil
		})
	return err
}

func (s *WorkflowStore) DeletePendingReport(ctx context.Context, userID string) error {
	return deleteSlot(ctx, s, func(doc *workflowDoc) bool {
		if _, ok := doc.Workflow.PendingIncidentReports[userID]; !ok {
			return false
		}
		delete(doc.Workflow.PendingIncidentReports, userID)
		return true
	})
}

func (s *WorkflowStore) GetPendingAppeal(ctx context.Context, userID string, now time.Time) (*PendingAppeal, error) {
	return storage.View(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (*PendingAppeal, error) {
			p := doc.Workflow.PendingAppeals[userID]
			if p == nil || p.Expired(now) {
				return nil, nil
			}
			out := *p
			return &out, nil
		})
}

func (s *WorkflowStore) PutPendingAppeal(ctx context.Context, userID string, p PendingAppeal) error {
	_, err := storage.Update(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (bool, struct{}, error) {
			if doc.Workflow.PendingAppeals == nil {
				doc.Workflow.PendingAppeals = map[string]*PendingAppeal{}
			}
			doc.Workflow.PendingAppeals[userID] = &p
			return true, struct{}{}, nil
		})
	return err
}

func (s *WorkflowStore) DeletePendingAppeal(ctx context.Context, userID string) error {
	return deleteSlot(ctx, s, func(doc *workflowDoc) bool {
		if _, ok := doc.Workflow.PendingAppeals[userID]; !ok {
			return false
		}
		delete(doc.Workflow.PendingAppeals, userID)
		return true
	})
}

func (s *WorkflowStore) GetPendingFinalization(ctx context.Context, userID string, now time.Time) (*PendingFinalization, error) {
	return storage.View(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (*PendingFinalization, error) {
			p := doc.Workflow.PendingFinalizations[userID]
			if p == nil || p.Expired(now) {
				return nil, nil
			}
			out := *p
			return &out, nil
		})
}

func (s *WorkflowStore) PutPendingFinalization(ctx context.Context, userID string, p PendingFinalization) error {
	_, err := storage.Update(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (bool, struct{}, error) {
			if doc.Workflow.PendingFinalizations == nil {
				doc.Workflow.PendingFinalizations = map[string]*PendingFinalization{}
			}
			doc.Workflow.PendingFinalizations[userID] = &p
			return true, struct{}{}, nil
		})
	return err
}

func (s *WorkflowStore) DeletePendingFinalization(ctx context.Context, userID string) error {
	return deleteSlot(ctx, s, func(doc *workflowDoc) bool {
		if _, ok := doc.Workflow.PendingFinalizations[userID]; !ok {
			return false
		}
		delete(doc.Workflow.PendingFinalizations, userID)
		return true
	})
}

func (s *WorkflowStore) GetPendingWithdrawal(ctx context.Context, userID string, now time.Time) (*PendingWithdrawal, error) {
	return storage.View(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (*PendingWithdrawal, error) {
			p := doc.Workflow.PendingWithdrawals[userID]
			if p == nil || p.Expired(now) {
				return nil, nil
			}
			out := *p
			return &out, nil
		})
}

func (s *WorkflowStore) PutPendingWithdrawal(ctx context.Context, userID string, p PendingWithdrawal) error {
	_, err := storage.Update(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (bool, struct{}, error) {
			if doc.Workflow.PendingWithdrawals == nil {
				doc.Workflow.PendingWithdrawals = map[string]*PendingWithdrawal{}
			}
			doc.Workflow.PendingWithdrawals[userID] = &p
			return true, struct{}{}, nil
		})
	return err
}

func (s *WorkflowStore) DeletePendingWithdrawal(ctx context.Context, userID string) error {
	return deleteSlot(ctx, s, func(doc *workflowDoc) bool {
		if _, ok := doc.Workflow.PendingWithdrawals[userID]; !ok {
			return false
		}
		delete(doc.Workflow.PendingWithdrawals, userID)
		return true
	})
}

// GetPendingGuiltyReply looks up the accused-reply window for one user on one
// incident. The window is per (user, incident): a user can owe replies on
// several incidents at once.
func (s *WorkflowStore) GetPendingGuiltyReply(ctx context.Context, userID, number string, now time.Time) (*PendingGuiltyReply, error) {
	key := sequence.Normalize(number)
	return storage.View(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (*PendingGuiltyReply, error) {
			p := doc.Workflow.PendingGuiltyReplies[userID][key]
			if p == nil || p.Expired(now) {
				return nil, nil
			}
			out := *p
			return &out, nil
		})
}

func (s *WorkflowStore) PutPendingGuiltyReply(ctx context.Context, userID, number string, p PendingGuiltyReply) error {
	key := sequence.Normalize(number)
	_, err := storage.Update(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (bool, struct{}, error) {
			if doc.Workflow.PendingGuiltyReplies == nil {
				doc.Workflow.PendingGuiltyReplies = map[string]map[string]*PendingGuiltyReply{}
			}
			if doc.Workflow.PendingGuiltyReplies[userID] == nil {
				doc.Workflow.PendingGuiltyReplies[userID] = map[string]*PendingGuiltyReply{}
			}
			doc.Workflow.PendingGuiltyReplies[userID][key] = &p
			return true, struct{}{}, nil
		})
	return err
}

// DeletePendingGuiltyReply removes one reply window and prunes the outer
// entry when it was the user's last one.
func (s *WorkflowStore) DeletePendingGuiltyReply(ctx context.Context, userID, number string) error {
	key := sequence.Normalize(number)
	_, err := storage.Update(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (bool, struct{}, error) {
			inner, ok := doc.Workflow.PendingGuiltyReplies[userID]
			if !ok {
				return false, struct{}{}, nil
			}
			if _, ok := inner[key]; !ok {
				return false, struct{}{}, nil
			}
			delete(inner, key)
			if len(inner) == 0 {
				delete(doc.Workflow.PendingGuiltyReplies, userID)
			}
			return true, struct{}{}, nil
		})
	return err
}

// ListPendingGuiltyReplies returns the user's unexpired reply windows keyed
// by normalized incident number.
func (s *WorkflowStore) ListPendingGuiltyReplies(ctx context.Context, userID string, now time.Time) (map[string]PendingGuiltyReply, error) {
	return storage.View(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (map[string]PendingGuiltyReply, error) {
			out := map[string]PendingGuiltyReply{}
			for key, p := range doc.Workflow.PendingGuiltyReplies[userID] {
				if p != nil && !p.Expired(now) {
					out[key] = *p
				}
			}
			return out, nil
		})
}

// SweepExpired removes every entry past its window across all six sub-maps,
// including the nested reply maps, and returns the removed count. Safe to run
// repeatedly; a second pass finds nothing left.
func (s *WorkflowStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	return storage.Update(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (bool, int, error) {
			removed := 0
			for user, p := range doc.Workflow.PendingEvidence {
				if p == nil || p.Expired(now) {
					delete(doc.Workflow.PendingEvidence, user)
					removed++
				}
			}
			for user, p := range doc.Workflow.PendingIncidentReports {
				if p == nil || p.Expired(now) {
					delete(doc.Workflow.PendingIncidentReports, user)
					removed++
				}
			}
			for user, p := range doc.Workflow.PendingAppeals {
				if p == nil || p.Expired(now) {
					delete(doc.Workflow.PendingAppeals, user)
					removed++
				}
			}
			for user, p := range doc.Workflow.PendingFinalizations {
				if p == nil || p.Expired(now) {
					delete(doc.Workflow.PendingFinalizations, user)
					removed++
				}
			}
			for user, p := range doc.Workflow.PendingWithdrawals {
				if p == nil || p.Expired(now) {
					delete(doc.Workflow.PendingWithdrawals, user)
					removed++
				}
			}
			for user, inner := range doc.Workflow.PendingGuiltyReplies {
				for key, p := range inner {
					if p == nil || p.Expired(now) {
						delete(inner, key)
						removed++
					}
				}
				if len(inner) == 0 {
					delete(doc.Workflow.PendingGuiltyReplies, user)
				}
			}
			return removed > 0, removed, nil
		})
}

// deleteSlot shares the delete-if-present cycle; remove reports whether the
// key was present so absent keys skip the write entirely.
func deleteSlot(ctx context.Context, s *WorkflowStore, remove func(doc *workflowDoc) bool) error {
	_, err := storage.Update(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (bool, struct{}, error) {
			return remove(doc), struct{}{}, nil
		})
	return err
}
