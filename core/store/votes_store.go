package store

import (
	"context"

	"racecontrol/core/decision"
	"racecontrol/core/storage"
)

// VotesStore is the per-incident vote ledger, one locked document of its own.
// SetVote merges a single voter's entry inside the read-modify-write cycle,
// so concurrent voters on one incident never clobber each other: whichever
// acquires the lock second reads the first's write and builds on it.
type VotesStore struct {
	store *storage.Store
}

func NewVotesStore(store *storage.Store) *VotesStore {
	return &VotesStore{store: store}
}

// GetVotes returns the ledger for the incident, or an empty map when nobody
// has voted yet.
func (s *VotesStore) GetVotes(ctx context.Context, incidentID string) (map[string]decision.VoteEntry, error) {
	return storage.View(ctx, s.store, resourceVotes, newVotesDoc,
		func(doc *votesDoc) (map[string]decision.VoteEntry, error) {
			entries := doc.Votes[incidentID]
			out := make(map[string]decision.VoteEntry, len(entries))
			for voter, entry := range entries {
				out[voter] = entry
			}
			return out, nil
		})
}

// SetVote upserts one voter's entry without touching other voters.
func (s *VotesStore) SetVote(ctx context.Context, incidentID, voterID string, entry decision.VoteEntry) error {
	if incidentID == "" || voterID == "" {
		return nil
	}
	_, err := storage.Update(ctx, s.store, resourceVotes, newVotesDoc,
		func(doc *votesDoc) (bool, struct{}, error) {
			if doc.Votes[incidentID] == nil {
				doc.Votes[incidentID] = map[string]decision.VoteEntry{}
			}
			doc.Votes[incidentID][voterID] = entry
			return true, struct{}{}, nil
		})
	return err
}

// SetVotes replaces the incident's whole ledger. Recovery only: a single vote
// toggle must go through SetVote or it would clobber concurrent votes.
func (s *VotesStore) SetVotes(ctx context.Context, incidentID string, votes map[string]decision.VoteEntry) error {
	if incidentID == "" {
		return nil
	}
	_, err := storage.Update(ctx, s.store, resourceVotes, newVotesDoc,
		func(doc *votesDoc) (bool, struct{}, error) {
			replacement := make(map[string]decision.VoteEntry, len(votes))
			for voter, entry := range votes {
				replacement[voter] = entry
			}
			doc.Votes[incidentID] = replacement
			return true, struct{}{}, nil
		})
	return err
}

// DeleteVotes drops the incident's ledger, used when a withdrawal deletes the
// record outright.
func (s *VotesStore) DeleteVotes(ctx context.Context, incidentID string) error {
	if incidentID == "" {
		return nil
	}
	_, err := storage.Update(ctx, s.store, resourceVotes, newVotesDoc,
		func(doc *votesDoc) (bool, struct{}, error) {
			if _, ok := doc.Votes[incidentID]; !ok {
				return false, struct{}{}, nil
			}
			delete(doc.Votes, incidentID)
			return true, struct{}{}, nil
		})
	return err
}
