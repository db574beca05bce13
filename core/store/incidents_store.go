package store

import (
	"context"
	"sort"
	"time"

	"racecontrol/core/sequence"
	"racecontrol/core/storage"
)

// IncidentsStore is the repository over the workflow document: incident CRUD
// plus the ticket-number index. Concurrent saves of different incidents are
// independent; saves of the same incident serialize under the document lock
// and the later full save wins.
type IncidentsStore struct {
	store *storage.Store
	now   func() time.Time
}

func NewIncidentsStore(store *storage.Store) *IncidentsStore {
	return &IncidentsStore{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Get returns the incident or nil when absent.
func (s *IncidentsStore) Get(ctx context.Context, id string) (*Incident, error) {
	if id == "" {
		return nil, nil
	}
	return storage.View(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (*Incident, error) {
			return cloneIncident(doc.Incidents[id]), nil
		})
}

// GetByNumber resolves a ticket number (any accepted input form) through the
// index.
func (s *IncidentsStore) GetByNumber(ctx context.Context, number string) (*Incident, error) {
	key := sequence.Normalize(number)
	if key == "" {
		return nil, nil
	}
	return storage.View(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (*Incident, error) {
			return cloneIncident(doc.Incidents[doc.ByNumber[key]]), nil
		})
}

// Save upserts the incident and its number index entry in one lock cycle.
// CreatedAt is preserved from the first save; UpdatedAt always refreshes.
// A missing id is a no-op: callers must supply one.
func (s *IncidentsStore) Save(ctx context.Context, in *Incident) (*Incident, error) {
	if in == nil || in.ID == "" {
		return nil, nil
	}
	now := s.now()
	return storage.Update(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (bool, *Incident, error) {
			record := *in
			if prev, ok := doc.Incidents[in.ID]; ok && !prev.CreatedAt.IsZero() {
				record.CreatedAt = prev.CreatedAt
			} else if record.CreatedAt.IsZero() {
				record.CreatedAt = now
			}
			record.UpdatedAt = now
			doc.Incidents[record.ID] = &record
			if key := sequence.Normalize(record.IncidentNumber); key != "" {
				doc.ByNumber[key] = record.ID
			}
			return true, cloneIncident(&record), nil
		})
}

// List returns every incident, newest first.
func (s *IncidentsStore) List(ctx context.Context) ([]*Incident, error) {
	return storage.View(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) ([]*Incident, error) {
			out := make([]*Incident, 0, len(doc.Incidents))
			for _, in := range doc.Incidents {
				out = append(out, cloneIncident(in))
			}
			sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
			return out, nil
		})
}

// ListOpen returns incidents that are neither finalized nor withdrawn.
func (s *IncidentsStore) ListOpen(ctx context.Context) ([]*Incident, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	open := all[:0]
	for _, in := range all {
		if !in.Status.Terminal() {
			open = append(open, in)
		}
	}
	return open, nil
}

// AppendEvidence appends items to an existing incident's evidence list and
// returns the updated record. Evidence cannot create an incident: a missing
// id is a no-op returning nil.
func (s *IncidentsStore) AppendEvidence(ctx context.Context, id string, items []EvidenceItem) (*Incident, error) {
	if id == "" || len(items) == 0 {
		return nil, nil
	}
	now := s.now()
	return storage.Update(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (bool, *Incident, error) {
			in, ok := doc.Incidents[id]
			if !ok {
				return false, nil, nil
			}
			in.Evidence = append(in.Evidence, items...)
			in.UpdatedAt = now
			return true, cloneIncident(in), nil
		})
}

// Delete removes the incident and, when it still points at this id, its
// index entry.
func (s *IncidentsStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	_, err := storage.Update(ctx, s.store, resourceWorkflow, newWorkflowDoc,
		func(doc *workflowDoc) (bool, struct{}, error) {
			in, ok := doc.Incidents[id]
			if !ok {
				return false, struct{}{}, nil
			}
			delete(doc.Incidents, id)
			if key := sequence.Normalize(in.IncidentNumber); key != "" && doc.ByNumber[key] == id {
				delete(doc.ByNumber, key)
			}
			return true, struct{}{}, nil
		})
	return err
}

func cloneIncident(in *Incident) *Incident {
	if in == nil {
		return nil
	}
	out := *in
	if in.Evidence != nil {
		out.Evidence = append([]EvidenceItem(nil), in.Evidence...)
	}
	if in.SheetRowNumber != nil {
		row := *in.SheetRowNumber
		out.SheetRowNumber = &row
	}
	if in.Outcome != nil {
		o := *in.Outcome
		out.Outcome = &o
	}
	return &out
}
