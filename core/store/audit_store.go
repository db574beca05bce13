package store

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"racecontrol/core/storage"
)

// AuditStore appends events to the audit document. The core only writes here;
// readers are external tooling.
type AuditStore struct {
	store *storage.Store
	now   func() time.Time
}

func NewAuditStore(store *storage.Store) *AuditStore {
	return &AuditStore{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Append records one event, stamping id and timestamp.
func (s *AuditStore) Append(ctx context.Context, ev AuditEvent) error {
	ev.ID = uuid.Must(uuid.NewV4()).String()
	ev.At = s.now()
	_, err := storage.Update(ctx, s.store, resourceAudit, newAuditDoc,
		func(doc *auditDoc) (bool, struct{}, error) {
			doc.Events = append(doc.Events, ev)
			return true, struct{}{}, nil
		})
	return err
}
