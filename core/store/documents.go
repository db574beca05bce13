// Package store persists the adjudication state. Four JSON documents live in
// the data directory, each with its own lock so unrelated writes never
// contend: workflow (incidents, number index, pending actions), votes,
// counter and audit. Everything goes through core/storage; nothing reads the
// files directly.
package store

import (
	"time"

	"racecontrol/core/decision"
)

const (
	resourceWorkflow = "workflow"
	resourceVotes    = "votes"
	resourceAudit    = "audit"
)

type IncidentStatus string

const (
	StatusOpen      IncidentStatus = "OPEN"
	StatusFinalized IncidentStatus = "FINALIZED"
	StatusWithdrawn IncidentStatus = "WITHDRAWN"
)

// Terminal reports whether the status permits no further transitions.
func (s IncidentStatus) Terminal() bool {
	return s == StatusFinalized || s == StatusWithdrawn
}

type EvidenceType string

const (
	EvidenceAttachment EvidenceType = "attachment"
	EvidenceLink       EvidenceType = "link"
)

type EvidenceItem struct {
	Type    EvidenceType `json:"type"`
	URL     string       `json:"url"`
	AddedBy string       `json:"addedBy"`
	AddedAt time.Time    `json:"addedAt"`
}

// Outcome is set exactly once, when an incident is finalized.
type Outcome struct {
	Decision           decision.Category `json:"decision"`
	DecisionText       string            `json:"decisionText,omitempty"`
	FinalizedAt        time.Time         `json:"finalizedAt"`
	PublishedMessageID string            `json:"publishedMessageId,omitempty"`
}

// Incident is one reported on-track violation under adjudication. The id is
// origin-assigned and opaque; IncidentNumber is the human INC-<n> ticket,
// assigned once and immutable. Votes live in the vote ledger, not here.
type Incident struct {
	ID             string         `json:"id"`
	IncidentNumber string         `json:"incidentNumber"`
	Status         IncidentStatus `json:"status"`

	Division    string `json:"division,omitempty"`
	Race        string `json:"race,omitempty"`
	Round       string `json:"round,omitempty"`
	Corner      string `json:"corner,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Description string `json:"description,omitempty"`

	ReporterID  string `json:"reporterId,omitempty"`
	ReporterTag string `json:"reporterTag,omitempty"`
	GuiltyID    string `json:"guiltyId,omitempty"`
	GuiltyTag   string `json:"guiltyTag,omitempty"`

	Evidence       []EvidenceItem `json:"evidence,omitempty"`
	SheetRowNumber *int           `json:"sheetRowNumber,omitempty"`
	Outcome        *Outcome       `json:"outcome,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Window carries the expiry shared by every pending-action payload, in epoch
// milliseconds. An entry past its expiry must be treated as absent by every
// reader; the sweep only cleans up.
type Window struct {
	ExpiresAt int64 `json:"expiresAt"`
}

func (w Window) Expired(now time.Time) bool {
	return now.UnixMilli() > w.ExpiresAt
}

// Deadline stamps the window TTL milliseconds from now.
func Deadline(now time.Time, ttl time.Duration) Window {
	return Window{ExpiresAt: now.Add(ttl).UnixMilli()}
}

type PendingEvidence struct {
	Window
	IncidentID string `json:"incidentId"`
}

// PendingReport is a draft incident awaiting submission.
type PendingReport struct {
	Window
	Draft Incident `json:"draft"`
}

type PendingAppeal struct {
	Window
	IncidentID string `json:"incidentId"`
	Reason     string `json:"reason,omitempty"`
}

// PendingFinalization snapshots the incident being closed plus the computed
// preview, so the confirm step applies exactly what the steward saw.
type PendingFinalization struct {
	Window
	IncidentID   string              `json:"incidentId"`
	Snapshot     Incident            `json:"snapshot"`
	Decision     decision.Category   `json:"decision"`
	Shifted      decision.Category   `json:"shifted"`
	Tally        decision.TallyResult `json:"tally"`
	DecisionText string              `json:"decisionText"`
}

type PendingWithdrawal struct {
	Window
	IncidentID   string `json:"incidentId"`
	DeleteRecord bool   `json:"deleteRecord,omitempty"`
}

type PendingGuiltyReply struct {
	Window
	IncidentID string `json:"incidentId"`
}

// pendingState holds the six pending-action sub-maps. All keys are user ids;
// guilty replies nest a second level keyed by normalized incident number
// because one accused party can owe replies on several incidents at once.
type pendingState struct {
	PendingEvidence        map[string]*PendingEvidence                `json:"pendingEvidence,omitempty"`
	PendingIncidentReports map[string]*PendingReport                  `json:"pendingIncidentReports,omitempty"`
	PendingAppeals         map[string]*PendingAppeal                  `json:"pendingAppeals,omitempty"`
	PendingFinalizations   map[string]*PendingFinalization            `json:"pendingFinalizations,omitempty"`
	PendingGuiltyReplies   map[string]map[string]*PendingGuiltyReply  `json:"pendingGuiltyReplies,omitempty"`
	PendingWithdrawals     map[string]*PendingWithdrawal              `json:"pendingWithdrawals,omitempty"`
}

// workflowDoc is the incident/workflow document. The byNumber index maps
// normalized ticket numbers to incident ids and is maintained inside the same
// lock acquisition as the record writes, so index and records never diverge.
type workflowDoc struct {
	Incidents map[string]*Incident `json:"incidents"`
	ByNumber  map[string]string    `json:"byNumber"`
	Workflow  pendingState         `json:"workflow"`
}

func newWorkflowDoc() *workflowDoc {
	return &workflowDoc{
		Incidents: map[string]*Incident{},
		ByNumber:  map[string]string{},
	}
}

// votesDoc is the vote ledger document, kept apart from the workflow document
// so high-frequency vote edits do not contend with incident-metadata writes.
type votesDoc struct {
	Votes map[string]map[string]decision.VoteEntry `json:"votes"`
}

func newVotesDoc() *votesDoc {
	return &votesDoc{Votes: map[string]map[string]decision.VoteEntry{}}
}

// AuditEvent is one append-only audit record. The core writes these and never
// reads them back.
type AuditEvent struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"`
	ActorID        string            `json:"actorId,omitempty"`
	IncidentID     string            `json:"incidentId,omitempty"`
	IncidentNumber string            `json:"incidentNumber,omitempty"`
	Detail         map[string]string `json:"detail,omitempty"`
	At             time.Time         `json:"at"`
}

type auditDoc struct {
	Events []AuditEvent `json:"events"`
}

func newAuditDoc() *auditDoc {
	return &auditDoc{Events: []AuditEvent{}}
}
