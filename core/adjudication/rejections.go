package adjudication

import "errors"

// ErrRejected is the sentinel every policy/validation rejection matches via
// errors.Is, so callers can separate "the rules said no" from real failures.
var ErrRejected = errors.New("adjudication: rejected")

// Rejection is a typed domain rejection with a stable machine-readable code.
// Rejections go back to the end user and are not logged as errors.
type Rejection struct {
	Code    string
	Message string
}

func (r *Rejection) Error() string { return r.Code + ": " + r.Message }

func (r *Rejection) Is(target error) bool { return target == ErrRejected }

const (
	CodeValidationFailed = "validation_failed"
	CodeNotFound         = "not_found"
	CodeIncidentClosed   = "incident_closed"
	CodeVoterIneligible  = "voter_ineligible"
	CodeNotReporter      = "not_reporter"
	CodeWindowExpired    = "window_expired"
	CodeWrongOwner       = "wrong_owner"
	CodeInvalidTrack     = "invalid_track"
	CodeInvalidCategory  = "invalid_category"
)

func reject(code, message string) error {
	return &Rejection{Code: code, Message: message}
}
