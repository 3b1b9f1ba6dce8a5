package moderation

import (
	"errors"
	"fmt"
)

// Intake rejections that map to client errors rather than internal failures.
// A banned author is a validation failure like any other policy violation,
// but it stays a distinct sentinel so the HTTP layer can give it its own
// status code.
var (
	ErrAuthorBanned error = &ValidationError{Reason: "author_banned", Msg: "author is banned"}
	ErrRateLimited        = errors.New("author is rate limited")
)

// ValidationError describes a submission that failed intake validation.
// Reason is a stable machine-readable token used in metrics labels.
type ValidationError struct {
	Reason string
	Msg    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid submission (%s): %s", e.Reason, e.Msg)
}

// InvalidTransitionError reports an action applied to a submission in a state
// that does not permit it, including lost races between concurrent reviewers.
type InvalidTransitionError struct {
	SubmissionID string
	State        string
	Action       string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s submission %s in state %s", e.Action, e.SubmissionID, e.State)
}
