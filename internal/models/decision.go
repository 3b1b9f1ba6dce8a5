package models

import "time"

// Reviewer decisions. A submission may accumulate several contact requests
// before a terminal approve or reject.
const (
	DecisionApprove        = "approve"
	DecisionReject         = "reject"
	DecisionRequestContact = "request-contact"
)

// ReviewDecision records a single reviewer action against a submission.
// Decisions are immutable once recorded.
type ReviewDecision struct {
	ID           int64     `json:"id"`
	SubmissionID string    `json:"submission_id"`
	ReviewerID   int64     `json:"reviewer_id"`
	Decision     string    `json:"decision"`
	Reason       string    `json:"reason,omitempty"`
	Tags         []string  `json:"tags,omitempty"` // optional tag edits applied at review time
	CreatedAt    time.Time `json:"created_at"`
}
