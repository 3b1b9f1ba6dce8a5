package models

import (
	"fmt"
	"time"
)

// Notification task kinds.
const (
	NotifyReviewAlert    = "review-alert"
	NotifyDecisionResult = "decision-result"
	NotifyFeedbackReport = "feedback-report"
	NotifyBroadcast      = "broadcast"
)

// Notification task statuses. A task is created pending, and ends in exactly
// one of delivered or dead. Dead tasks are surfaced as operational alerts,
// never silently dropped.
const (
	TaskPending   = "pending"
	TaskDelivered = "delivered"
	TaskDead      = "dead"
)

// Notification transports.
const (
	TransportChat = "chat" // chat platform message to a recipient ID
	TransportPush = "push" // off-platform push endpoint
)

// NotificationTask is one unit of outbound delivery work. Tasks are keyed by
// (kind, submission, target) for duplicate suppression: re-enqueuing an
// equivalent task while one is still pending is a no-op.
type NotificationTask struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	SubmissionID  string    `json:"submission_id,omitempty"`
	Transport     string    `json:"transport"`
	Target        string    `json:"target"` // chat recipient ID or push endpoint URL
	Payload       string    `json:"payload"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	Status        string    `json:"status"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DedupeKey identifies equivalent tasks for duplicate suppression.
func (t *NotificationTask) DedupeKey() string {
	return fmt.Sprintf("%s:%s:%s", t.Kind, t.SubmissionID, t.Target)
}
