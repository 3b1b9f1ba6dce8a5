package models

import "time"

// Performance grades derived from the view-to-audience ratio.
const (
	GradeS = "S"
	GradeA = "A"
	GradeB = "B"
	GradeC = "C"
)

// FeedbackReport is the post-publication performance report sent to a
// submission's author. Exactly one report is ever created per published
// submission; it is immutable after creation.
type FeedbackReport struct {
	ID           int64     `json:"id"`
	SubmissionID string    `json:"submission_id"`
	ChannelID    string    `json:"channel_id"` // channel used for the estimate
	Views        int64     `json:"views"`
	Audience     int64     `json:"audience"`
	Grade        string    `json:"grade"`
	SentAt       time.Time `json:"sent_at"`
}
