package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/openmodqueue/openmodqueue/internal/models"
)

// Message templates use {PLACEHOLDER} tokens expanded from the submission and
// report being notified about. Unknown placeholders are left verbatim so a
// template typo degrades to an ugly message instead of a lost notification.
const (
	reviewAlertTemplate = "New submission {SUBMISSION_ID} from author {AUTHOR_ID} ({KIND}) is waiting for review."

	approvedTemplate = "Your submission {SUBMISSION_ID} was approved and is being published."
	rejectedTemplate = "Your submission {SUBMISSION_ID} was rejected. Reason: {REASON}"
	contactTemplate  = "A reviewer needs more information about your submission {SUBMISSION_ID}: {REASON}"

	feedbackTemplate = "Feedback for submission {SUBMISSION_ID}: grade {GRADE}, {VIEWS} views against an audience of {AUDIENCE}."
)

// RenderContext carries the values available for placeholder expansion.
type RenderContext struct {
	SubmissionID string
	AuthorID     int64
	Kind         string
	Reason       string
	Grade        string
	Views        int64
	Audience     int64
	Timestamp    time.Time
}

func expand(template string, ctx *RenderContext) string {
	replacer := strings.NewReplacer(
		"{SUBMISSION_ID}", ctx.SubmissionID,
		"{AUTHOR_ID}", fmt.Sprintf("%d", ctx.AuthorID),
		"{KIND}", ctx.Kind,
		"{REASON}", ctx.Reason,
		"{GRADE}", ctx.Grade,
		"{VIEWS}", fmt.Sprintf("%d", ctx.Views),
		"{AUDIENCE}", fmt.Sprintf("%d", ctx.Audience),
		"{TIMESTAMP}", ctx.Timestamp.Format(time.RFC3339),
	)
	return replacer.Replace(template)
}

// RenderReviewAlert formats the reviewer-facing alert for a new submission.
func RenderReviewAlert(s *models.Submission) string {
	return expand(reviewAlertTemplate, &RenderContext{
		SubmissionID: s.ID,
		AuthorID:     s.AuthorID,
		Kind:         s.Kind,
	})
}

// RenderDecisionResult formats the author-facing outcome message.
func RenderDecisionResult(s *models.Submission, decision, reason string) string {
	ctx := &RenderContext{SubmissionID: s.ID, AuthorID: s.AuthorID, Reason: reason}
	if reason == "" {
		ctx.Reason = "no reason given"
	}
	switch decision {
	case models.DecisionApprove:
		return expand(approvedTemplate, ctx)
	case models.DecisionReject:
		return expand(rejectedTemplate, ctx)
	case models.DecisionRequestContact:
		return expand(contactTemplate, ctx)
	default:
		return expand(rejectedTemplate, ctx)
	}
}

// RenderFeedbackReport formats the delayed performance report for the author.
func RenderFeedbackReport(r *models.FeedbackReport) string {
	return expand(feedbackTemplate, &RenderContext{
		SubmissionID: r.SubmissionID,
		Grade:        r.Grade,
		Views:        r.Views,
		Audience:     r.Audience,
	})
}
