package models

import "time"

// Submission lifecycle states. Transitions between them are owned by the
// moderation state machine; nothing else may write Submission.State.
const (
	StateDraft             = "draft"
	StatePendingReview     = "pending_review"
	StateApproved          = "approved"
	StateRejected          = "rejected"
	StateNeedsContact      = "needs_contact"
	StatePublishing        = "publishing"
	StatePublished         = "published"
	StateFeedbackScheduled = "feedback_scheduled"
	StateFeedbackSent      = "feedback_sent"
	StateClosed            = "closed"
)

// Content kinds for a submission. A text submission carries no media; every
// other kind requires at least one media reference.
const (
	KindText  = "text"
	KindImage = "image"
	KindVideo = "video"
	KindMixed = "mixed"
)

// MediaRef is a single media item attached to a submission. Ref is an opaque
// platform file reference owned by the chat transport; the pipeline never
// inspects it.
type MediaRef struct {
	Type string `json:"type"` // KindImage or KindVideo
	Ref  string `json:"ref"`
}

// Submission is a user-originated content item moving through moderation to
// publication. Publications records one timestamp per channel the submission
// has been delivered to; its presence for a channel suppresses re-sends.
// PublishFailures counts failed delivery attempts per channel; once a
// channel's count reaches the retry ceiling its publication is dead and no
// further attempts are made.
type Submission struct {
	ID              string               `json:"id"`
	AuthorID        int64                `json:"author_id"`
	Kind            string               `json:"kind"`
	Media           []MediaRef           `json:"media,omitempty"`
	Text            string               `json:"text,omitempty"`
	Tags            []string             `json:"tags,omitempty"`
	Anonymous       bool                 `json:"anonymous"`
	State           string               `json:"state"`
	CreatedAt       time.Time            `json:"created_at"`
	Publications    map[string]time.Time `json:"publications,omitempty"`     // channel ID -> publish time
	PublishFailures map[string]int       `json:"publish_failures,omitempty"` // channel ID -> failed attempts
	ViewCounts      map[string]int64     `json:"view_counts,omitempty"`      // channel ID -> estimated views
	Archived        bool                 `json:"archived"`
}

// PublishedTo reports whether a publication timestamp has been recorded for
// the given channel.
func (s *Submission) PublishedTo(channelID string) bool {
	if s == nil || s.Publications == nil {
		return false
	}
	_, ok := s.Publications[channelID]
	return ok
}

// EarliestPublication returns the earliest recorded publication timestamp,
// or the zero time when the submission has not been published anywhere.
// The feedback timer is keyed to this value.
func (s *Submission) EarliestPublication() time.Time {
	var earliest time.Time
	if s == nil {
		return earliest
	}
	for _, ts := range s.Publications {
		if earliest.IsZero() || ts.Before(earliest) {
			earliest = ts
		}
	}
	return earliest
}

// IsTerminal reports whether the submission can no longer change state.
func (s *Submission) IsTerminal() bool {
	if s == nil {
		return false
	}
	return s.State == StateRejected || s.State == StateClosed || s.State == StateFeedbackSent
}
