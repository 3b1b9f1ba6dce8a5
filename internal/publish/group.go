package publish

import "github.com/openmodqueue/openmodqueue/internal/models"

// GroupMedia splits a submission's media list into send batches. Items keep
// their original order; a batch holds one contiguous run of same-typed items
// and never exceeds maxSize. Mixed submissions therefore publish as alternating
// image and video groups rather than one interleaved group the platform would
// reject.
func GroupMedia(media []models.MediaRef, maxSize int) [][]models.MediaRef {
	if len(media) == 0 {
		return nil
	}
	if maxSize <= 0 {
		maxSize = 10
	}

	var batches [][]models.MediaRef
	var current []models.MediaRef
	for _, m := range media {
		if len(current) > 0 && (current[0].Type != m.Type || len(current) >= maxSize) {
			batches = append(batches, current)
			current = nil
		}
		current = append(current, m)
	}
	return append(batches, current)
}
