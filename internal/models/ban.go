package models

import "time"

// Ban kinds derived from strike count.
const (
	BanNone      = "none"
	BanTemporary = "temporary"
	BanPermanent = "permanent"
)

// BanRecord tracks strike accumulation and the ban state derived from it for
// a single user. Strikes only ever grow; an administrative reset is the one
// exception. Temporary ban expiry is evaluated lazily at read time rather
// than by a background sweep, so the record on disk may name an expired ban.
type BanRecord struct {
	UserID      int64       `json:"user_id"`
	Strikes     int         `json:"strikes"`
	Kind        string      `json:"kind"`
	ExpiresAt   time.Time   `json:"expires_at,omitempty"` // set for temporary bans only
	StrikeTimes []time.Time `json:"strike_times,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ActiveAt reports whether the ban is in force at the given instant.
// Permanent bans never lapse; temporary bans lapse at ExpiresAt.
func (b *BanRecord) ActiveAt(now time.Time) bool {
	if b == nil {
		return false
	}
	switch b.Kind {
	case BanPermanent:
		return true
	case BanTemporary:
		return now.Before(b.ExpiresAt)
	default:
		return false
	}
}
