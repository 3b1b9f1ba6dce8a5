package models

// Channel target kinds.
const (
	ChannelKindChannel = "channel"
	ChannelKindGroup   = "group"
)

// Channel target origins. Default targets ship with the deployment
// configuration; custom targets are added at runtime through the registry API.
const (
	OriginDefault = "default"
	OriginCustom  = "custom"
)

// ChannelTarget is a configured publication destination. Identifier uniqueness
// is enforced by the channel data store; targets are mutated only through the
// registry operations, never in place.
type ChannelTarget struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	Origin   string `json:"origin"`
	// AudienceSize is the last known member count for the channel, used as a
	// fallback denominator for feedback grading when analytics has no data.
	AudienceSize int64 `json:"audience_size"`
}
