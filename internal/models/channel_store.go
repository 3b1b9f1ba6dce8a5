package models

import (
	"errors"
	"sort"
	"sync/atomic"
)

// ErrNotFound is returned when an entity is not found in the data store
var ErrNotFound = errors.New("entity not found")

// ErrDuplicateChannel is returned when inserting a channel target whose
// identifier is already registered.
var ErrDuplicateChannel = errors.New("channel target already registered")

// ChannelDataStore is the in-memory channel registry consulted by the
// publication dispatcher. Reads are lock-free against an immutable snapshot;
// every mutation swaps in a new snapshot and bumps a monotonically increasing
// version counter, which the config cache keys its invalidation on.
type ChannelDataStore interface {
	// Read operations (publish hot path)
	GetChannel(id string) *ChannelTarget
	GetAllChannels() []ChannelTarget
	GetEnabledChannels() []ChannelTarget
	Version() uint64

	// Write operations
	InsertChannel(t ChannelTarget) error
	UpdateChannel(t ChannelTarget) error
	DeleteChannel(id string) error
	SetEnabled(id string, enabled bool) error
	SetAudienceSize(id string, audience int64) error

	// ReloadAll atomically replaces the full channel set from backing storage.
	ReloadAll(targets []ChannelTarget) error
}

// channelSnapshot is an immutable view of the registry contents.
type channelSnapshot struct {
	channels []ChannelTarget
	index    map[string]*ChannelTarget
}

func buildChannelSnapshot(targets []ChannelTarget) *channelSnapshot {
	channels := make([]ChannelTarget, len(targets))
	copy(channels, targets)
	sort.Slice(channels, func(i, j int) bool { return channels[i].ID < channels[j].ID })

	index := make(map[string]*ChannelTarget, len(channels))
	for i := range channels {
		index[channels[i].ID] = &channels[i]
	}
	return &channelSnapshot{channels: channels, index: index}
}

// InMemoryChannelDataStore implements ChannelDataStore with atomic snapshot
// swaps so readers never block writers.
type InMemoryChannelDataStore struct {
	data    atomic.Pointer[channelSnapshot]
	version atomic.Uint64
}

// NewInMemoryChannelDataStore creates an empty channel data store.
func NewInMemoryChannelDataStore() *InMemoryChannelDataStore {
	store := &InMemoryChannelDataStore{}
	store.data.Store(buildChannelSnapshot(nil))
	return store
}

// GetChannel returns the channel target with the given ID, or nil.
func (s *InMemoryChannelDataStore) GetChannel(id string) *ChannelTarget {
	data := s.data.Load()
	if t, ok := data.index[id]; ok {
		return t
	}
	return nil
}

// GetAllChannels returns a copy of every registered channel target.
func (s *InMemoryChannelDataStore) GetAllChannels() []ChannelTarget {
	data := s.data.Load()
	result := make([]ChannelTarget, len(data.channels))
	copy(result, data.channels)
	return result
}

// GetEnabledChannels returns the channel targets the dispatcher may publish to.
func (s *InMemoryChannelDataStore) GetEnabledChannels() []ChannelTarget {
	data := s.data.Load()
	var result []ChannelTarget
	for _, t := range data.channels {
		if t.Enabled {
			result = append(result, t)
		}
	}
	return result
}

// Version returns the current registry version. The counter advances on every
// successful mutation and never goes backwards.
func (s *InMemoryChannelDataStore) Version() uint64 {
	return s.version.Load()
}

// InsertChannel registers a new channel target. Identifier uniqueness is
// enforced here; duplicates are rejected, never silently merged.
func (s *InMemoryChannelDataStore) InsertChannel(t ChannelTarget) error {
	data := s.data.Load()
	if _, exists := data.index[t.ID]; exists {
		return ErrDuplicateChannel
	}
	channels := append(append([]ChannelTarget{}, data.channels...), t)
	s.data.Store(buildChannelSnapshot(channels))
	s.version.Add(1)
	return nil
}

// UpdateChannel replaces an existing channel target.
func (s *InMemoryChannelDataStore) UpdateChannel(t ChannelTarget) error {
	return s.mutate(t.ID, func(existing *ChannelTarget) { *existing = t })
}

// DeleteChannel removes a channel target from the registry.
func (s *InMemoryChannelDataStore) DeleteChannel(id string) error {
	data := s.data.Load()
	if _, exists := data.index[id]; !exists {
		return ErrNotFound
	}
	channels := make([]ChannelTarget, 0, len(data.channels)-1)
	for _, t := range data.channels {
		if t.ID != id {
			channels = append(channels, t)
		}
	}
	s.data.Store(buildChannelSnapshot(channels))
	s.version.Add(1)
	return nil
}

// SetEnabled toggles a channel target's enabled flag.
func (s *InMemoryChannelDataStore) SetEnabled(id string, enabled bool) error {
	return s.mutate(id, func(t *ChannelTarget) { t.Enabled = enabled })
}

// SetAudienceSize records the latest known member count for a channel.
func (s *InMemoryChannelDataStore) SetAudienceSize(id string, audience int64) error {
	return s.mutate(id, func(t *ChannelTarget) { t.AudienceSize = audience })
}

// ReloadAll atomically replaces the entire channel set, e.g. after loading
// from Postgres on startup or an explicit reload.
func (s *InMemoryChannelDataStore) ReloadAll(targets []ChannelTarget) error {
	s.data.Store(buildChannelSnapshot(targets))
	s.version.Add(1)
	return nil
}

// mutate applies fn to a copy of the named channel and swaps in the result.
func (s *InMemoryChannelDataStore) mutate(id string, fn func(*ChannelTarget)) error {
	data := s.data.Load()
	if _, exists := data.index[id]; !exists {
		return ErrNotFound
	}
	channels := make([]ChannelTarget, len(data.channels))
	copy(channels, data.channels)
	for i := range channels {
		if channels[i].ID == id {
			fn(&channels[i])
			break
		}
	}
	s.data.Store(buildChannelSnapshot(channels))
	s.version.Add(1)
	return nil
}
