package models

// NewTestChannelStore creates a new in-memory channel data store for testing
func NewTestChannelStore() ChannelDataStore {
	return NewInMemoryChannelDataStore()
}
