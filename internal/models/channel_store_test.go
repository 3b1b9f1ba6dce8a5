package models

import "testing"

func TestChannelStoreVersionAdvancesOnMutation(t *testing.T) {
	s := NewInMemoryChannelDataStore()
	v0 := s.Version()

	if err := s.InsertChannel(ChannelTarget{ID: "c1", Kind: ChannelKindChannel, Name: "main", Enabled: true, Origin: OriginDefault}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if s.Version() <= v0 {
		t.Fatalf("expected version to advance after insert, got %d -> %d", v0, s.Version())
	}

	v1 := s.Version()
	if err := s.SetEnabled("c1", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if s.Version() <= v1 {
		t.Error("expected version to advance after disable")
	}
	if got := s.GetChannel("c1"); got == nil || got.Enabled {
		t.Errorf("expected c1 disabled, got %+v", got)
	}
}

func TestChannelStoreRejectsDuplicateIDs(t *testing.T) {
	s := NewInMemoryChannelDataStore()
	if err := s.InsertChannel(ChannelTarget{ID: "c1", Kind: ChannelKindChannel, Enabled: true}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.InsertChannel(ChannelTarget{ID: "c1", Kind: ChannelKindGroup}); err != ErrDuplicateChannel {
		t.Fatalf("expected ErrDuplicateChannel, got %v", err)
	}
	if got := len(s.GetAllChannels()); got != 1 {
		t.Errorf("expected 1 channel, got %d", got)
	}
}

func TestChannelStoreEnabledFilter(t *testing.T) {
	s := NewInMemoryChannelDataStore()
	_ = s.InsertChannel(ChannelTarget{ID: "a", Kind: ChannelKindChannel, Enabled: true})
	_ = s.InsertChannel(ChannelTarget{ID: "b", Kind: ChannelKindGroup, Enabled: false})
	_ = s.InsertChannel(ChannelTarget{ID: "c", Kind: ChannelKindChannel, Enabled: true})

	enabled := s.GetEnabledChannels()
	if len(enabled) != 2 {
		t.Fatalf("expected 2 enabled channels, got %d", len(enabled))
	}
	for _, c := range enabled {
		if !c.Enabled {
			t.Errorf("channel %s returned by GetEnabledChannels but disabled", c.ID)
		}
	}
}

func TestChannelStoreDelete(t *testing.T) {
	s := NewInMemoryChannelDataStore()
	_ = s.InsertChannel(ChannelTarget{ID: "a", Enabled: true})

	if err := s.DeleteChannel("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteChannel("a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.GetChannel("a") != nil {
		t.Error("expected channel gone after delete")
	}
}

func TestSubmissionEarliestPublication(t *testing.T) {
	s := &Submission{}
	if !s.EarliestPublication().IsZero() {
		t.Error("expected zero time for unpublished submission")
	}
}
