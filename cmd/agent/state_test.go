package main

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/dgnsrekt/telepresence/internal/config"
)

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	st, err := loadState(path)
	if err != nil {
		t.Fatalf("missing state file should not fail: %v", err)
	}
	if st != (agentState{}) {
		t.Errorf("expected empty state, got %+v", st)
	}

	want := agentState{BaseURL: "http://relay", SpaceID: "s1", ParticipantID: "p1", Name: "Ada"}
	if err := saveState(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := loadState(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestResolveIdentity(t *testing.T) {
	saved := agentState{SpaceID: "s1", ParticipantID: "p1", Name: "Ada"}

	tests := []struct {
		name    string
		space   config.SpaceConfig
		state   agentState
		want    agentState
		wantErr error
	}{
		{"saved state", config.SpaceConfig{}, saved, saved, nil},
		{"configured participant wins", config.SpaceConfig{ParticipantID: "p9"}, saved, agentState{SpaceID: "s1", ParticipantID: "p9", Name: "Ada"}, nil},
		{"other space drops saved participant", config.SpaceConfig{SpaceID: "s2"}, saved, agentState{SpaceID: "s2", Name: "Ada"}, nil},
		{"nothing known", config.SpaceConfig{}, agentState{}, agentState{}, errNoIdentity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveIdentity(tt.space, tt.state)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPreferredName(t *testing.T) {
	st := agentState{Name: "saved"}
	if got := preferredName("flag", config.SpaceConfig{Name: "cfg"}, st); got != "flag" {
		t.Errorf("flag should win, got %s", got)
	}
	if got := preferredName("", config.SpaceConfig{Name: "cfg"}, st); got != "cfg" {
		t.Errorf("config should beat state, got %s", got)
	}
	if got := preferredName("", config.SpaceConfig{}, st); got != "saved" {
		t.Errorf("expected saved name, got %s", got)
	}
}
