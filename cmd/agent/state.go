package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgnsrekt/telepresence/internal/config"
)

// agentState remembers the last registration so later commands can run
// without repeating ids on the command line.
type agentState struct {
	BaseURL       string `json:"baseUrl"`
	SpaceID       string `json:"spaceId"`
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
}

var errNoIdentity = errors.New("no space joined yet: run create or join first, or set space.space_id")

func loadState(path string) (agentState, error) {
	var st agentState
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("reading state file: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parsing state file %s: %w", path, err)
	}
	return st, nil
}

func saveState(path string, st agentState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return os.Rename(tmp, path)
}

// resolveIdentity merges configured ids over the saved state. Configured
// values win. The saved participant is only reused for the same space.
func resolveIdentity(space config.SpaceConfig, st agentState) (agentState, error) {
	out := st
	if space.SpaceID != "" && space.SpaceID != st.SpaceID {
		out.SpaceID = space.SpaceID
		out.ParticipantID = ""
	}
	if space.ParticipantID != "" {
		out.ParticipantID = space.ParticipantID
	}
	if space.Name != "" {
		out.Name = space.Name
	}
	if out.SpaceID == "" {
		return out, errNoIdentity
	}
	return out, nil
}

// preferredName picks the display name for create and join.
func preferredName(flag string, space config.SpaceConfig, st agentState) string {
	switch {
	case flag != "":
		return flag
	case space.Name != "":
		return space.Name
	default:
		return st.Name
	}
}
