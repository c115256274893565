package viewer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/telepresence/internal/roster"
	"github.com/dgnsrekt/telepresence/internal/ws"
)

type fakeSource struct {
	mu     sync.Mutex
	status roster.Status
	err    error
	calls  int
}

func (f *fakeSource) FetchSpaceStatus(ctx context.Context, spaceID string) (roster.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.status, f.err
}

func (f *fakeSource) set(status roster.Status, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.err = status, err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingSink struct {
	mu   sync.Mutex
	last []roster.Entry
}

func (s *recordingSink) Render(entries []roster.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = entries
	return nil
}

func (s *recordingSink) frames() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.last))
	for _, e := range s.last {
		out[e.ID] = string(e.Frame)
	}
	return out
}

func status(ids ...string) roster.Status {
	s := roster.Status{SpaceID: "space-1"}
	for _, id := range ids {
		s.Participants = append(s.Participants, roster.Participant{ID: id, Name: id})
	}
	return s
}

func screen(space, id, data string) ws.Event {
	return ws.Event{Type: ws.EventScreenUpdate, SpaceID: space, ParticipantID: id, Image: []byte(data)}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startViewer(t *testing.T, source *fakeSource, sink Sink) *Viewer {
	t.Helper()
	v := New("space-1", source, sink, time.Hour, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = v.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return v
}

func TestViewer_RosterAndFrames(t *testing.T) {
	source := &fakeSource{status: status("A", "B")}
	sink := &recordingSink{}
	v := startViewer(t, source, sink)

	waitFor(t, "initial roster", func() bool { return len(v.Entries()) == 2 })

	v.Events() <- screen("space-1", "A", "P1")
	waitFor(t, "frame A", func() bool { return sink.frames()["A"] == "P1" })

	// Roster change: A leaves, C joins, announced by a push hint.
	source.set(status("B", "C"), nil)
	v.Events() <- ws.Event{Type: ws.EventRosterUpdate, SpaceID: "space-1"}
	waitFor(t, "rendered roster B,C", func() bool {
		frames := sink.frames()
		_, hasA := frames["A"]
		_, hasC := frames["C"]
		return len(frames) == 2 && hasC && !hasA
	})

	entries := v.Entries()
	if entries[0].ID != "B" || entries[1].ID != "C" {
		t.Errorf("unexpected order %+v", entries)
	}
	frames := sink.frames()
	if frames["B"] != "" || frames["C"] != "" {
		t.Errorf("B and C have no frames yet, got %v", frames)
	}
}

func TestViewer_DropsForeignAndUnknownFrames(t *testing.T) {
	source := &fakeSource{status: status("A")}
	v := startViewer(t, source, nil)
	waitFor(t, "initial roster", func() bool { return len(v.Entries()) == 1 })

	v.Events() <- screen("other-space", "A", "x")
	v.Events() <- screen("space-1", "A", "")
	v.Events() <- screen("space-1", "Z", "y")
	v.Events() <- screen("space-1", "A", "ok")

	waitFor(t, "frame applied", func() bool {
		applied, _, _ := v.Stats()
		return applied == 1
	})
	if _, dropped, _ := v.Stats(); dropped != 3 {
		t.Errorf("expected 3 dropped, got %d", dropped)
	}
	if string(v.Entries()[0].Frame) != "ok" {
		t.Error("foreign frames must not touch the buffer")
	}
	// An unknown participant triggers a roster refresh.
	waitFor(t, "refresh after unknown id", func() bool { return source.callCount() >= 2 })
}

func TestViewer_FailedRefreshKeepsSnapshot(t *testing.T) {
	source := &fakeSource{status: status("A", "B")}
	v := startViewer(t, source, nil)
	waitFor(t, "initial roster", func() bool { return len(v.Entries()) == 2 })

	v.Events() <- screen("space-1", "B", "frame")
	waitFor(t, "frame B", func() bool { return string(v.Entries()[1].Frame) == "frame" })

	source.set(roster.Status{}, errors.New("relay down"))
	v.Events() <- ws.Event{Type: ws.EventRosterUpdate, SpaceID: "space-1"}
	waitFor(t, "refresh attempt", func() bool { return source.callCount() >= 2 })

	entries := v.Entries()
	if len(entries) != 2 || string(entries[1].Frame) != "frame" {
		t.Errorf("snapshot must survive a failed refresh, got %+v", entries)
	}
}
