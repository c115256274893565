package roster

import (
	"sync"
)

// Change describes what one Apply did to the buffer.
type Change struct {
	Added   []string
	Removed []string
}

// Empty reports whether the roster update changed no keys.
func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

// Sync reconciles roster snapshots against a Buffer.
type Sync struct {
	buffer *Buffer

	mu       sync.Mutex
	snapshot Status
	members  map[string]bool
}

// NewSync creates a Sync that owns the structure of buffer.
func NewSync(buffer *Buffer) *Sync {
	return &Sync{
		buffer:  buffer,
		members: make(map[string]bool),
	}
}

// Apply diffs status against the previous snapshot: new ids get an empty
// entry, departed ids lose theirs, everyone else keeps their frame. Applying
// the same roster twice is a no-op. Duplicate ids count once.
func (s *Sync) Apply(status Status) Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]bool, len(status.Participants))
	for _, p := range status.Participants {
		next[p.ID] = true
	}

	var change Change

	s.buffer.mu.Lock()
	for id := range s.members {
		if !next[id] {
			s.buffer.remove(id)
			change.Removed = append(change.Removed, id)
		}
	}
	for id := range next {
		if !s.members[id] {
			change.Added = append(change.Added, id)
		}
		// Also heals a buffer entry that went missing.
		s.buffer.add(id)
	}
	s.buffer.mu.Unlock()

	s.members = next
	s.snapshot = cloneStatus(status)
	return change
}

// Snapshot returns the last applied roster, in its original order.
func (s *Sync) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneStatus(s.snapshot)
}

// Entry is a participant with its latest frame, in roster order.
type Entry struct {
	Participant
	Frame []byte
}

// Entries joins the roster with the buffer for display.
func (s *Sync) Entries() []Entry {
	status := s.Snapshot()
	entries := make([]Entry, 0, len(status.Participants))
	for _, p := range status.Participants {
		frame, _ := s.buffer.Get(p.ID)
		entries = append(entries, Entry{Participant: p, Frame: frame})
	}
	return entries
}

func cloneStatus(s Status) Status {
	out := s
	out.Participants = append([]Participant(nil), s.Participants...)
	return out
}
