// Package roster keeps the receive side of a space: the authoritative
// participant list and the latest frame received from each participant.
package roster

import (
	"sync"
)

// Participant is one member of a space.
type Participant struct {
	ID   string `json:"participantId"`
	Name string `json:"name"`
}

// Status is the authoritative snapshot of a space.
type Status struct {
	SpaceID      string        `json:"spaceId"`
	Name         string        `json:"name"`
	Participants []Participant `json:"participants"`
}

// Buffer maps participant ids to their most recent frame. A key with a nil
// frame is a known participant that has not sent anything yet; a missing key
// is an unknown participant. Only Sync adds or removes keys, so memory is
// bounded by the roster size.
type Buffer struct {
	mu      sync.RWMutex
	entries map[string][]byte
	version uint64
}

// NewBuffer creates an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{entries: make(map[string][]byte)}
}

// ApplyFrameUpdate stores data as the latest frame of id. Updates for unknown
// ids and updates without data are dropped and false is returned.
func (b *Buffer) ApplyFrameUpdate(id string, data []byte) bool {
	if len(data) == 0 {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[id]; !ok {
		return false
	}
	b.entries[id] = data
	b.version++
	return true
}

// Get returns the latest frame of id. known is false for participants not in
// the roster; frame is nil for known participants without a frame.
func (b *Buffer) Get(id string) (frame []byte, known bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	frame, known = b.entries[id]
	return frame, known
}

// Len returns the number of known participants.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Snapshot copies the current contents.
func (b *Buffer) Snapshot() map[string][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string][]byte, len(b.entries))
	for id, frame := range b.entries {
		out[id] = frame
	}
	return out
}

// Version increases on every change to the buffer.
func (b *Buffer) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

func (b *Buffer) add(id string) {
	if _, ok := b.entries[id]; ok {
		return
	}
	b.entries[id] = nil
	b.version++
}

func (b *Buffer) remove(id string) {
	if _, ok := b.entries[id]; !ok {
		return
	}
	delete(b.entries, id)
	b.version++
}
