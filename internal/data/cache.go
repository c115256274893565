package data

import (
	"sort"
	"sync"
	"time"
)

// Frame is the latest screen image a participant published.
type Frame struct {
	SpaceID       string
	ParticipantID string
	Image         []byte
	ReceivedAt    time.Time
}

// FrameCache keeps the latest frame per participant so new subscribers can be
// primed. Entries are dropped when a participant leaves.
type FrameCache struct {
	mu     sync.RWMutex
	frames map[string]map[string]Frame // space -> participant -> frame
	bytes  int64
}

func NewFrameCache() *FrameCache {
	return &FrameCache{frames: make(map[string]map[string]Frame)}
}

// Put replaces the latest frame of a participant.
func (c *FrameCache) Put(f Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	space := c.frames[f.SpaceID]
	if space == nil {
		space = make(map[string]Frame)
		c.frames[f.SpaceID] = space
	}
	if old, ok := space[f.ParticipantID]; ok {
		c.bytes -= int64(len(old.Image))
	}
	space[f.ParticipantID] = f
	c.bytes += int64(len(f.Image))
}

// Latest returns the frames of a space ordered by participant id.
func (c *FrameCache) Latest(spaceID string) []Frame {
	c.mu.RLock()
	defer c.mu.RUnlock()

	space := c.frames[spaceID]
	out := make([]Frame, 0, len(space))
	for _, f := range space {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}

// Forget drops a participant's frame. Returns whether one was cached.
func (c *FrameCache) Forget(spaceID, participantID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	space, ok := c.frames[spaceID]
	if !ok {
		return false
	}
	f, ok := space[participantID]
	if !ok {
		return false
	}
	c.bytes -= int64(len(f.Image))
	delete(space, participantID)
	if len(space) == 0 {
		delete(c.frames, spaceID)
	}
	return true
}

// Size returns the number of cached frames and their total bytes.
func (c *FrameCache) Size() (frames int, bytes int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, space := range c.frames {
		frames += len(space)
	}
	return frames, c.bytes
}
