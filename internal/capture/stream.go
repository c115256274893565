package capture

import (
	"context"
	"image"
	"sync"
	"time"
)

// Provider acquires a capture-able media stream. Acquire may block on user
// interaction and fails with an *AcquisitionError on denial or missing source.
type Provider interface {
	Acquire(ctx context.Context) (Stream, error)
}

// Stream is a live media source with exactly one primary video track.
//
// Implementations must guarantee:
//   - Stop() stops every track and is safe to call more than once
//   - Ended() is closed when the source finishes on its own, never by Stop()
type Stream interface {
	ID() string
	PrimaryTrack() Track
	Ended() <-chan struct{}
	Stop()
}

// Track yields frames. GrabFrame returns the most recent frame at call time,
// frames are never queued.
type Track interface {
	Label() string
	GrabFrame(ctx context.Context) (*Frame, error)
}

// Constraints bound what a source may produce.
type Constraints struct {
	MaxWidth     int
	MaxHeight    int
	MaxFrameRate float64
}

// DefaultConstraints matches the desktop capture request: 320x240 at 2 fps.
func DefaultConstraints() Constraints {
	return Constraints{
		MaxWidth:     320,
		MaxHeight:    240,
		MaxFrameRate: 2,
	}
}

// Frame is one raw captured frame. It is only valid until Close, which
// releases the backing buffer and must be called exactly once.
type Frame struct {
	Image     image.Image
	Timestamp time.Time

	once    sync.Once
	release func()
}

// NewFrame wraps img. release, if non-nil, runs on the first Close.
func NewFrame(img image.Image, ts time.Time, release func()) *Frame {
	return &Frame{Image: img, Timestamp: ts, release: release}
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Close releases the frame. Calls after the first are no-ops.
func (f *Frame) Close() {
	if f == nil {
		return
	}
	f.once.Do(func() {
		if f.release != nil {
			f.release()
		}
		f.Image = nil
	})
}
