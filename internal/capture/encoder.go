package capture

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"
)

const (
	// ContentType is the single transport encoding.
	ContentType = "image/jpeg"
	// Quality is the fixed JPEG quality factor.
	Quality = 95
)

// Payload is an encoded frame ready for the publish transport.
type Payload struct {
	Data        []byte
	ContentType string
	Quality     int
	Width       int
	Height      int
	CapturedAt  time.Time
}

// Encoder converts raw frames to JPEG payloads. The rendering surface used
// for scaling is pooled and returned before Encode returns.
type Encoder struct {
	maxWidth  int
	maxHeight int

	surfaces    sync.Pool
	outstanding atomic.Int64
}

// NewEncoder creates an Encoder that downscales frames to fit c.
func NewEncoder(c Constraints) *Encoder {
	return &Encoder{
		maxWidth:  c.MaxWidth,
		maxHeight: c.MaxHeight,
	}
}

// Encode renders frame onto a surface and compresses it. The frame itself is
// not closed; that stays with the caller.
func (e *Encoder) Encode(frame *Frame) (Payload, error) {
	if frame == nil || frame.Image == nil {
		return Payload{}, &EncodeError{Err: ErrNoSurface}
	}
	src := frame.Image.Bounds()
	if src.Empty() {
		return Payload{}, &EncodeError{Err: ErrNoSurface}
	}

	w, h := fitWithin(src.Dx(), src.Dy(), e.maxWidth, e.maxHeight)
	surface := e.acquireSurface(w, h)
	defer e.releaseSurface(surface)

	if w == src.Dx() && h == src.Dy() {
		draw.Copy(surface, image.Point{}, frame.Image, src, draw.Src, nil)
	} else {
		draw.ApproxBiLinear.Scale(surface, surface.Rect, frame.Image, src, draw.Src, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, surface, &jpeg.Options{Quality: Quality}); err != nil {
		return Payload{}, &EncodeError{Err: err}
	}

	return Payload{
		Data:        buf.Bytes(),
		ContentType: ContentType,
		Quality:     Quality,
		Width:       w,
		Height:      h,
		CapturedAt:  frame.Timestamp,
	}, nil
}

// Outstanding reports surfaces currently checked out of the pool.
func (e *Encoder) Outstanding() int64 {
	return e.outstanding.Load()
}

func (e *Encoder) acquireSurface(w, h int) *image.RGBA {
	e.outstanding.Add(1)
	need := 4 * w * h
	if s, ok := e.surfaces.Get().(*image.RGBA); ok && cap(s.Pix) >= need {
		s.Pix = s.Pix[:need]
		s.Stride = 4 * w
		s.Rect = image.Rect(0, 0, w, h)
		return s
	}
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func (e *Encoder) releaseSurface(s *image.RGBA) {
	e.outstanding.Add(-1)
	e.surfaces.Put(s)
}

// fitWithin scales w x h down (never up) to fit maxW x maxH, keeping aspect.
// A non-positive bound leaves that dimension unconstrained.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = float64(maxW) / float64(w)
	}
	if maxH > 0 && h > maxH {
		if s := float64(maxH) / float64(h); s < scale {
			scale = s
		}
	}
	if scale == 1.0 {
		return w, h
	}
	sw := int(float64(w) * scale)
	sh := int(float64(h) * scale)
	if sw < 1 {
		sw = 1
	}
	if sh < 1 {
		sh = 1
	}
	return sw, sh
}
