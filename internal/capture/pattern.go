package capture

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConfirmFunc asks the user whether the described source may be shared.
// Returning false is a denial.
type ConfirmFunc func(ctx context.Context, description string) (bool, error)

// PatternProvider acquires synthetic streams rendering a moving box over
// color bars. It stands in for a desktop source on headless hosts.
type PatternProvider struct {
	Constraints Constraints
	Confirm     ConfirmFunc
	Logger      *zap.Logger
}

// Acquire implements Provider.
func (p *PatternProvider) Acquire(ctx context.Context) (Stream, error) {
	if err := confirm(ctx, p.Confirm, "test pattern", "pattern"); err != nil {
		return nil, err
	}

	c := p.Constraints
	if c.MaxWidth <= 0 || c.MaxHeight <= 0 {
		d := DefaultConstraints()
		c.MaxWidth, c.MaxHeight = d.MaxWidth, d.MaxHeight
	}
	if c.MaxFrameRate <= 0 {
		c.MaxFrameRate = DefaultConstraints().MaxFrameRate
	}

	s := &patternStream{
		id:    uuid.New().String(),
		ended: make(chan struct{}),
	}
	s.track = &patternTrack{
		stream:  s,
		width:   c.MaxWidth,
		height:  c.MaxHeight,
		fps:     c.MaxFrameRate,
		started: time.Now(),
	}

	if p.Logger != nil {
		p.Logger.Info("test pattern stream acquired",
			zap.String("stream", s.id),
			zap.Int("width", c.MaxWidth),
			zap.Int("height", c.MaxHeight),
		)
	}
	return s, nil
}

func confirm(ctx context.Context, fn ConfirmFunc, description, source string) error {
	if fn == nil {
		return nil
	}
	ok, err := fn(ctx, description)
	if err != nil {
		return &AcquisitionError{Source: source, Err: err}
	}
	if !ok {
		return &AcquisitionError{Source: source, Err: ErrDenied}
	}
	return nil
}

type patternStream struct {
	id    string
	track *patternTrack
	ended chan struct{}

	mu      sync.Mutex
	stopped bool
}

func (s *patternStream) ID() string             { return s.id }
func (s *patternStream) PrimaryTrack() Track    { return s.track }
func (s *patternStream) Ended() <-chan struct{} { return s.ended }

func (s *patternStream) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *patternStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type patternTrack struct {
	stream  *patternStream
	width   int
	height  int
	fps     float64
	started time.Time
}

func (t *patternTrack) Label() string { return "test-pattern" }

// GrabFrame renders the frame that is current at call time.
func (t *patternTrack) GrabFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.stream.isStopped() {
		return nil, &CaptureError{Op: "grab frame", Err: ErrTrackStopped}
	}

	now := time.Now()
	index := int64(math.Floor(now.Sub(t.started).Seconds() * t.fps))
	img := image.NewRGBA(image.Rect(0, 0, t.width, t.height))
	drawColorBars(img)
	drawMovingBox(img, index)

	return NewFrame(img, now, nil), nil
}

var barColors = []color.RGBA{
	{192, 192, 192, 255},
	{192, 192, 0, 255},
	{0, 192, 192, 255},
	{0, 192, 0, 255},
	{192, 0, 192, 255},
	{192, 0, 0, 255},
	{0, 0, 192, 255},
}

func drawColorBars(img *image.RGBA) {
	b := img.Bounds()
	barWidth := b.Dx() / len(barColors)
	if barWidth == 0 {
		barWidth = 1
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			i := (x - b.Min.X) / barWidth
			if i >= len(barColors) {
				i = len(barColors) - 1
			}
			img.SetRGBA(x, y, barColors[i])
		}
	}
}

// drawMovingBox bounces a white box across the frame, one step per frame index.
func drawMovingBox(img *image.RGBA, index int64) {
	b := img.Bounds()
	size := b.Dy() / 4
	if size < 1 {
		size = 1
	}
	span := b.Dx() - size
	if span <= 0 {
		span = 1
	}
	step := int(index*8) % (2 * span)
	x0 := step
	if step >= span {
		x0 = 2*span - step
	}
	y0 := (b.Dy() - size) / 2
	white := color.RGBA{255, 255, 255, 255}
	for y := y0; y < y0+size && y < b.Max.Y; y++ {
		for x := x0; x < x0+size && x < b.Max.X; x++ {
			img.SetRGBA(x, y, white)
		}
	}
}
