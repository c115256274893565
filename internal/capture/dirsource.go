package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var replayExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// DirProvider acquires streams that replay the images of a directory in name
// order at the configured frame rate. Without Loop the stream ends after the
// last image.
type DirProvider struct {
	Dir         string
	Loop        bool
	Constraints Constraints
	Confirm     ConfirmFunc
	Logger      *zap.Logger
}

// Acquire implements Provider.
func (p *DirProvider) Acquire(ctx context.Context) (Stream, error) {
	files, err := listReplayFiles(p.Dir)
	if err != nil {
		return nil, &AcquisitionError{Source: "directory", Err: err}
	}
	if len(files) == 0 {
		return nil, &AcquisitionError{Source: "directory", Err: fmt.Errorf("%w: no images in %s", ErrNoSource, p.Dir)}
	}

	if err := confirm(ctx, p.Confirm, "directory "+p.Dir, "directory"); err != nil {
		return nil, err
	}

	fps := p.Constraints.MaxFrameRate
	if fps <= 0 {
		fps = DefaultConstraints().MaxFrameRate
	}

	s := &dirStream{
		id:    uuid.New().String(),
		ended: make(chan struct{}),
	}
	s.track = &dirTrack{
		stream:  s,
		files:   files,
		loop:    p.Loop,
		fps:     fps,
		started: time.Now(),
	}

	if p.Logger != nil {
		p.Logger.Info("directory stream acquired",
			zap.String("stream", s.id),
			zap.String("dir", p.Dir),
			zap.Int("images", len(files)),
			zap.Bool("loop", p.Loop),
		)
	}
	return s, nil
}

func listReplayFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading replay directory: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if replayExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

type dirStream struct {
	id    string
	track *dirTrack
	ended chan struct{}

	mu      sync.Mutex
	stopped bool
	endOnce sync.Once
}

func (s *dirStream) ID() string             { return s.id }
func (s *dirStream) PrimaryTrack() Track    { return s.track }
func (s *dirStream) Ended() <-chan struct{} { return s.ended }

func (s *dirStream) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *dirStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *dirStream) finish() {
	s.endOnce.Do(func() { close(s.ended) })
}

type dirTrack struct {
	stream  *dirStream
	files   []string
	loop    bool
	fps     float64
	started time.Time
}

func (t *dirTrack) Label() string { return "directory-replay" }

// GrabFrame decodes the image that is current at call time.
func (t *dirTrack) GrabFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.stream.isStopped() {
		return nil, &CaptureError{Op: "grab frame", Err: ErrTrackStopped}
	}

	now := time.Now()
	index := int(math.Floor(now.Sub(t.started).Seconds() * t.fps))
	if index >= len(t.files) {
		if !t.loop {
			t.stream.finish()
			return nil, &CaptureError{Op: "grab frame", Err: ErrStreamEnded}
		}
		index %= len(t.files)
	}

	img, err := decodeImageFile(t.files[index])
	if err != nil {
		return nil, &CaptureError{Op: "grab frame", Err: err}
	}
	return NewFrame(img, now, nil), nil
}

func decodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}
