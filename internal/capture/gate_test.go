package capture

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

type blockingProvider struct {
	release chan struct{}
	stream  Stream
	err     error
	calls   int
}

func (p *blockingProvider) Acquire(ctx context.Context) (Stream, error) {
	p.calls++
	if p.release != nil {
		<-p.release
	}
	return p.stream, p.err
}

func TestGate_DeliversStreamOnce(t *testing.T) {
	stream := newFakeStream("s1", nil)
	gate := NewGate(&blockingProvider{stream: stream}, zap.NewNop())

	var delivered []Stream
	gate.SetOnComplete(func(s Stream) { delivered = append(delivered, s) })

	if err := gate.Request(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(delivered) != 1 || delivered[0] != stream {
		t.Fatalf("expected stream delivered once, got %d", len(delivered))
	}
	if gate.State() != GateIdle || gate.Err() != nil {
		t.Errorf("expected idle gate, got %s (%v)", gate.State(), gate.Err())
	}
}

func TestGate_SingleFlight(t *testing.T) {
	provider := &blockingProvider{release: make(chan struct{}), stream: newFakeStream("s1", nil)}
	gate := NewGate(provider, zap.NewNop())
	gate.SetOnComplete(func(Stream) {})

	done := make(chan error, 1)
	go func() { done <- gate.Request(context.Background()) }()

	waitFor(t, "pending state", func() bool { return gate.State() == GatePending })

	if err := gate.Request(context.Background()); !errors.Is(err, ErrRequestPending) {
		t.Fatalf("expected ErrRequestPending, got %v", err)
	}

	close(provider.release)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("expected one acquisition, got %d", provider.calls)
	}
}

func TestGate_DenialSurfacesAsError(t *testing.T) {
	provider := &PatternProvider{
		Confirm: func(ctx context.Context, description string) (bool, error) { return false, nil },
	}
	gate := NewGate(provider, zap.NewNop())
	delivered := 0
	gate.SetOnComplete(func(Stream) { delivered++ })

	err := gate.Request(context.Background())
	var ae *AcquisitionError
	if !errors.As(err, &ae) || !errors.Is(err, ErrDenied) {
		t.Fatalf("expected denied AcquisitionError, got %v", err)
	}
	if gate.State() != GateFailed || gate.Err() == nil {
		t.Errorf("expected failed gate, got %s", gate.State())
	}
	if delivered != 0 {
		t.Error("denied request must not reach the completion handler")
	}
}

func TestGate_WrapsProviderErrors(t *testing.T) {
	gate := NewGate(&blockingProvider{err: errors.New("platform refused")}, zap.NewNop())
	err := gate.Request(context.Background())
	var ae *AcquisitionError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AcquisitionError, got %v", err)
	}

	gate = NewGate(&blockingProvider{}, zap.NewNop())
	if err := gate.Request(context.Background()); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource for nil stream, got %v", err)
	}
}

func TestGate_ReleasesStreamWithoutHandler(t *testing.T) {
	stream := newFakeStream("s1", nil)
	gate := NewGate(&blockingProvider{stream: stream}, zap.NewNop())

	if err := gate.Request(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stream.stops.Load() != 1 {
		t.Error("unowned stream must be stopped")
	}
}

func TestGate_FeedsSession(t *testing.T) {
	session := newTestSession(time.Hour)
	rec := &publishRecorder{}
	session.SetPublisher(rec.publish)

	gate := NewGate(&PatternProvider{Constraints: DefaultConstraints()}, zap.NewNop())
	gate.SetOnComplete(session.Start)

	if err := gate.Request(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, "pattern frame published", func() bool { return rec.count() == 1 })
	session.Close()
}

func TestPatternTrack_StoppedStreamFails(t *testing.T) {
	stream, err := (&PatternProvider{}).Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frame, err := stream.PrimaryTrack().GrabFrame(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Width() != 320 || frame.Height() != 240 {
		t.Errorf("unexpected pattern size %dx%d", frame.Width(), frame.Height())
	}
	frame.Close()

	stream.Stop()
	stream.Stop()
	if _, err := stream.PrimaryTrack().GrabFrame(context.Background()); !errors.Is(err, ErrTrackStopped) {
		t.Errorf("expected ErrTrackStopped, got %v", err)
	}
}

func TestDirProvider(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "001.png"), 64, 48)
	writePNG(t, filepath.Join(dir, "002.png"), 64, 48)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o600); err != nil {
		t.Fatal(err)
	}

	provider := &DirProvider{Dir: dir, Constraints: Constraints{MaxFrameRate: 1000}}
	stream, err := provider.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Stop()

	// At 1000 fps the two images are exhausted almost immediately.
	time.Sleep(20 * time.Millisecond)
	_, err = stream.PrimaryTrack().GrabFrame(context.Background())
	if !errors.Is(err, ErrStreamEnded) {
		t.Fatalf("expected ErrStreamEnded, got %v", err)
	}
	select {
	case <-stream.Ended():
	default:
		t.Error("expected ended channel to be closed")
	}
}

func TestDirProvider_LoopDecodes(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 32, 16)

	stream, err := (&DirProvider{Dir: dir, Loop: true}).Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Stop()

	frame, err := stream.PrimaryTrack().GrabFrame(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer frame.Close()
	if frame.Width() != 32 || frame.Height() != 16 {
		t.Errorf("unexpected size %dx%d", frame.Width(), frame.Height())
	}
}

func TestDirProvider_EmptyDirIsNoSource(t *testing.T) {
	_, err := (&DirProvider{Dir: t.TempDir()}).Acquire(context.Background())
	if !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
}
