package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeStream struct {
	id    string
	track *fakeTrack
	ended chan struct{}
	stops atomic.Int32
}

func newFakeStream(id string, grab func(ctx context.Context) error) *fakeStream {
	s := &fakeStream{id: id, ended: make(chan struct{})}
	s.track = &fakeTrack{label: id, grab: grab}
	return s
}

func (s *fakeStream) ID() string             { return s.id }
func (s *fakeStream) PrimaryTrack() Track    { return s.track }
func (s *fakeStream) Ended() <-chan struct{} { return s.ended }
func (s *fakeStream) Stop()                  { s.stops.Add(1) }

type fakeTrack struct {
	label    string
	grab     func(ctx context.Context) error
	grabs    atomic.Int32
	releases atomic.Int32
}

func (t *fakeTrack) Label() string { return t.label }

func (t *fakeTrack) GrabFrame(ctx context.Context) (*Frame, error) {
	t.grabs.Add(1)
	if t.grab != nil {
		if err := t.grab(ctx); err != nil {
			return nil, err
		}
	}
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	return NewFrame(img, time.Now(), func() { t.releases.Add(1) }), nil
}

type publishRecorder struct {
	mu     sync.Mutex
	frames []Payload
}

func (r *publishRecorder) publish(ctx context.Context, p Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, p)
	return nil
}

func (r *publishRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestSession(interval time.Duration) *Session {
	return NewSession(NewEncoder(DefaultConstraints()), interval, zap.NewNop())
}

func TestSession_FirstTickPublishesImmediately(t *testing.T) {
	session := newTestSession(time.Hour)
	rec := &publishRecorder{}
	session.SetPublisher(rec.publish)

	stream := newFakeStream("s1", nil)
	session.Start(stream)
	defer session.Close()

	waitFor(t, "first publish", func() bool { return session.Status().Published == 1 })
	if rec.count() != 1 {
		t.Errorf("expected one publish call, got %d", rec.count())
	}

	status := session.Status()
	if status.State != StateActive {
		t.Fatalf("expected active, got %s", status.State)
	}
	if status.String() != "sharing active" {
		t.Errorf("unexpected status text %q", status.String())
	}

	p, ok := session.Preview()
	if !ok {
		t.Fatal("expected a preview after publishing")
	}
	if p.ContentType != "image/jpeg" || p.Quality != 95 {
		t.Errorf("unexpected payload format %s q=%d", p.ContentType, p.Quality)
	}
	if p.Width != 320 || p.Height != 240 {
		t.Errorf("expected 320x240 payload, got %dx%d", p.Width, p.Height)
	}
}

func TestSession_NoConcurrentTicks(t *testing.T) {
	session := newTestSession(2 * time.Millisecond)

	var running, maxRunning, calls atomic.Int32
	session.SetPublisher(func(ctx context.Context, p Payload) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		calls.Add(1)
		select {
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	})

	stream := newFakeStream("s1", nil)
	session.Start(stream)

	waitFor(t, "three publishes", func() bool { return calls.Load() >= 3 })
	session.Close()

	if got := maxRunning.Load(); got != 1 {
		t.Errorf("expected at most one tick in flight, saw %d", got)
	}
	if session.Status().Skipped == 0 {
		t.Error("expected timer firings to be skipped while a tick was in flight")
	}
	if grabs, releases := stream.track.grabs.Load(), stream.track.releases.Load(); grabs != releases {
		t.Errorf("every grabbed frame must be closed: grabs=%d releases=%d", grabs, releases)
	}
}

func TestSession_StopReleasesStreamOnce(t *testing.T) {
	session := newTestSession(time.Hour)
	rec := &publishRecorder{}
	session.SetPublisher(rec.publish)

	// Stopping a never-started session is a no-op.
	session.Stop()
	if session.Status().State != StateIdle {
		t.Fatal("expected idle session")
	}

	stream := newFakeStream("s1", nil)
	session.Start(stream)
	waitFor(t, "first publish", func() bool { return rec.count() == 1 })

	session.Stop()
	session.Stop()
	session.Start(nil)
	session.Close()

	if got := stream.stops.Load(); got != 1 {
		t.Errorf("expected stream stopped exactly once, got %d", got)
	}
	status := session.Status()
	if status.State != StateIdle || status.Message != "" {
		t.Errorf("expected idle without message, got %s %q", status.State, status.Message)
	}
	if status.String() != "not sharing" {
		t.Errorf("unexpected status text %q", status.String())
	}
}

func TestSession_TransportErrorFailsSession(t *testing.T) {
	session := newTestSession(time.Millisecond)
	var calls atomic.Int32
	session.SetPublisher(func(ctx context.Context, p Payload) error {
		calls.Add(1)
		return errors.New("error posting image data")
	})

	var observed []Status
	var mu sync.Mutex
	session.SetOnStateChange(func(s Status) {
		mu.Lock()
		observed = append(observed, s)
		mu.Unlock()
	})

	stream := newFakeStream("s1", nil)
	session.Start(stream)
	waitFor(t, "failed state", func() bool { return session.Status().State == StateFailed })
	time.Sleep(10 * time.Millisecond)
	session.Close()

	status := session.Status()
	if status.Message != "publish frame: error posting image data" {
		t.Errorf("unexpected message %q", status.Message)
	}
	if status.String() != "error: publish frame: error posting image data" {
		t.Errorf("unexpected status text %q", status.String())
	}
	if got := stream.stops.Load(); got != 1 {
		t.Errorf("expected stream stopped exactly once, got %d", got)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("failed session must not publish again, got %d calls", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 2 || observed[0].State != StateActive || observed[1].State != StateFailed {
		t.Errorf("expected active then failed transitions, got %+v", observed)
	}
}

func TestSession_SupersededTickIsDiscarded(t *testing.T) {
	session := newTestSession(time.Hour)

	var mu sync.Mutex
	var published []string
	session.SetPublisher(func(ctx context.Context, p Payload) error {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, p.CapturedAt.Format(time.RFC3339Nano))
		return nil
	})

	release := make(chan struct{})
	grabbing := make(chan struct{})
	// s1's grab ignores cancellation and finishes late.
	s1 := newFakeStream("s1", func(ctx context.Context) error {
		close(grabbing)
		<-release
		return nil
	})
	s2 := newFakeStream("s2", nil)

	session.Start(s1)
	<-grabbing

	session.Start(s2)
	waitFor(t, "s2 publish", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(published) == 1
	})

	close(release)
	session.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(published) != 1 {
		t.Fatalf("expected only s2's frame to be published, got %d", len(published))
	}
	if got := s1.stops.Load(); got != 1 {
		t.Errorf("expected s1 stopped exactly once, got %d", got)
	}
	if got := s2.stops.Load(); got != 1 {
		t.Errorf("expected s2 stopped exactly once on close, got %d", got)
	}
	if s1.track.releases.Load() != s1.track.grabs.Load() {
		t.Error("late frame of superseded stream was not closed")
	}
}

func TestSession_StreamEndedFailsSession(t *testing.T) {
	session := newTestSession(time.Hour)
	rec := &publishRecorder{}
	session.SetPublisher(rec.publish)

	stream := newFakeStream("s1", nil)
	session.Start(stream)
	waitFor(t, "first publish", func() bool { return rec.count() == 1 })

	close(stream.ended)
	waitFor(t, "failed state", func() bool { return session.Status().State == StateFailed })
	session.Close()

	if msg := session.Status().Message; msg != "capture stream finished" {
		t.Errorf("unexpected message %q", msg)
	}
	if got := stream.stops.Load(); got != 1 {
		t.Errorf("expected stream stopped exactly once, got %d", got)
	}
}

func TestSession_GrabErrorFailsSession(t *testing.T) {
	session := newTestSession(time.Hour)
	session.SetPublisher((&publishRecorder{}).publish)

	stream := newFakeStream("s1", func(ctx context.Context) error {
		return errors.New("device lost")
	})
	session.Start(stream)
	waitFor(t, "failed state", func() bool { return session.Status().State == StateFailed })
	session.Close()

	if msg := session.Status().Message; msg != "grab frame: device lost" {
		t.Errorf("unexpected message %q", msg)
	}

	// A new acquisition recovers the target.
	rec := &publishRecorder{}
	fresh := NewSession(NewEncoder(DefaultConstraints()), time.Hour, zap.NewNop())
	fresh.SetPublisher(rec.publish)
	fresh.Start(newFakeStream("s2", nil))
	waitFor(t, "publish on fresh session", func() bool { return rec.count() == 1 })
	fresh.Close()
}

func TestSession_StopCancelsHungPublish(t *testing.T) {
	session := newTestSession(time.Hour)
	entered := make(chan struct{})
	session.SetPublisher(func(ctx context.Context, p Payload) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	})

	stream := newFakeStream("s1", nil)
	session.Start(stream)
	<-entered

	done := make(chan struct{})
	go func() {
		session.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not cancel the hung publish")
	}
	if state := session.Status().State; state != StateIdle {
		t.Errorf("cancelled publish must not fail a stopped session, got %s", state)
	}
}

func TestSession_MissingPublisherFails(t *testing.T) {
	session := newTestSession(time.Hour)
	session.Start(newFakeStream("s1", nil))
	waitFor(t, "failed state", func() bool { return session.Status().State == StateFailed })
	session.Close()

	if !errors.Is(&TransportError{Err: ErrNoPublisher}, ErrNoPublisher) {
		t.Fatal("transport error must unwrap")
	}
}

func TestSession_StartAfterCloseReleasesStream(t *testing.T) {
	session := newTestSession(time.Hour)
	session.Close()

	stream := newFakeStream("late", nil)
	session.Start(stream)

	if got := stream.stops.Load(); got != 1 {
		t.Errorf("expected stream handed to a closed session to be stopped, got %d", got)
	}
}

func TestSession_StartFromObserverDuringClose(t *testing.T) {
	session := newTestSession(time.Hour)
	rec := &publishRecorder{}
	session.SetPublisher(rec.publish)

	second := newFakeStream("s2", nil)
	var once sync.Once
	session.SetOnStateChange(func(status Status) {
		if status.State == StateIdle {
			once.Do(func() { session.Start(second) })
		}
	})

	first := newFakeStream("s1", nil)
	session.Start(first)
	waitFor(t, "first publish", func() bool { return rec.count() == 1 })

	closed := make(chan struct{})
	go func() {
		session.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not return, state=%s", session.Status().State)
	}

	if got := first.stops.Load(); got != 1 {
		t.Errorf("expected first stream stopped once, got %d", got)
	}
	if got := second.stops.Load(); got != 1 {
		t.Errorf("expected stream started during Close to be stopped once, got %d", got)
	}
	if state := session.Status().State; state != StateIdle {
		t.Errorf("expected idle after Close, got %s", state)
	}
}

func TestMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "unknown error"},
		{"empty", errors.New(""), "unknown error"},
		{"ended", &CaptureError{Op: "track", Err: ErrStreamEnded}, "capture stream finished"},
		{"transport", &TransportError{Err: errors.New("boom")}, "publish frame: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Message(tt.err); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}
