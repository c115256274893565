package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle state of a capture target.
type State int

const (
	StateIdle State = iota
	StateActive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultInterval is the time between ticks.
const DefaultInterval = 5 * time.Second

// PublishFunc hands an encoded frame to the transport. Any error is fatal
// for the session that produced the frame.
type PublishFunc func(ctx context.Context, p Payload) error

// Status is a point-in-time view of a Session.
type Status struct {
	State           State
	StreamID        string
	Message         string
	Generation      uint64
	Published       uint64
	Skipped         uint64
	LastPublishedAt time.Time
}

// String renders the status the way the share view shows it.
func (s Status) String() string {
	switch s.State {
	case StateActive:
		return "sharing active"
	case StateFailed:
		return "error: " + s.Message
	default:
		return "not sharing"
	}
}

// Session owns the stream of one capture target and runs the periodic
// grab -> encode -> publish pipeline over it.
//
// Every acquisition bound by Start is a new session instance identified by a
// generation number. Asynchronous work (ticks, ended notifications) carries
// the generation it was started under and is discarded if the generation has
// moved on by the time it completes. At most one tick per generation is in
// flight; timer firings that find a tick in flight are skipped.
type Session struct {
	encoder  *Encoder
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	state    State
	stream   Stream
	track    Track
	gen      uint64
	inFlight bool
	cancel   context.CancelFunc
	message  string
	closed   bool

	publish PublishFunc
	onState func(Status)

	previewStreamID string
	preview         *Payload
	published       uint64
	skipped         uint64
	lastPublishedAt time.Time

	wg sync.WaitGroup
}

// NewSession creates an idle Session. A non-positive interval selects
// DefaultInterval.
func NewSession(encoder *Encoder, interval time.Duration, logger *zap.Logger) *Session {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Session{
		encoder:  encoder,
		interval: interval,
		logger:   logger,
	}
}

// SetPublisher replaces the publish callback without disturbing a running
// pump. The next tick picks it up.
func (s *Session) SetPublisher(fn PublishFunc) {
	s.mu.Lock()
	s.publish = fn
	s.mu.Unlock()
}

// SetOnStateChange registers an observer for state transitions. It is called
// outside the session lock.
func (s *Session) SetOnStateChange(fn func(Status)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// Start binds stream and begins ticking. Any currently bound stream is
// released first. A nil stream is an explicit stop. The session takes
// ownership of stream in every case, including after Close.
func (s *Session) Start(stream Stream) {
	if stream == nil {
		s.Stop()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		stream.Stop()
		return
	}

	previous := s.releaseLocked()
	s.gen++
	gen := s.gen

	track := stream.PrimaryTrack()
	if track == nil {
		s.state = StateFailed
		s.message = Message(&CaptureError{Op: "bind stream", Err: ErrNoTrack})
		status, observer := s.statusLocked(), s.onState
		s.mu.Unlock()

		s.stopStream(previous)
		s.stopStream(stream)
		s.notify(observer, status)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.state = StateActive
	s.stream = stream
	s.track = track
	s.cancel = cancel
	s.message = ""
	s.inFlight = false
	s.previewStreamID = stream.ID()
	s.preview = nil

	s.wg.Add(2)
	status, observer := s.statusLocked(), s.onState
	s.mu.Unlock()

	s.stopStream(previous)

	s.logger.Info("capture session active",
		zap.String("stream", stream.ID()),
		zap.String("track", track.Label()),
		zap.Uint64("generation", gen),
		zap.Duration("interval", s.interval),
	)
	s.notify(observer, status)

	// Started after the observer has seen Active so a fast failure is
	// never reported ahead of it.
	go s.pump(ctx, gen)
	go s.watchEnded(ctx, gen, stream.Ended())
}

// Stop releases the bound stream and returns to idle. Stopping a session
// that is not active is a no-op.
func (s *Session) Stop() {
	s.stop(false)
}

// Close stops the session, refuses further streams and waits for every
// in-flight tick to return.
func (s *Session) Close() {
	s.stop(true)
	s.wg.Wait()
}

// stop marks the session closed in the same critical section that releases
// the stream, so no Start can bind between the two.
func (s *Session) stop(closing bool) {
	s.mu.Lock()
	if closing {
		s.closed = true
	}
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	released := s.releaseLocked()
	s.gen++
	s.state = StateIdle
	s.message = ""
	status, observer := s.statusLocked(), s.onState
	s.mu.Unlock()

	s.stopStream(released)
	s.logger.Info("capture session stopped", zap.Uint64("generation", status.Generation))
	s.notify(observer, status)
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// Preview returns the last payload published by the active stream.
func (s *Session) Preview() (Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.preview == nil {
		return Payload{}, false
	}
	return *s.preview, true
}

func (s *Session) statusLocked() Status {
	streamID := ""
	if s.stream != nil {
		streamID = s.previewStreamID
	}
	return Status{
		State:           s.state,
		StreamID:        streamID,
		Message:         s.message,
		Generation:      s.gen,
		Published:       s.published,
		Skipped:         s.skipped,
		LastPublishedAt: s.lastPublishedAt,
	}
}

// releaseLocked cancels the timer and any in-flight tick, then detaches the
// stream. The caller stops the returned stream after unlocking.
func (s *Session) releaseLocked() Stream {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	stream := s.stream
	s.stream = nil
	s.track = nil
	s.inFlight = false
	s.preview = nil
	return stream
}

func (s *Session) stopStream(stream Stream) {
	if stream == nil {
		return
	}
	stream.Stop()
	s.logger.Debug("capture stream released", zap.String("stream", stream.ID()))
}

func (s *Session) notify(observer func(Status), status Status) {
	if observer != nil {
		observer(status)
	}
}

// fail moves generation gen to Failed. Stale generations are ignored.
func (s *Session) fail(gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateActive {
		s.mu.Unlock()
		s.logger.Debug("discarding stale failure", zap.Uint64("generation", gen), zap.Error(cause))
		return
	}
	released := s.failLocked(cause)
	status, observer := s.statusLocked(), s.onState
	s.mu.Unlock()

	s.stopStream(released)
	s.logger.Warn("capture session failed",
		zap.Uint64("generation", gen),
		zap.String("message", status.Message),
		zap.Error(cause),
	)
	s.notify(observer, status)
}

func (s *Session) failLocked(cause error) Stream {
	released := s.releaseLocked()
	s.gen++
	s.state = StateFailed
	s.message = Message(cause)
	return released
}

// pump fires one tick immediately and then one per interval until ctx ends.
func (s *Session) pump(ctx context.Context, gen uint64) {
	defer s.wg.Done()

	s.tryTick(ctx, gen)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tryTick(ctx, gen)
		}
	}
}

func (s *Session) watchEnded(ctx context.Context, gen uint64, ended <-chan struct{}) {
	defer s.wg.Done()
	select {
	case <-ctx.Done():
	case <-ended:
		s.fail(gen, &CaptureError{Op: "track", Err: ErrStreamEnded})
	}
}

// tryTick starts a tick unless one is already in flight for gen.
func (s *Session) tryTick(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateActive {
		s.mu.Unlock()
		return
	}
	if s.inFlight {
		s.skipped++
		s.mu.Unlock()
		s.logger.Debug("tick skipped, previous tick in flight", zap.Uint64("generation", gen))
		return
	}
	s.inFlight = true
	track := s.track
	s.wg.Add(1)
	s.mu.Unlock()

	go s.runTick(ctx, gen, track)
}

func (s *Session) runTick(ctx context.Context, gen uint64, track Track) {
	defer s.wg.Done()

	payload, err := s.produce(ctx, track)
	if err != nil {
		s.finishTick(gen, nil, err)
		return
	}

	publish, ok := s.publisherFor(ctx, gen)
	if !ok {
		s.logger.Debug("discarding frame of superseded session", zap.Uint64("generation", gen))
		return
	}
	if publish == nil {
		s.finishTick(gen, nil, &TransportError{Err: ErrNoPublisher})
		return
	}

	if err := publish(ctx, payload); err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			err = &TransportError{Err: err}
		}
		s.finishTick(gen, nil, err)
		return
	}
	s.finishTick(gen, &payload, nil)
}

// produce grabs and encodes one frame. The raw frame never outlives the call.
func (s *Session) produce(ctx context.Context, track Track) (Payload, error) {
	frame, err := track.GrabFrame(ctx)
	if err != nil {
		var ce *CaptureError
		if !errors.As(err, &ce) {
			err = &CaptureError{Op: "grab frame", Err: err}
		}
		return Payload{}, err
	}
	defer frame.Close()

	return s.encoder.Encode(frame)
}

// publisherFor returns the publish callback if gen is still the active
// generation and its context is live.
func (s *Session) publisherFor(ctx context.Context, gen uint64) (PublishFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != StateActive || ctx.Err() != nil {
		return nil, false
	}
	return s.publish, true
}

// finishTick applies a tick's outcome if gen is still current.
func (s *Session) finishTick(gen uint64, payload *Payload, cause error) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateActive {
		s.mu.Unlock()
		s.logger.Debug("discarding stale tick result", zap.Uint64("generation", gen))
		return
	}
	s.inFlight = false

	if cause == nil {
		s.published++
		s.lastPublishedAt = time.Now()
		s.preview = payload
		s.mu.Unlock()
		s.logger.Debug("frame published",
			zap.Uint64("generation", gen),
			zap.Int("bytes", len(payload.Data)),
			zap.Int("width", payload.Width),
			zap.Int("height", payload.Height),
		)
		return
	}

	released := s.failLocked(cause)
	status, observer := s.statusLocked(), s.onState
	s.mu.Unlock()

	s.stopStream(released)
	s.logger.Warn("capture session failed",
		zap.Uint64("generation", gen),
		zap.String("message", status.Message),
		zap.Error(cause),
	)
	s.notify(observer, status)
}
