package capture

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// GateState is the observable state of a Gate.
type GateState int

const (
	GateIdle GateState = iota
	GatePending
	GateFailed
)

func (s GateState) String() string {
	switch s {
	case GateIdle:
		return "idle"
	case GatePending:
		return "pending"
	case GateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Gate runs one acquisition at a time against a Provider and hands each
// acquired stream to the completion handler exactly once. It never retries;
// callers re-invoke Request after a failure.
type Gate struct {
	provider Provider
	logger   *zap.Logger

	mu         sync.Mutex
	state      GateState
	err        error
	onComplete func(Stream)
}

// NewGate creates an idle Gate over provider.
func NewGate(provider Provider, logger *zap.Logger) *Gate {
	return &Gate{
		provider: provider,
		logger:   logger,
	}
}

// SetOnComplete replaces the completion handler. Requests already in flight
// deliver to whichever handler is registered when they resolve.
func (g *Gate) SetOnComplete(fn func(Stream)) {
	g.mu.Lock()
	g.onComplete = fn
	g.mu.Unlock()
}

// Request acquires a stream and delivers it to the completion handler.
// It returns ErrRequestPending if another request is in flight, and an
// *AcquisitionError if the provider fails or the user declines.
func (g *Gate) Request(ctx context.Context) error {
	g.mu.Lock()
	if g.state == GatePending {
		g.mu.Unlock()
		return ErrRequestPending
	}
	g.state = GatePending
	g.err = nil
	g.mu.Unlock()

	g.logger.Debug("requesting capture stream")

	stream, err := g.provider.Acquire(ctx)
	if err == nil && stream == nil {
		err = ErrNoSource
	}
	if err != nil {
		var ae *AcquisitionError
		if !errors.As(err, &ae) {
			err = &AcquisitionError{Err: err}
		}
		g.mu.Lock()
		g.state = GateFailed
		g.err = err
		g.mu.Unlock()

		g.logger.Info("capture request failed", zap.Error(err))
		return err
	}

	g.mu.Lock()
	g.state = GateIdle
	handler := g.onComplete
	g.mu.Unlock()

	if handler == nil {
		// Nobody to own it; release rather than leak.
		stream.Stop()
		g.logger.Warn("capture stream acquired without a completion handler", zap.String("stream", stream.ID()))
		return nil
	}

	g.logger.Info("capture stream acquired", zap.String("stream", stream.ID()))
	handler(stream)
	return nil
}

// State returns the current gate state.
func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Err returns the error of the last failed request, or nil.
func (g *Gate) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}
