// Package viewer is the receive side of a space: it owns roster
// reconciliation and frame delivery into the receive buffer, and renders the
// result through a sink.
package viewer

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/telepresence/internal/roster"
	"github.com/dgnsrekt/telepresence/internal/ws"
)

// RosterSource fetches the authoritative roster of a space.
type RosterSource interface {
	FetchSpaceStatus(ctx context.Context, spaceID string) (roster.Status, error)
}

// Sink displays the buffer contents in roster order.
type Sink interface {
	Render(entries []roster.Entry) error
}

type fetchResult struct {
	status roster.Status
	err    error
}

// Viewer serializes roster snapshots and frame events on a single goroutine,
// so RosterSync and frame updates never interleave.
type Viewer struct {
	spaceID      string
	source       RosterSource
	sink         Sink
	buffer       *roster.Buffer
	sync         *roster.Sync
	pollInterval time.Duration
	fetchTimeout time.Duration
	logger       *zap.Logger

	events  chan ws.Event
	results chan fetchResult

	applied atomic.Int64
	dropped atomic.Int64
	renders atomic.Int64
}

// New creates a Viewer. A nil sink renders nothing.
func New(spaceID string, source RosterSource, sink Sink, pollInterval time.Duration, logger *zap.Logger) *Viewer {
	buffer := roster.NewBuffer()
	return &Viewer{
		spaceID:      spaceID,
		source:       source,
		sink:         sink,
		buffer:       buffer,
		sync:         roster.NewSync(buffer),
		pollInterval: pollInterval,
		fetchTimeout: 15 * time.Second,
		logger:       logger,
		events:       make(chan ws.Event, 64),
		results:      make(chan fetchResult, 1),
	}
}

// Events is where push events are delivered.
func (v *Viewer) Events() chan<- ws.Event {
	return v.events
}

// Entries returns the current roster with each participant's latest frame.
func (v *Viewer) Entries() []roster.Entry {
	return v.sync.Entries()
}

// Stats returns frames applied, frames dropped and renders performed.
func (v *Viewer) Stats() (applied, dropped, renders int64) {
	return v.applied.Load(), v.dropped.Load(), v.renders.Load()
}

// Run processes events until ctx is done. The roster is fetched immediately,
// then every pollInterval and whenever the relay hints at a roster change.
// A failed fetch keeps the previous snapshot.
func (v *Viewer) Run(ctx context.Context) error {
	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()

	fetching, refetch := false, false
	startFetch := func() {
		if fetching {
			refetch = true
			return
		}
		fetching = true
		go v.fetch(ctx)
	}
	startFetch()

	for {
		select {
		case <-ctx.Done():
			v.logger.Info("viewer stopping", zap.String("space_id", v.spaceID))
			return ctx.Err()

		case <-ticker.C:
			startFetch()

		case res := <-v.results:
			fetching = false
			if res.err != nil {
				v.logger.Warn("roster refresh failed, keeping previous snapshot", zap.Error(res.err))
			} else {
				change := v.sync.Apply(res.status)
				if !change.Empty() {
					v.logger.Info("roster changed",
						zap.Strings("added", change.Added),
						zap.Strings("removed", change.Removed),
					)
				}
				v.render()
			}
			if refetch {
				refetch = false
				startFetch()
			}

		case ev := <-v.events:
			if ev.SpaceID != v.spaceID {
				v.dropped.Add(1)
				continue
			}
			switch ev.Type {
			case ws.EventRosterUpdate:
				startFetch()
			case ws.EventScreenUpdate:
				if len(ev.Image) == 0 {
					v.dropped.Add(1)
					continue
				}
				if v.buffer.ApplyFrameUpdate(ev.ParticipantID, ev.Image) {
					v.applied.Add(1)
					v.render()
				} else {
					// Likely a participant newer than our roster.
					v.dropped.Add(1)
					v.logger.Debug("frame for unknown participant dropped",
						zap.String("participant_id", ev.ParticipantID))
					startFetch()
				}
			}
		}
	}
}

func (v *Viewer) fetch(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, v.fetchTimeout)
	defer cancel()

	status, err := v.source.FetchSpaceStatus(fctx, v.spaceID)
	select {
	case v.results <- fetchResult{status: status, err: err}:
	case <-ctx.Done():
	}
}

func (v *Viewer) render() {
	if v.sink == nil {
		return
	}
	if err := v.sink.Render(v.sync.Entries()); err != nil {
		v.logger.Warn("render failed", zap.Error(err))
		return
	}
	v.renders.Add(1)
}
