package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/telepresence/internal/capture"
)

const sendTimeout = 15 * time.Second

// Watcher turns session state changes into notifications. Only transitions
// are reported: a repeated status in the same state sends nothing.
type Watcher struct {
	notifier    Notifier
	spaceID     string
	participant string
	logger      *zap.Logger

	mu        sync.Mutex
	last      capture.State
	lastGen   uint64
	startedAt time.Time
	wg        sync.WaitGroup
}

// NewWatcher reports the sessions of participant in spaceID through n.
func NewWatcher(n Notifier, spaceID, participant string, logger *zap.Logger) *Watcher {
	return &Watcher{notifier: n, spaceID: spaceID, participant: participant, logger: logger}
}

// Observe is meant for capture.Session.SetOnStateChange. Sends run in the
// background so the session is never blocked on the network.
func (w *Watcher) Observe(status capture.Status) {
	w.mu.Lock()
	if status.State == w.last && status.Generation == w.lastGen {
		w.mu.Unlock()
		return
	}
	w.last, w.lastGen = status.State, status.Generation
	if status.State == capture.StateActive {
		w.startedAt = time.Now()
	}
	report := Report{SpaceID: w.spaceID, Participant: w.participant, Status: status}
	if !w.startedAt.IsZero() {
		report.Uptime = time.Since(w.startedAt)
	}
	w.mu.Unlock()

	var send func(context.Context, Report) error
	switch status.State {
	case capture.StateActive:
		send = w.notifier.SendStarted
	case capture.StateFailed:
		send = w.notifier.SendFailure
	default:
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := send(ctx, report); err != nil {
			w.logger.Warn("notification not delivered",
				zap.String("state", status.State.String()),
				zap.Error(err))
		}
	}()
}

// Wait blocks until pending notifications finish.
func (w *Watcher) Wait() {
	w.wg.Wait()
}
