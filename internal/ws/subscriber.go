package ws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Subscriber receives push events of one space from the relay.
type Subscriber struct {
	url        string
	spaceID    string
	protocols  []string
	dialer     *websocket.Dialer
	codec      *Codec
	retryDelay time.Duration
	maxDelay   time.Duration
	logger     *zap.Logger
}

// NewSubscriber creates a Subscriber for the push endpoint at url. protocols
// lists the offered subprotocols, binary first by default.
func NewSubscriber(url, spaceID string, protocols []string, logger *zap.Logger) (*Subscriber, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	if len(protocols) == 0 {
		protocols = []string{ProtocolBinary, ProtocolJSON}
	}
	return &Subscriber{
		url:       url,
		spaceID:   spaceID,
		protocols: protocols,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   64 * 1024,
			Subprotocols:     protocols,
		},
		codec:      codec,
		retryDelay: time.Second,
		maxDelay:   30 * time.Second,
		logger:     logger,
	}, nil
}

// Run delivers events for the subscribed space to out until ctx is done,
// reconnecting with exponential backoff. Malformed events and events for
// other spaces are dropped.
func (s *Subscriber) Run(ctx context.Context, out chan<- Event) error {
	defer s.codec.Close()

	delay := s.retryDelay
	for {
		connected, err := s.runOnce(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = s.retryDelay
		}
		s.logger.Warn("push channel disconnected",
			zap.String("space_id", s.spaceID),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.maxDelay {
			delay = s.maxDelay
		}
	}
}

func (s *Subscriber) runOnce(ctx context.Context, out chan<- Event) (bool, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial push channel: %w", err)
	}
	defer func() { _ = conn.Close() }()

	protocol := conn.Subprotocol()
	if protocol == "" {
		protocol = ProtocolBinary
	}
	s.logger.Info("push channel connected",
		zap.String("space_id", s.spaceID),
		zap.String("protocol", protocol),
	)

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}

		ev, err := s.codec.Decode(protocol, data)
		if err != nil {
			var pe *ProtocolError
			if errors.As(err, &pe) {
				s.logger.Debug("dropping malformed event", zap.Error(err))
				continue
			}
			return true, err
		}
		if ev.SpaceID != s.spaceID {
			s.logger.Debug("dropping event for other space", zap.String("event_space", ev.SpaceID))
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}
