package capture

import (
	"errors"
	"fmt"
)

var (
	ErrDenied         = errors.New("capture request denied")
	ErrNoSource       = errors.New("no capture source available")
	ErrRequestPending = errors.New("capture request already pending")
	ErrStreamEnded    = errors.New("capture stream finished")
	ErrTrackStopped   = errors.New("capture track stopped")
	ErrNoTrack        = errors.New("stream has no video track")
	ErrNoSurface      = errors.New("did not get renderer")
	ErrNoPublisher    = errors.New("no publish callback registered")
)

// unknownErrorMessage is shown when a failure carries no message of its own.
const unknownErrorMessage = "unknown error"

// AcquisitionError reports that no stream could be obtained: user denial,
// missing device or platform refusal.
type AcquisitionError struct {
	Source string
	Err    error
}

func (e *AcquisitionError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("acquire stream: %v", e.Err)
	}
	return fmt.Sprintf("acquire %s stream: %v", e.Source, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// CaptureError reports a failed frame grab or an ended track.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *CaptureError) Unwrap() error { return e.Err }

// EncodeError reports that a frame could not be turned into a payload.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string { return fmt.Sprintf("encode frame: %v", e.Err) }

func (e *EncodeError) Unwrap() error { return e.Err }

// TransportError reports that the publish transport rejected a payload.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("publish frame: %v", e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// Message returns the user-visible text for a session failure.
func Message(err error) string {
	if err == nil {
		return unknownErrorMessage
	}
	var ce *CaptureError
	if errors.As(err, &ce) && errors.Is(ce.Err, ErrStreamEnded) {
		return ErrStreamEnded.Error()
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return unknownErrorMessage
}
