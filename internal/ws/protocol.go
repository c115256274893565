package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

// Subprotocols offered on the push channel, in preference order.
const (
	ProtocolBinary = "telepresence.binary.v1"
	ProtocolJSON   = "telepresence.json.v1"
)

// Push event types.
const (
	EventScreenUpdate = "spaceScreenUpdate"
	EventRosterUpdate = "spaceRosterUpdate"
)

// Envelope field numbers of the binary protocol.
const (
	fieldType          protowire.Number = 1
	fieldSpaceID       protowire.Number = 2
	fieldParticipantID protowire.Number = 3
	fieldImage         protowire.Number = 4
	fieldTimestamp     protowire.Number = 5
)

// Event is one push event for a space. Image is only set for screen updates.
type Event struct {
	Type          string
	SpaceID       string
	ParticipantID string
	Image         []byte
	Timestamp     time.Time
}

// ProtocolError reports a push message that could not be decoded.
type ProtocolError struct {
	Protocol string
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed %s message: %v", e.Protocol, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

var (
	errMissingType    = errors.New("missing event type")
	errUnknownType    = errors.New("unknown event type")
	errMissingSpace   = errors.New("missing space id")
	errMissingSpeaker = errors.New("screen update without participant id")
	errMissingImage   = errors.New("screen update without image")
)

// jsonEvent is the text form of Event. Image is base64 by encoding/json.
type jsonEvent struct {
	Type          string `json:"type"`
	SpaceID       string `json:"spaceId"`
	ParticipantID string `json:"participantId,omitempty"`
	Image         []byte `json:"image,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

// Codec converts events to and from both wire protocols.
// Binary messages are a protobuf-wire envelope compressed with zstd.
type Codec struct {
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
}

// NewCodec creates a Codec with its zstd coders.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{zstdEncoder: enc, zstdDecoder: dec}, nil
}

// Encode renders ev for the given subprotocol.
func (c *Codec) Encode(protocol string, ev Event) ([]byte, error) {
	if protocol == ProtocolJSON {
		return json.Marshal(jsonEvent{
			Type:          ev.Type,
			SpaceID:       ev.SpaceID,
			ParticipantID: ev.ParticipantID,
			Image:         ev.Image,
			Timestamp:     ev.Timestamp.UnixMilli(),
		})
	}
	return c.zstdEncoder.EncodeAll(marshalEnvelope(ev), nil), nil
}

// Decode parses a message of the given subprotocol. Every failure is a
// *ProtocolError.
func (c *Codec) Decode(protocol string, data []byte) (Event, error) {
	var (
		ev  Event
		err error
	)
	if protocol == ProtocolJSON {
		ev, err = decodeJSON(data)
	} else {
		var raw []byte
		raw, err = c.zstdDecoder.DecodeAll(data, nil)
		if err == nil {
			ev, err = unmarshalEnvelope(raw)
		}
	}
	if err == nil {
		err = validate(ev)
	}
	if err != nil {
		if protocol != ProtocolJSON {
			protocol = ProtocolBinary
		}
		return Event{}, &ProtocolError{Protocol: protocol, Err: err}
	}
	return ev, nil
}

// Close releases the zstd coders.
func (c *Codec) Close() {
	if c.zstdEncoder != nil {
		c.zstdEncoder.Close()
	}
	if c.zstdDecoder != nil {
		c.zstdDecoder.Close()
	}
}

func decodeJSON(data []byte) (Event, error) {
	var je jsonEvent
	if err := json.Unmarshal(data, &je); err != nil {
		return Event{}, err
	}
	ev := Event{
		Type:          je.Type,
		SpaceID:       je.SpaceID,
		ParticipantID: je.ParticipantID,
		Image:         je.Image,
	}
	if je.Timestamp != 0 {
		ev.Timestamp = time.UnixMilli(je.Timestamp)
	}
	return ev, nil
}

func marshalEnvelope(ev Event) []byte {
	b := make([]byte, 0, len(ev.Image)+96)
	b = protowire.AppendTag(b, fieldType, protowire.BytesType)
	b = protowire.AppendString(b, ev.Type)
	b = protowire.AppendTag(b, fieldSpaceID, protowire.BytesType)
	b = protowire.AppendString(b, ev.SpaceID)
	if ev.ParticipantID != "" {
		b = protowire.AppendTag(b, fieldParticipantID, protowire.BytesType)
		b = protowire.AppendString(b, ev.ParticipantID)
	}
	if len(ev.Image) > 0 {
		b = protowire.AppendTag(b, fieldImage, protowire.BytesType)
		b = protowire.AppendBytes(b, ev.Image)
	}
	if !ev.Timestamp.IsZero() {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(ev.Timestamp.UnixMilli()))
	}
	return b
}

func unmarshalEnvelope(b []byte) (Event, error) {
	var ev Event
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Event{}, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Event{}, protowire.ParseError(n)
			}
			ev.Timestamp = time.UnixMilli(int64(v))
			b = b[n:]

		case typ == protowire.BytesType && num >= fieldType && num <= fieldImage:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Event{}, protowire.ParseError(n)
			}
			switch num {
			case fieldType:
				ev.Type = string(v)
			case fieldSpaceID:
				ev.SpaceID = string(v)
			case fieldParticipantID:
				ev.ParticipantID = string(v)
			case fieldImage:
				ev.Image = append([]byte(nil), v...)
			}
			b = b[n:]

		default:
			// Unknown fields are skipped for forward compatibility.
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Event{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return ev, nil
}

func validate(ev Event) error {
	switch ev.Type {
	case "":
		return errMissingType
	case EventScreenUpdate:
		if ev.ParticipantID == "" {
			return errMissingSpeaker
		}
		if len(ev.Image) == 0 {
			return errMissingImage
		}
	case EventRosterUpdate:
	default:
		return fmt.Errorf("%w: %q", errUnknownType, ev.Type)
	}
	if ev.SpaceID == "" {
		return errMissingSpace
	}
	return nil
}
