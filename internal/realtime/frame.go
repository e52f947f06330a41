package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a command is issued while the channel
	// is not open and the send policy drops it.
	ErrNotConnected = errors.New("channel not connected")

	// ErrUnknownFrame is returned by handlers for frame types they do not know.
	ErrUnknownFrame = errors.New("unknown frame type")

	// ErrMalformedFrame wraps payloads that are missing required fields or
	// fail to decode.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Envelope is the wire format of every frame in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func encode(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return json.Marshal(Envelope{Type: typ, Payload: raw})
}

func decode[T any](env Envelope) (T, error) {
	var v T
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return v, fmt.Errorf("%w: %s without payload", ErrMalformedFrame, env.Type)
	}
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, env.Type, err)
	}
	return v, nil
}

func missing(typ, field string) error {
	return fmt.Errorf("%w: %s without %s", ErrMalformedFrame, typ, field)
}
