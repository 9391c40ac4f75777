package chat

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrUnknownType       = errors.New("unknown message type")
)

// ProtocolError describes an inbound frame the codec rejected.
type ProtocolError struct {
	Type   string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: %q: %s", e.Err, e.Type, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Code maps the error onto the code sent back to the client.
func (e *ProtocolError) Code() string {
	if errors.Is(e.Err, ErrUnknownType) {
		return ErrorCodeUnknownType
	}
	return ErrorCodeInvalidMessage
}

// DecodeEnvelope parses an inbound frame. The type tag is inspected before the
// full decode so an unknown type is reported by name even if the rest of the
// frame is unusable.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	if !gjson.ValidBytes(data) {
		return nil, &ProtocolError{Reason: "frame is not valid JSON", Err: ErrMalformedEnvelope}
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, &ProtocolError{Reason: "frame must be a JSON object", Err: ErrMalformedEnvelope}
	}

	typ := root.Get("type")
	if typ.Type != gjson.String || typ.String() == "" {
		return nil, &ProtocolError{Reason: "missing type", Err: ErrMalformedEnvelope}
	}
	if !IsInbound(MessageType(typ.String())) {
		return nil, &ProtocolError{Type: typ.String(), Reason: "unsupported message type", Err: ErrUnknownType}
	}

	if payload := root.Get("payload"); payload.Exists() && payload.Type != gjson.Null && !payload.IsObject() {
		return nil, &ProtocolError{Type: typ.String(), Reason: "payload must be an object", Err: ErrMalformedEnvelope}
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Type: typ.String(), Reason: err.Error(), Err: ErrMalformedEnvelope}
	}
	return &env, nil
}

// DecodePayload unmarshals the payload into v. A missing payload decodes as {}.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// NewEnvelope builds an outbound envelope stamped with the current time.
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: raw, Timestamp: Now()}, nil
}

// NewErrorEnvelope never fails; ErrorPayload always marshals.
func NewErrorEnvelope(p ErrorPayload) Envelope {
	env, _ := NewEnvelope(MessageTypeError, p)
	return env
}

// WithRequestID returns a copy correlated to an inbound request.
func (e Envelope) WithRequestID(id string) Envelope {
	e.RequestID = id
	return e
}

func (e Envelope) Encode() ([]byte, error) {
	if len(e.Payload) == 0 {
		e.Payload = json.RawMessage("{}")
	}
	return json.Marshal(e)
}
