package feed

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the lifecycle of the feed connection handle.
type State string

const (
	StateIdle           State = "idle"
	StateConnecting     State = "connecting"
	StateOpen           State = "open"
	StateClosedClean    State = "closed-clean"
	StateClosedRetrying State = "closed-retrying"
	StateExhausted      State = "exhausted"
)

// Envelope is the wire unit of the feed.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: typ}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Payload: raw}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return &ProtocolError{Type: e.Type, Reason: "empty payload"}
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return &ProtocolError{Type: e.Type, Reason: "payload shape", Err: err}
	}
	return nil
}

// Handler receives every envelope of the current connection in order.
type Handler func(Envelope)

// StateChange is reported to OnStateChange callbacks. Attempt and Delay are
// set when a reconnect has been scheduled.
type StateChange struct {
	State   State
	Attempt int
	Delay   time.Duration
	Err     error
}

// Status is a point-in-time view of the handle.
type Status struct {
	State     State
	Attempts  int
	SessionID string
	Epoch     uint64
}

// TransportError wraps a failed dial or a broken connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("feed %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError describes an envelope that was dropped.
type ProtocolError struct {
	Type   string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("feed protocol: %s (%s): %v", e.Reason, e.Type, e.Err)
	}
	return fmt.Sprintf("feed protocol: %s (%s)", e.Reason, e.Type)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Metrics observes feed lifecycle and traffic.
type Metrics interface {
	FeedState(state State)
	ReconnectScheduled(attempt int, delay time.Duration)
	EnvelopeDelivered(typ string)
	EnvelopeDropped(reason string)
}

type nopMetrics struct{}

func (nopMetrics) FeedState(State)                       {}
func (nopMetrics) ReconnectScheduled(int, time.Duration) {}
func (nopMetrics) EnvelopeDelivered(string)              {}
func (nopMetrics) EnvelopeDropped(string)                {}
