// Package codec implements the Nostr relay wire protocol (NIP-01 and the
// NIP-42 AUTH extension): encoding outbound client messages and decoding
// inbound relay messages, tolerant of malformed or unexpected frames (spec
// §4.1, §6.1). Grounded on the envelope dispatch loop in the teacher's
// pkg/protocol/ws client, generalized from its hand-rolled envelope package
// tree into a single encode/decode pair operating on encoding/json.
package codec

import (
	"encoding/json"

	"nostrengine.dev/errorf"
	"nostrengine.dev/event"
	"nostrengine.dev/filter"
)

// Frame type labels, the first element of every NIP-01 JSON array message.
const (
	TypeEvent  = "EVENT"
	TypeReq    = "REQ"
	TypeClose  = "CLOSE"
	TypeOK     = "OK"
	TypeEose   = "EOSE"
	TypeClosed = "CLOSED"
	TypeNotice = "NOTICE"
	TypeAuth   = "AUTH"
	TypeCount  = "COUNT"
)

// ClientMessage is anything the host can encode and send to a relay.
type ClientMessage interface {
	ClientFrame() ([]byte, error)
}

// EventMsg publishes an event: ["EVENT", <event>].
type EventMsg struct{ Event *event.E }

func (m *EventMsg) ClientFrame() ([]byte, error) {
	return marshalArray(TypeEvent, m.Event)
}

// ReqMsg opens a subscription: ["REQ", <sub_id>, <filter>...].
type ReqMsg struct {
	SubID   string
	Filters []*filter.F
}

func (m *ReqMsg) ClientFrame() ([]byte, error) {
	parts := make([]any, 0, len(m.Filters)+2)
	parts = append(parts, TypeReq, m.SubID)
	for _, f := range m.Filters {
		parts = append(parts, f)
	}
	return json.Marshal(parts)
}

// CloseMsg closes a subscription: ["CLOSE", <sub_id>].
type CloseMsg struct{ SubID string }

func (m *CloseMsg) ClientFrame() ([]byte, error) {
	return marshalArray(TypeClose, m.SubID)
}

// AuthResponseMsg answers a relay's NIP-42 challenge: ["AUTH", <event>].
type AuthResponseMsg struct{ Event *event.E }

func (m *AuthResponseMsg) ClientFrame() ([]byte, error) {
	return marshalArray(TypeAuth, m.Event)
}

func marshalArray(frameType string, rest ...any) ([]byte, error) {
	parts := make([]any, 0, len(rest)+1)
	parts = append(parts, frameType)
	parts = append(parts, rest...)
	return json.Marshal(parts)
}

// EncodeClient renders a ClientMessage to the bytes sent on the wire.
func EncodeClient(m ClientMessage) ([]byte, error) {
	b, err := m.ClientFrame()
	if err != nil {
		return nil, errorf.C(errorf.InvalidFrame, "encode client frame: %v", err)
	}
	return b, nil
}

// RelayMessage is anything a relay can send back, tagged by its concrete
// type so callers can type-switch.
type RelayMessage interface{ relayFrame() }

// EventResult is ["EVENT", <sub_id>, <event>].
type EventResult struct {
	SubID string
	Event *event.E
}

func (*EventResult) relayFrame() {}

// OKResult is ["OK", <event_id>, <accepted>, <message>].
type OKResult struct {
	EventID  string
	Accepted bool
	Message  string
}

func (*OKResult) relayFrame() {}

// EoseResult is ["EOSE", <sub_id>].
type EoseResult struct{ SubID string }

func (*EoseResult) relayFrame() {}

// ClosedResult is ["CLOSED", <sub_id>, <message>].
type ClosedResult struct {
	SubID   string
	Message string
}

func (*ClosedResult) relayFrame() {}

// NoticeResult is ["NOTICE", <message>].
type NoticeResult struct{ Message string }

func (*NoticeResult) relayFrame() {}

// AuthChallenge is ["AUTH", <challenge>].
type AuthChallenge struct{ Challenge string }

func (*AuthChallenge) relayFrame() {}

// CountResult is ["COUNT", <sub_id>, {"count": n}].
type CountResult struct {
	SubID string
	Count int
}

func (*CountResult) relayFrame() {}

// DecodeRelay parses one relay wire frame. Unrecognized or malformed frames
// return an InvalidFrame/UnexpectedFrame error rather than panicking, per
// the codec's tolerant-parsing requirement (spec §4.1).
func DecodeRelay(b []byte) (RelayMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return nil, errorf.C(errorf.InvalidFrame, "not a json array: %v", err)
	}
	if len(parts) == 0 {
		return nil, errorf.C(errorf.InvalidFrame, "empty frame")
	}
	var frameType string
	if err := json.Unmarshal(parts[0], &frameType); err != nil {
		return nil, errorf.C(errorf.InvalidFrame, "frame type not a string: %v", err)
	}
	switch frameType {
	case TypeEvent:
		if len(parts) < 3 {
			return nil, errorf.C(errorf.InvalidFrame, "EVENT frame too short")
		}
		var subID string
		if err := json.Unmarshal(parts[1], &subID); err != nil {
			return nil, errorf.C(errorf.InvalidFrame, "EVENT sub id: %v", err)
		}
		ev := event.New()
		if _, err := ev.Unmarshal(parts[2]); err != nil {
			return nil, err
		}
		return &EventResult{SubID: subID, Event: ev}, nil
	case TypeOK:
		if len(parts) < 4 {
			return nil, errorf.C(errorf.InvalidFrame, "OK frame too short")
		}
		var id string
		var accepted bool
		var msg string
		if err := json.Unmarshal(parts[1], &id); err != nil {
			return nil, errorf.C(errorf.InvalidFrame, "OK event id: %v", err)
		}
		if err := json.Unmarshal(parts[2], &accepted); err != nil {
			return nil, errorf.C(errorf.InvalidFrame, "OK accepted flag: %v", err)
		}
		_ = json.Unmarshal(parts[3], &msg)
		return &OKResult{EventID: id, Accepted: accepted, Message: msg}, nil
	case TypeEose:
		if len(parts) < 2 {
			return nil, errorf.C(errorf.InvalidFrame, "EOSE frame too short")
		}
		var subID string
		if err := json.Unmarshal(parts[1], &subID); err != nil {
			return nil, errorf.C(errorf.InvalidFrame, "EOSE sub id: %v", err)
		}
		return &EoseResult{SubID: subID}, nil
	case TypeClosed:
		if len(parts) < 2 {
			return nil, errorf.C(errorf.InvalidFrame, "CLOSED frame too short")
		}
		var subID, msg string
		if err := json.Unmarshal(parts[1], &subID); err != nil {
			return nil, errorf.C(errorf.InvalidFrame, "CLOSED sub id: %v", err)
		}
		if len(parts) > 2 {
			_ = json.Unmarshal(parts[2], &msg)
		}
		return &ClosedResult{SubID: subID, Message: msg}, nil
	case TypeNotice:
		if len(parts) < 2 {
			return nil, errorf.C(errorf.InvalidFrame, "NOTICE frame too short")
		}
		var msg string
		_ = json.Unmarshal(parts[1], &msg)
		return &NoticeResult{Message: msg}, nil
	case TypeAuth:
		if len(parts) < 2 {
			return nil, errorf.C(errorf.InvalidFrame, "AUTH frame too short")
		}
		var challenge string
		if err := json.Unmarshal(parts[1], &challenge); err == nil {
			return &AuthChallenge{Challenge: challenge}, nil
		}
		// some relays echo ["AUTH", <event>] style acks; treat as a no-op
		// challenge rather than erroring.
		return &AuthChallenge{}, nil
	case TypeCount:
		if len(parts) < 3 {
			return nil, errorf.C(errorf.InvalidFrame, "COUNT frame too short")
		}
		var subID string
		if err := json.Unmarshal(parts[1], &subID); err != nil {
			return nil, errorf.C(errorf.InvalidFrame, "COUNT sub id: %v", err)
		}
		var body struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(parts[2], &body); err != nil {
			return nil, errorf.C(errorf.InvalidFrame, "COUNT body: %v", err)
		}
		return &CountResult{SubID: subID, Count: body.Count}, nil
	default:
		return nil, errorf.C(errorf.UnexpectedFrame, "unknown frame type %q", frameType)
	}
}
