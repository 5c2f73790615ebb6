package log

import (
	"time"

	"github.com/m2mlink/m2m-go/pkg/wire"
)

// Event is one protocol log record. Exactly one of Frame, Message,
// StateChange and Error is set. Integer CBOR keys keep .mlog files small;
// key 13 is retired.
type Event struct {
	Timestamp    time.Time `cbor:"1,keyasint"`
	ConnectionID string    `cbor:"2,keyasint"`
	Direction    Direction `cbor:"3,keyasint"`
	Layer        Layer     `cbor:"4,keyasint"`
	Category     Category  `cbor:"5,keyasint"`
	LocalRole    Role      `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer: an IP:port or a broker topic.
	RemoteAddr string `cbor:"7,keyasint,omitempty"`
	Endpoint   string `cbor:"8,keyasint,omitempty"`
	// Location is the registration handle once registered.
	Location string `cbor:"9,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

var directionNames = [...]string{
	DirectionIn:  "IN",
	DirectionOut: "OUT",
}

// String returns the name used in log output.
func (d Direction) String() string { return enumName(directionNames[:], int(d)) }

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the message encoding layer (decoded CBOR).
	LayerWire Layer = 1
	// LayerRegistration is the registration session layer.
	LayerRegistration Layer = 2
)

var layerNames = [...]string{
	LayerTransport:    "TRANSPORT",
	LayerWire:         "WIRE",
	LayerRegistration: "REGISTRATION",
}

// String returns the name used in log output.
func (l Layer) String() string { return enumName(layerNames[:], int(l)) }

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message.
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

var categoryNames = [...]string{
	CategoryMessage: "MESSAGE",
	CategoryState:   "STATE",
	CategoryError:   "ERROR",
}

// String returns the name used in log output.
func (c Category) String() string { return enumName(categoryNames[:], int(c)) }

// Role indicates whether the local endpoint is the device client or the
// management server.
type Role uint8

const (
	// RoleClient is the device client.
	RoleClient Role = 0
	// RoleServer is the management server.
	RoleServer Role = 1
)

var roleNames = [...]string{
	RoleClient: "CLIENT",
	RoleServer: "SERVER",
}

// String returns the name used in log output.
func (r Role) String() string { return enumName(roleNames[:], int(r)) }

// FrameEvent is a transport layer frame. Size counts the length prefix on
// stream connections.
type FrameEvent struct {
	Size      int    `cbor:"1,keyasint"`
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Truncated bool   `cbor:"3,keyasint,omitempty"`
}

// MaxFrameData is the number of frame bytes kept in a FrameEvent.
const MaxFrameData = 256

// NewFrameEvent builds a FrameEvent, truncating data to MaxFrameData.
func NewFrameEvent(size int, data []byte) *FrameEvent {
	fe := &FrameEvent{Size: size}
	if len(data) > MaxFrameData {
		fe.Data = append([]byte(nil), data[:MaxFrameData]...)
		fe.Truncated = true
		return fe
	}
	fe.Data = append([]byte(nil), data...)
	return fe
}

// MessageEvent is a decoded message. Requests carry Operation and Path,
// responses Status and, when known, the time since the request was sent.
type MessageEvent struct {
	Type           MessageType     `cbor:"1,keyasint"`
	MessageID      uint32          `cbor:"2,keyasint"`
	Operation      *wire.Operation `cbor:"3,keyasint,omitempty"`
	Path           string          `cbor:"4,keyasint,omitempty"`
	Status         *wire.Status    `cbor:"6,keyasint,omitempty"`
	Payload        []byte          `cbor:"8,keyasint,omitempty"`
	ProcessingTime *time.Duration  `cbor:"9,keyasint,omitempty"`
}

// MessageType distinguishes request and response.
type MessageType uint8

const (
	// MessageTypeRequest indicates a request message.
	MessageTypeRequest MessageType = 0
	// MessageTypeResponse indicates a response message.
	MessageTypeResponse MessageType = 1
)

var messageTypeNames = [...]string{
	MessageTypeRequest:  "REQUEST",
	MessageTypeResponse: "RESPONSE",
}

// String returns the name used in log output.
func (m MessageType) String() string { return enumName(messageTypeNames[:], int(m)) }

// RequestEvent builds the MessageEvent for a request.
func RequestEvent(req *wire.Request) *MessageEvent {
	op := req.Operation
	me := &MessageEvent{
		Type:      MessageTypeRequest,
		MessageID: req.MessageID,
		Operation: &op,
		Payload:   req.Payload,
	}
	if req.Path != nil {
		me.Path = req.Path.String()
	}
	return me
}

// ResponseEvent builds the MessageEvent for a response.
// A zero elapsed time is omitted.
func ResponseEvent(resp *wire.Response, elapsed time.Duration) *MessageEvent {
	status := resp.Status
	me := &MessageEvent{
		Type:      MessageTypeResponse,
		MessageID: resp.MessageID,
		Status:    &status,
		Payload:   resp.Payload,
	}
	if elapsed > 0 {
		me.ProcessingTime = &elapsed
	}
	return me
}

// StateChangeEvent records a lifecycle transition of a connection or a
// registration session.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityRegistration indicates a registration session state change.
	StateEntityRegistration StateEntity = 1
)

var stateEntityNames = [...]string{
	StateEntityConnection:   "CONNECTION",
	StateEntityRegistration: "REGISTRATION",
}

// String returns the name used in log output.
func (e StateEntity) String() string { return enumName(stateEntityNames[:], int(e)) }

// ErrorEventData is a failure at any layer. Context names the operation
// that failed; Code carries a wire status when there is one.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
	Code    *int   `cbor:"3,keyasint,omitempty"`
	Context string `cbor:"4,keyasint,omitempty"`
}

// enumName returns names[i], or "UNKNOWN" when i has no name.
func enumName(names []string, i int) string {
	if i < 0 || i >= len(names) || names[i] == "" {
		return "UNKNOWN"
	}
	return names[i]
}
