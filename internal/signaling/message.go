package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound events delivered to the receiver.
const (
	EventSenderList         = "sender-list"
	EventShareStarted       = "sender-share-started"
	EventShareStopped       = "sender-share-stopped"
	EventSignal             = "signal"
	EventSenderDisconnected = "sender-disconnected"
	EventSenderLeft         = "sender-left"
	EventRemoveSender       = "remove-sender"
	EventRoomDeleted        = "room-deleted"
)

// Outbound events and the events only senders see.
const (
	EventJoinRoom     = "join-room"
	EventShareRequest = "share-request"
	EventDelRoom      = "del-room"

	EventSenderShareStarted = "share-started"
	EventJoinedRoom         = "joined-room"
)

// Pseudo events raised by the client itself when the transport changes state.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

const (
	RoleReceiver = "receiver"
	RoleSender   = "sender"
)

const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
	SignalBye       = "bye"
	SignalHangup    = "hangup"
	SignalClose     = "close"
)

var ErrMissingSenderID = errors.New("sender reference carries no id")

// Envelope is the frame exchanged over the websocket. A request that wants
// an acknowledgement carries ID; the reply carries the same value in Ack.
type Envelope struct {
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	ID    string          `json:"id,omitempty"`
	Ack   string          `json:"ack,omitempty"`
}

func NewEnvelope(event string, payload interface{}) (*Envelope, error) {
	env := &Envelope{Event: event}
	if payload == nil {
		return env, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	env.Data = data

	return env, nil
}

type JoinRoom struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	Room string `json:"room,omitempty"`
}

type JoinAck struct {
	Success bool   `json:"success"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
}

type SenderEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ShareRequest struct {
	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`
}

type DelRoom struct {
	Role string `json:"role"`
}

type Signal struct {
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewSignal(kind, to string, payload interface{}) (Signal, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Signal{}, fmt.Errorf("marshal %s signal: %w", kind, err)
	}

	return Signal{Type: kind, To: to, Payload: data}, nil
}

type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type CandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// SenderRef is how the server points at a sender. Depending on the event the
// id arrives as "id", "senderId", "from" or as a bare JSON string.
type SenderRef struct {
	ID       string `json:"id"`
	SenderID string `json:"senderId"`
	From     string `json:"from"`
	Name     string `json:"name"`
}

func (r SenderRef) Resolve() string {
	switch {
	case r.ID != "":
		return r.ID
	case r.SenderID != "":
		return r.SenderID
	default:
		return r.From
	}
}

// ParseSenderRef accepts either an object reference or a bare id string.
func ParseSenderRef(data json.RawMessage) (SenderRef, error) {
	var ref SenderRef

	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		ref.ID = bare
	} else if err := json.Unmarshal(data, &ref); err != nil {
		return ref, fmt.Errorf("decode sender reference: %w", err)
	}

	if ref.Resolve() == "" {
		return ref, ErrMissingSenderID
	}

	return ref, nil
}
