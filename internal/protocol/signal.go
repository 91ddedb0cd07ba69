// Package protocol defines the relay envelope exchanged with the signaling
// server and the control messages exchanged between peers.
package protocol

import (
	json "github.com/goccy/go-json"

	"github.com/dkeye/Cowatch/internal/domain"
)

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	TypeJoin                MessageType = "join"
	TypeParticipantJoined   MessageType = "participant_joined"
	TypeAccept              MessageType = "accept"
	TypeOffer               MessageType = "offer"
	TypeAnswer              MessageType = "answer"
	TypeNegotiate           MessageType = "negotiate"
	TypeNegotiated          MessageType = "negotiated"
	TypeNegotiationComplete MessageType = "negotiation_complete"
	TypeParticipantLeft     MessageType = "participant_left"
	TypeJoinRejected        MessageType = "join_rejected"
	TypePing                MessageType = "ping"
	TypePong                MessageType = "pong"
	TypeError               MessageType = "error"
)

// Rejection reasons carried in JoinRejected.Error.
const (
	RejectFull    = "full"
	RejectInvalid = "invalid"
	RejectLimited = "rate_limited"
)

// Message is the JSON structure exchanged over the WebSocket during signaling.
// Offer and Answer are opaque to the relay.
type Message struct {
	Type      MessageType          `json:"type"`
	SessionID domain.SessionID     `json:"session_id,omitempty"`
	Name      string               `json:"name,omitempty"`
	ID        domain.ParticipantID `json:"id,omitempty"`
	To        domain.ParticipantID `json:"to,omitempty"`
	From      domain.ParticipantID `json:"from,omitempty"`
	Offer     json.RawMessage      `json:"offer,omitempty"`
	Answer    json.RawMessage      `json:"answer,omitempty"`
	Error     string               `json:"error,omitempty"`
	Message   string               `json:"message,omitempty"`
}

func Encode(m *Message) ([]byte, error) { return json.Marshal(m) }

func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func Join(sid domain.SessionID, name string) *Message {
	return &Message{Type: TypeJoin, SessionID: sid, Name: name}
}

func ParticipantJoined(p *domain.Participant) *Message {
	return &Message{Type: TypeParticipantJoined, Name: p.Name, ID: p.ID, SessionID: p.SessionID}
}

func ParticipantLeft(p *domain.Participant) *Message {
	return &Message{Type: TypeParticipantLeft, ID: p.ID, Name: p.Name}
}

func JoinRejected(reason, text string) *Message {
	return &Message{Type: TypeJoinRejected, Error: reason, Message: text}
}

func ErrorMessage(text string) *Message {
	return &Message{Type: TypeError, Error: text}
}
