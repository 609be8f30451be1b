package models

import (
	"encoding/json"
	"time"
)

// SignalType represents the type of WebRTC signaling message
type SignalType string

const (
	SignalTypeJoin      SignalType = "JOIN"
	SignalTypeLeave     SignalType = "LEAVE"
	SignalTypeOffer     SignalType = "OFFER"
	SignalTypeAnswer    SignalType = "ANSWER"
	SignalTypeCandidate SignalType = "ICE_CANDIDATE"
	SignalTypeMute      SignalType = "MUTE"
	SignalTypeUnmute    SignalType = "UNMUTE"
	SignalTypeVideoOn   SignalType = "VIDEO_ON"
	SignalTypeVideoOff  SignalType = "VIDEO_OFF"
	SignalTypeError     SignalType = "ERROR"
	SignalTypeHostLeft  SignalType = "HOST_LEFT"
)

// Valid reports whether t is a message type clients may send.
func (t SignalType) Valid() bool {
	switch t {
	case SignalTypeJoin, SignalTypeLeave, SignalTypeOffer, SignalTypeAnswer,
		SignalTypeCandidate, SignalTypeMute, SignalTypeUnmute,
		SignalTypeVideoOn, SignalTypeVideoOff, SignalTypeError:
		return true
	}
	return false
}

// SignalData is the payload of a signaling message. SDP and ICE descriptors
// are carried opaquely; only peers interpret them.
type SignalData struct {
	Offer       json.RawMessage `json:"offer,omitempty"`
	Answer      json.RawMessage `json:"answer,omitempty"`
	Candidate   json.RawMessage `json:"candidate,omitempty"`
	Error       string          `json:"error,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
	Role        Role            `json:"role,omitempty"`
}

// SignalMessage represents a WebRTC signaling message
type SignalMessage struct {
	ID        string     `json:"id"`
	Type      SignalType `json:"type"`
	RoomID    string     `json:"roomId"`
	FromID    string     `json:"fromId"`
	ToID      *string    `json:"toId"`
	Data      SignalData `json:"data"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
	Processed bool       `json:"processed"`
}

// IsBroadcast reports whether the message is addressed to the whole room.
func (m *SignalMessage) IsBroadcast() bool {
	return m.ToID == nil
}

// Expired reports whether the message outlived its TTL at now.
func (m *SignalMessage) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}

// SignalRequest is the body of POST /api/signal.
type SignalRequest struct {
	RoomID      string          `json:"roomId" binding:"required"`
	Type        SignalType      `json:"type" binding:"required"`
	FromID      string          `json:"fromId"`
	ToID        *string         `json:"toId"`
	Offer       json.RawMessage `json:"offer,omitempty"`
	Answer      json.RawMessage `json:"answer,omitempty"`
	Candidate   json.RawMessage `json:"candidate,omitempty"`
	Error       string          `json:"error,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
	Role        Role            `json:"role,omitempty"`
}

// Data extracts the message payload from the request.
func (r *SignalRequest) Data() SignalData {
	return SignalData{
		Offer:       r.Offer,
		Answer:      r.Answer,
		Candidate:   r.Candidate,
		Error:       r.Error,
		DisplayName: r.DisplayName,
		Role:        r.Role,
	}
}

// SignalAck echoes the accepted message back to the sender.
type SignalAck struct {
	RoomID string     `json:"roomId,omitempty"`
	FromID string     `json:"fromId"`
	Type   SignalType `json:"type"`
	Role   Role       `json:"role,omitempty"`
}

// SignalResponse is the response of POST /api/signal.
type SignalResponse struct {
	Success      bool          `json:"success"`
	Message      SignalAck     `json:"message"`
	Participants []Participant `json:"participants,omitempty"`
}

// SignalFrame is what a client writes on the push channel. The server fills
// in the room and sender from the connection.
type SignalFrame struct {
	Type SignalType `json:"type"`
	ToID *string    `json:"toId,omitempty"`
	Data SignalData `json:"data"`
}
