package models

import (
	"strings"
	"time"
)

// Role of a participant within a room.
type Role string

const (
	RoleHost    Role = "HOST"
	RoleGuest   Role = "GUEST"
	RoleWatcher Role = "WATCHER"
)

// ParseRole normalizes a client supplied role, defaulting to GUEST.
func ParseRole(s string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleHost:
		return RoleHost
	case RoleWatcher:
		return RoleWatcher
	default:
		return RoleGuest
	}
}

// RoomStatus is the lifecycle status of a room.
type RoomStatus string

const (
	RoomStatusActive RoomStatus = "ACTIVE"
	RoomStatusEnded  RoomStatus = "ENDED"
)

// Room stores information about a room
type Room struct {
	ID              string     `json:"id"`
	Code            string     `json:"code"`   // Short, shareable room code (e.g., "ABCD23")
	Title           string     `json:"title"`
	HostID          string     `json:"hostId"` // Account that created or first hosted the room
	Status          RoomStatus `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastActivity    time.Time  `json:"lastActivity"`
	MaxParticipants int        `json:"maxParticipants"`
}

// Participant is one session of an account inside a room.
type Participant struct {
	ID          string     `json:"id"`
	RoomID      string     `json:"roomId"`
	AccountID   string     `json:"accountId"`
	DisplayName string     `json:"displayName"`
	Role        Role       `json:"role"`
	JoinedAt    time.Time  `json:"joinedAt"`
	LeftAt      *time.Time `json:"leftAt"`
	LastSeen    time.Time  `json:"lastSeen"`
}

// Active reports whether the participant has not left.
func (p *Participant) Active() bool {
	return p.LeftAt == nil
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	Title           string `json:"title"`
	MaxParticipants int    `json:"maxParticipants" binding:"omitempty,min=2,max=16"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

// JoinRoomRequest is the body of POST /api/rooms/:roomId/join
type JoinRoomRequest struct {
	DisplayName string `json:"displayName" binding:"required"`
	Role        string `json:"role"`
	AccountID   string `json:"accountId"`
}

// JoinRoomResponse is returned after a successful join.
type JoinRoomResponse struct {
	RoomID        string        `json:"roomId"`
	ParticipantID string        `json:"participantId"`
	Role          Role          `json:"role"`
	Participants  []Participant `json:"participants"`
}

// LeaveRoomRequest is the body of POST /api/rooms/:roomId/leave
type LeaveRoomRequest struct {
	ParticipantID string `json:"participantId" binding:"required"`
}

// RoomInfo is the public view of a room.
type RoomInfo struct {
	Room
	Participants []Participant `json:"participants"`
	ActiveCount  int           `json:"activeCount"`
}
