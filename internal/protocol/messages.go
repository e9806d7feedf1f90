// Package protocol defines the WebSocket messages exchanged with group members.
package protocol

import (
	"time"

	"github.com/xiaot623/dinematch/internal/domain"
)

// Message types from client to server
const (
	TypeJoinSession  = "join_session"
	TypeLeaveSession = "leave_session"
	TypeSwipe        = "swipe"
)

// Message types from server to client
const (
	TypeJoined   = "joined"
	TypeLeft     = "left"
	TypeSwipeAck = "swipe_ack"
	TypeError    = "error"
)

// Envelope holds the fields every client message carries.
type Envelope struct {
	Type      string `json:"type" validate:"required"`
	RequestID string `json:"request_id,omitempty" validate:"max=128"`
	SessionID string `json:"session_id" validate:"required,max=128"`
}

// JoinSessionMessage subscribes the connection to the session's group room.
type JoinSessionMessage struct {
	Envelope
}

// LeaveSessionMessage unsubscribes the connection.
type LeaveSessionMessage struct {
	Envelope
}

// SwipeMessage submits one swipe. The user comes from the connection.
type SwipeMessage struct {
	Envelope
	RestaurantID string `json:"restaurant_id" validate:"required,max=256"`
	Direction    string `json:"direction" validate:"required,oneof=left right"`
}

// BaseMessage contains common fields for server replies.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// NewBase stamps a reply of type t.
func NewBase(t, requestID, sessionID string) BaseMessage {
	return BaseMessage{Type: t, Ts: time.Now().UnixMilli(), RequestID: requestID, SessionID: sessionID}
}

// JoinedMessage confirms a join and carries the state needed to resync.
type JoinedMessage struct {
	BaseMessage
	State domain.SessionState `json:"state"`
}

// SwipeAckMessage acknowledges a durably recorded swipe.
type SwipeAckMessage struct {
	BaseMessage
	RestaurantID string `json:"restaurant_id"`
	Direction    string `json:"direction"`
	Duplicate    bool   `json:"duplicate"`
	SequenceNo   int64  `json:"sequence_no"`
}

// ErrorMessage reports a failed request to its sender only.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventMessage is a group broadcast. Data is one of the domain payloads.
type EventMessage struct {
	Type string      `json:"type"`
	Ts   int64       `json:"ts"`
	Data interface{} `json:"data"`
}

// NewEvent wraps a domain payload for broadcast.
func NewEvent(t domain.EventType, data interface{}) EventMessage {
	return EventMessage{Type: string(t), Ts: time.Now().UnixMilli(), Data: data}
}

// Error codes not covered by domain errors
const (
	ErrorCodeInvalidMessage  = "invalid_message"
	ErrorCodeUnauthorized    = "unauthorized"
	ErrorCodeSessionRequired = "session_required"
)
