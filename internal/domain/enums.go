// Package domain defines the core domain models for group swiping sessions.
package domain

// SessionStatus represents the status of a swiping session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusCancelled
}

// Direction is the direction of a swipe.
type Direction string

const (
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionLeft || d == DirectionRight
}

// MemberRole is a user's role within a group roster.
type MemberRole string

const (
	MemberRoleMember MemberRole = "member"
	MemberRoleAdmin  MemberRole = "admin"
)

// EventType represents the type of an event pushed to group members.
type EventType string

const (
	EventTypeSessionStarted   EventType = "session_started"
	EventTypeVoteProgress     EventType = "vote_progress"
	EventTypeMatchFound       EventType = "match_found"
	EventTypeSessionComplete  EventType = "session_complete"
	EventTypeSessionCancelled EventType = "session_cancelled"
	EventTypePresence         EventType = "presence"
)

// DefaultMaxMatches is the match target used when a session does not set one.
const DefaultMaxMatches = 3

// MinConsensusMembers is the smallest membership that can produce a match.
const MinConsensusMembers = 2

// Group size bounds. DefaultMaxMembers applies until an admin changes it.
const (
	DefaultMaxMembers = 8
	MaxGroupMembers   = 20
)
