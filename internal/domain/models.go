package domain

import (
	"encoding/json"
	"time"
)

// Constraints are the search constraints of a session. The engine never interprets them.
type Constraints struct {
	PriceMin int      `json:"price_min,omitempty"`
	PriceMax int      `json:"price_max,omitempty"`
	RadiusM  int      `json:"radius_m,omitempty"`
	Cuisines []string `json:"cuisines,omitempty"`
}

// Session is one swiping round for a group.
type Session struct {
	SessionID         string        `json:"session_id"`
	GroupID           string        `json:"group_id"`
	Status            SessionStatus `json:"status"`
	CreatedBy         string        `json:"created_by"`
	MaxMatches        int           `json:"max_matches"`
	CurrentMatchCount int           `json:"current_match_count"`
	Constraints       Constraints   `json:"constraints"`
	CreatedAt         time.Time     `json:"created_at"`
	EndedAt           *time.Time    `json:"ended_at,omitempty"`
}

// Group holds a group's settings. A group exists once its roster has an entry.
type Group struct {
	GroupID    string    `json:"group_id"`
	MaxMembers int       `json:"max_members"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// GroupMember is one entry of a group roster.
type GroupMember struct {
	GroupID  string     `json:"group_id"`
	UserID   string     `json:"user_id"`
	Role     MemberRole `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
}

// Membership is the voter set captured when a session started.
type Membership struct {
	SessionID string   `json:"session_id"`
	UserIDs   []string `json:"user_ids"`
}

// Contains reports whether userID is an eligible voter.
func (m Membership) Contains(userID string) bool {
	for _, id := range m.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Size returns the number of eligible voters.
func (m Membership) Size() int {
	return len(m.UserIDs)
}

// SwipeEvent is an immutable swipe fact.
type SwipeEvent struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	RestaurantID string    `json:"restaurant_id"`
	Direction    Direction `json:"direction"`
	SequenceNo   int64     `json:"sequence_no"`
	CreatedAt    time.Time `json:"created_at"`
}

// Match is unanimous agreement on one restaurant within a session.
type Match struct {
	MatchID      string    `json:"match_id"`
	SessionID    string    `json:"session_id"`
	RestaurantID string    `json:"restaurant_id"`
	Ordinal      int       `json:"ordinal"`
	Voters       []string  `json:"voters"`
	CreatedAt    time.Time `json:"created_at"`
}

// Restaurant is a candidate in a session's queue. Payload is opaque to the core.
type Restaurant struct {
	RestaurantID string          `json:"restaurant_id"`
	Name         string          `json:"name,omitempty"`
	Position     int             `json:"position"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// CandidateQueue is the ordered restaurant queue for a session.
type CandidateQueue struct {
	SessionID   string       `json:"session_id"`
	Restaurants []Restaurant `json:"restaurants"`
	Exhausted   bool         `json:"exhausted"`
}

// SessionState is the resynchronization view of a session.
type SessionState struct {
	Session     Session       `json:"session"`
	Status      SessionStatus `json:"status"`
	Matches     []Match       `json:"matches"`
	MemberCount int           `json:"member_count"`
}
