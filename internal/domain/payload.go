package domain

// SessionStartedPayload is broadcast when a group starts a session.
type SessionStartedPayload struct {
	SessionID   string `json:"session_id"`
	CreatedBy   string `json:"created_by"`
	MaxMatches  int    `json:"max_matches"`
	MemberCount int    `json:"member_count"`
}

// VoteProgressPayload reports right-vote momentum without voter identities.
type VoteProgressPayload struct {
	SessionID    string `json:"session_id"`
	RestaurantID string `json:"restaurant_id"`
	Votes        int    `json:"votes"`
	TotalMembers int    `json:"total_members"`
}

// MatchFoundPayload is broadcast once per match.
type MatchFoundPayload struct {
	SessionID  string     `json:"session_id"`
	MatchID    string     `json:"match_id"`
	Ordinal    int        `json:"ordinal"`
	Restaurant Restaurant `json:"restaurant"`
	Voters     []string   `json:"voters"`
}

// SessionCompletePayload carries all matches in insertion order.
type SessionCompletePayload struct {
	SessionID string  `json:"session_id"`
	Matches   []Match `json:"matches"`
}

// SessionCancelledPayload is broadcast when a session is cancelled.
type SessionCancelledPayload struct {
	SessionID   string `json:"session_id"`
	CancelledBy string `json:"cancelled_by"`
}

// PresencePayload lists members currently connected to the group room.
type PresencePayload struct {
	SessionID        string   `json:"session_id"`
	ConnectedMembers []string `json:"connected_members"`
	TotalMembers     int      `json:"total_members"`
}
