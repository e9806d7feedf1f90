package ledger

import (
	"context"
	"sync"

	"github.com/xiaot623/dinematch/internal/domain"
)

// sessionTally is the in-memory tally of one session.
type sessionTally struct {
	mu     sync.Mutex
	loaded bool
	votes  map[string][]Vote
}

func (t *sessionTally) add(restaurantID string, vote Vote) []string {
	for _, v := range t.votes[restaurantID] {
		if v.UserID == vote.UserID {
			return userIDs(t.votes[restaurantID])
		}
	}
	t.votes[restaurantID] = append(t.votes[restaurantID], vote)
	sortVotes(t.votes[restaurantID])
	return userIDs(t.votes[restaurantID])
}

// Memory is a process-local Ledger. Sessions are independent: each has its own lock.
type Memory struct {
	sessions sync.Map // session_id -> *sessionTally
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) tally(sessionID string) *sessionTally {
	t, _ := m.sessions.LoadOrStore(sessionID, &sessionTally{votes: make(map[string][]Vote)})
	return t.(*sessionTally)
}

// Loaded implements Ledger.
func (m *Memory) Loaded(ctx context.Context, sessionID string) (bool, error) {
	v, ok := m.sessions.Load(sessionID)
	if !ok {
		return false, nil
	}
	t := v.(*sessionTally)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loaded, nil
}

// Hydrate implements Ledger.
func (m *Memory) Hydrate(ctx context.Context, sessionID string, events []domain.SwipeEvent) error {
	t := m.tally(sessionID)
	t.mu.Lock()
	defer t.mu.Unlock()

	for restaurantID, votes := range Fold(events) {
		for _, v := range votes {
			t.add(restaurantID, v)
		}
	}
	t.loaded = true
	return nil
}

// AddVote implements Ledger.
func (m *Memory) AddVote(ctx context.Context, sessionID, restaurantID string, vote Vote) ([]string, error) {
	t := m.tally(sessionID)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.add(restaurantID, vote), nil
}

// Voters implements Ledger.
func (m *Memory) Voters(ctx context.Context, sessionID, restaurantID string) ([]string, error) {
	v, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, nil
	}
	t := v.(*sessionTally)
	t.mu.Lock()
	defer t.mu.Unlock()
	return userIDs(t.votes[restaurantID]), nil
}

// Tallies implements Ledger.
func (m *Memory) Tallies(ctx context.Context, sessionID string) (map[string][]string, error) {
	out := make(map[string][]string)
	v, ok := m.sessions.Load(sessionID)
	if !ok {
		return out, nil
	}
	t := v.(*sessionTally)
	t.mu.Lock()
	defer t.mu.Unlock()
	for restaurantID, votes := range t.votes {
		out[restaurantID] = userIDs(votes)
	}
	return out, nil
}

// Evict implements Ledger.
func (m *Memory) Evict(ctx context.Context, sessionID string) error {
	m.sessions.Delete(sessionID)
	return nil
}
