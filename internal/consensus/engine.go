// Package consensus applies swipes and detects unanimous agreement.
package consensus

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/xiaot623/dinematch/internal/domain"
	"github.com/xiaot623/dinematch/internal/ledger"
	"github.com/xiaot623/dinematch/internal/lifecycle"
	"github.com/xiaot623/dinematch/internal/repository"
	"github.com/xiaot623/dinematch/internal/retry"
)

// MembershipSource provides session voter snapshots.
type MembershipSource interface {
	Membership(ctx context.Context, sessionID string) (*domain.Membership, error)
}

// MatchRecorder persists matches and completes sessions.
type MatchRecorder interface {
	RecordMatch(ctx context.Context, sessionID, restaurantID string, voters []string) (*lifecycle.MatchOutcome, error)
	Settle(ctx context.Context, session *domain.Session) (*lifecycle.Completion, error)
}

// Result describes what applying one swipe did.
type Result struct {
	// Accepted is true when the swipe is durably recorded, including by an
	// earlier delivery of the same swipe.
	Accepted bool
	// Duplicate is true when the triple was already recorded.
	Duplicate bool
	// IsNewVote is true when this call added a right vote to the tally.
	IsNewVote bool
	// MatchFormed is true only for the call whose swipe created the match.
	MatchFormed bool

	Event       domain.SwipeEvent
	Voters      []string
	MemberCount int
	// Match is set when the restaurant is matched, whether or not this call formed it.
	Match *domain.Match
	// Completion is set when this call moved the session to completed.
	Completion *lifecycle.Completion
	// Reconciled lists matches formed while rebuilding the tally.
	Reconciled []lifecycle.MatchOutcome
}

// Engine applies swipes one at a time per (session, restaurant). Different
// restaurants and sessions proceed in parallel.
type Engine struct {
	store       repository.Store
	ledger      ledger.Ledger
	memberships MembershipSource
	matches     MatchRecorder
	retry       retry.Policy
	logger      *zap.Logger
	locks       *keyedMutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetry overrides the store retry policy.
func WithRetry(p retry.Policy) Option {
	return func(e *Engine) {
		e.retry = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an Engine.
func NewEngine(store repository.Store, tally ledger.Ledger, memberships MembershipSource, matches MatchRecorder, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		ledger:      tally,
		memberships: memberships,
		matches:     matches,
		retry:       repository.DefaultRetry,
		logger:      zap.NewNop(),
		locks:       newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApplySwipe records a swipe and, for right swipes, checks for unanimity.
// When the swipe itself fails after reconciliation formed matches or completed
// the session, the error comes with a Result holding only Reconciled and
// Completion.
//
// A resubmitted triple is not an error: the result has Duplicate set and the
// stored swipe is re-applied to the tally so an acknowledgment lost after a
// durable write cannot leave a match unformed.
func (e *Engine) ApplySwipe(ctx context.Context, sessionID, userID, restaurantID string, direction domain.Direction) (*Result, error) {
	if !direction.Valid() {
		return nil, domain.ErrInvalidDirection
	}

	membership, err := e.memberships.Membership(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !membership.Contains(userID) {
		return nil, domain.ErrNotAMember
	}

	session, err := retry.Do(ctx, e.retry, func() (*domain.Session, error) {
		return e.store.GetSession(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrNotFound
	}
	if session.Status != domain.SessionStatusActive {
		return nil, domain.ErrSessionNotActive
	}

	reconciled, settled, err := e.ensureHydrated(ctx, session, membership)
	if err != nil {
		return nil, err
	}
	if settled != nil {
		// The log already held enough matches; the session is now completed.
		return &Result{MemberCount: membership.Size(), Completion: settled}, domain.ErrSessionNotActive
	}

	unlock := e.locks.Lock(tallyKey(sessionID, restaurantID))
	defer unlock()

	res := &Result{MemberCount: membership.Size(), Reconciled: reconciled}
	event := domain.SwipeEvent{
		SessionID:    sessionID,
		UserID:       userID,
		RestaurantID: restaurantID,
		Direction:    direction,
	}
	err = retry.Exec(ctx, e.retry, func() error {
		return e.store.AppendSwipeEvent(ctx, &event)
	})
	switch {
	case errors.Is(err, domain.ErrConflict):
		stored, err := retry.Do(ctx, e.retry, func() (*domain.SwipeEvent, error) {
			return e.store.GetSwipeEvent(ctx, sessionID, userID, restaurantID)
		})
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, domain.ErrStoreUnavailable
		}
		event = *stored
		res.Duplicate = true
	case err != nil:
		if len(reconciled) > 0 {
			// Matches formed during reconciliation still need announcing.
			return &Result{MemberCount: res.MemberCount, Reconciled: reconciled}, err
		}
		return nil, err
	}
	res.Accepted = true
	res.Event = event

	if event.Direction != domain.DirectionRight {
		return res, nil
	}

	before, err := e.ledger.Voters(ctx, sessionID, restaurantID)
	if err != nil {
		return nil, err
	}
	voters, err := e.ledger.AddVote(ctx, sessionID, restaurantID, ledger.Vote{UserID: userID, SequenceNo: event.SequenceNo})
	if err != nil {
		return nil, err
	}
	res.Voters = voters
	res.IsNewVote = len(voters) > len(before)

	if !Unanimous(voters, membership) {
		return res, nil
	}

	outcome, err := e.matches.RecordMatch(ctx, sessionID, restaurantID, voters)
	if errors.Is(err, domain.ErrSessionNotActive) {
		// The session filled up or ended between the append and the match.
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	res.Match = &outcome.Match
	res.MatchFormed = outcome.Created
	if outcome.Completed {
		res.Completion = &lifecycle.Completion{Session: outcome.Session, Matches: outcome.Matches}
	}
	return res, nil
}

// Unanimous reports whether voters is exactly the membership set. Sessions
// with fewer than two voters never reach consensus.
func Unanimous(voters []string, membership *domain.Membership) bool {
	if membership.Size() < domain.MinConsensusMembers || len(voters) != membership.Size() {
		return false
	}
	seen := make(map[string]struct{}, len(voters))
	for _, id := range voters {
		if !membership.Contains(id) {
			return false
		}
		seen[id] = struct{}{}
	}
	return len(seen) == membership.Size()
}

// ensureHydrated rebuilds the session's tally from the swipe log the first
// time this process sees the session, then forms any match the log already
// proves but the store lacks. A session found already at its match target is
// completed and its Completion returned instead.
func (e *Engine) ensureHydrated(ctx context.Context, session *domain.Session, membership *domain.Membership) ([]lifecycle.MatchOutcome, *lifecycle.Completion, error) {
	sessionID := session.SessionID
	loaded, err := e.ledger.Loaded(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if loaded {
		return nil, nil, nil
	}

	unlock := e.locks.Lock(hydrateKey(sessionID))
	defer unlock()

	if loaded, err := e.ledger.Loaded(ctx, sessionID); err != nil || loaded {
		return nil, nil, err
	}

	completion, err := e.matches.Settle(ctx, session)
	if err != nil {
		return nil, nil, err
	}
	if completion != nil {
		e.logger.Info("completed saturated session", zap.String("session_id", sessionID))
		return nil, completion, nil
	}

	events, err := retry.Do(ctx, e.retry, func() ([]domain.SwipeEvent, error) {
		return e.store.ListSwipeEvents(ctx, sessionID)
	})
	if err != nil {
		return nil, nil, err
	}
	if err := e.ledger.Hydrate(ctx, sessionID, events); err != nil {
		return nil, nil, err
	}
	e.logger.Debug("tally hydrated", zap.String("session_id", sessionID), zap.Int("events", len(events)))

	reconciled, err := e.reconcile(ctx, sessionID, membership)
	if err != nil {
		return nil, nil, err
	}
	return reconciled, nil, nil
}

func (e *Engine) reconcile(ctx context.Context, sessionID string, membership *domain.Membership) ([]lifecycle.MatchOutcome, error) {
	tallies, err := e.ledger.Tallies(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	restaurantIDs := make([]string, 0, len(tallies))
	for id, voters := range tallies {
		if Unanimous(voters, membership) {
			restaurantIDs = append(restaurantIDs, id)
		}
	}
	sort.Strings(restaurantIDs)

	var formed []lifecycle.MatchOutcome
	for _, restaurantID := range restaurantIDs {
		outcome, err := e.matches.RecordMatch(ctx, sessionID, restaurantID, tallies[restaurantID])
		if errors.Is(err, domain.ErrSessionNotActive) {
			break
		}
		if err != nil {
			return nil, err
		}
		if outcome.Created {
			e.logger.Info("reconciled match from swipe log",
				zap.String("session_id", sessionID),
				zap.String("restaurant_id", restaurantID))
			formed = append(formed, *outcome)
		}
	}
	return formed, nil
}
