// Package lifecycle owns session status transitions and match creation.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/dinematch/internal/domain"
	"github.com/xiaot623/dinematch/internal/ledger"
	"github.com/xiaot623/dinematch/internal/policy"
	"github.com/xiaot623/dinematch/internal/repository"
	"github.com/xiaot623/dinematch/internal/retry"
)

// transitions lists every legal status change.
var transitions = map[domain.SessionStatus][]domain.SessionStatus{
	domain.SessionStatusActive: {domain.SessionStatusCompleted, domain.SessionStatusCancelled},
}

// CheckTransition validates moving a session from one status to another.
func CheckTransition(from, to domain.SessionStatus) error {
	if from.Terminal() {
		return domain.ErrSessionAlreadyTerminal
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", from, to)
}

// MatchOutcome is the result of recording a match.
type MatchOutcome struct {
	Match domain.Match
	// Created is true only for the caller whose insert produced the match.
	Created bool
	Session domain.Session
	// Completed is true only for the caller that moved the session to completed.
	Completed bool
	// Matches holds the ordered matches when Completed is set.
	Matches []domain.Match
}

// Completion is the result of a session reaching completed.
type Completion struct {
	Session domain.Session
	Matches []domain.Match
}

// Lifecycle drives sessions through active -> completed | cancelled.
type Lifecycle struct {
	store  repository.Store
	ledger ledger.Ledger
	policy *policy.Engine
	retry  retry.Policy
	logger *zap.Logger
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithRetry overrides the store retry policy.
func WithRetry(p retry.Policy) Option {
	return func(l *Lifecycle) {
		l.retry = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Lifecycle) {
		l.logger = logger
	}
}

// New creates a Lifecycle.
func New(store repository.Store, tally ledger.Ledger, engine *policy.Engine, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		store:  store,
		ledger: tally,
		policy: engine,
		retry:  repository.DefaultRetry,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Lifecycle) session(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := retry.Do(ctx, l.retry, func() (*domain.Session, error) {
		return l.store.GetSession(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrNotFound
	}
	return session, nil
}

// RecordMatch stores the match for (session, restaurant) if it does not exist
// yet and completes the session when the match target is reached. Calling it
// again for the same pair returns the existing match with Created unset.
func (l *Lifecycle) RecordMatch(ctx context.Context, sessionID, restaurantID string, voters []string) (*MatchOutcome, error) {
	match := &domain.Match{
		MatchID:      uuid.NewString(),
		SessionID:    sessionID,
		RestaurantID: restaurantID,
		Voters:       voters,
	}
	res, err := retry.Do(ctx, l.retry, func() (*repository.MatchInsert, error) {
		return l.store.InsertMatchIfAbsent(ctx, match)
	})
	if err != nil {
		return nil, err
	}

	out := &MatchOutcome{Match: res.Match, Created: res.Created, Session: res.Session}
	if !res.Created {
		return out, nil
	}
	l.logger.Info("match formed",
		zap.String("session_id", sessionID),
		zap.String("restaurant_id", restaurantID),
		zap.Int("ordinal", res.Match.Ordinal),
		zap.Int("max_matches", res.Session.MaxMatches))

	if res.Session.CurrentMatchCount < res.Session.MaxMatches {
		return out, nil
	}
	completion, err := l.finish(ctx, &res.Session, domain.SessionStatusCompleted)
	if err != nil {
		return nil, err
	}
	if completion != nil {
		out.Completed = true
		out.Session = completion.Session
		out.Matches = completion.Matches
	}
	return out, nil
}

// Settle completes an active session whose match target is already met.
// It returns nil when there was nothing to do.
func (l *Lifecycle) Settle(ctx context.Context, session *domain.Session) (*Completion, error) {
	if session.Status != domain.SessionStatusActive || session.CurrentMatchCount < session.MaxMatches {
		return nil, nil
	}
	return l.finish(ctx, session, domain.SessionStatusCompleted)
}

// finish applies a terminal transition. It returns nil when another caller
// won the transition first.
func (l *Lifecycle) finish(ctx context.Context, session *domain.Session, to domain.SessionStatus) (*Completion, error) {
	if err := CheckTransition(session.Status, to); err != nil {
		return nil, err
	}
	ok, err := retry.Do(ctx, l.retry, func() (bool, error) {
		return l.store.UpdateSessionStatus(ctx, session.SessionID, domain.SessionStatusActive, to)
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	if err := l.ledger.Evict(ctx, session.SessionID); err != nil {
		l.logger.Warn("failed to evict tally", zap.String("session_id", session.SessionID), zap.Error(err))
	}

	updated, err := l.session(ctx, session.SessionID)
	if err != nil {
		return nil, err
	}
	matches, err := retry.Do(ctx, l.retry, func() ([]domain.Match, error) {
		return l.store.ListMatches(ctx, session.SessionID)
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("session finished",
		zap.String("session_id", session.SessionID),
		zap.String("status", string(to)),
		zap.Int("matches", len(matches)))
	return &Completion{Session: *updated, Matches: matches}, nil
}

// authorize evaluates the session policy for actorID.
func (l *Lifecycle) authorize(ctx context.Context, session *domain.Session, actorID, action string) error {
	member, err := retry.Do(ctx, l.retry, func() (*domain.GroupMember, error) {
		return l.store.GetGroupMember(ctx, session.GroupID, actorID)
	})
	if err != nil {
		return err
	}

	in := policy.Input{
		Action:           action,
		ActorID:          actorID,
		SessionCreatedBy: session.CreatedBy,
	}
	if member != nil {
		in.ActorRole = string(member.Role)
	}
	if action == policy.ActionComplete {
		queue, err := retry.Do(ctx, l.retry, func() (*domain.CandidateQueue, error) {
			return l.store.GetCandidateQueue(ctx, session.SessionID)
		})
		if err != nil {
			return err
		}
		in.FeedExhausted = queue != nil && queue.Exhausted
	}

	decision, err := l.policy.Evaluate(ctx, in)
	if err != nil {
		return err
	}
	switch decision {
	case policy.DecisionAllow:
		return nil
	case policy.DecisionFeedNotExhausted:
		return domain.ErrFeedNotExhausted
	default:
		return domain.ErrForbidden
	}
}

// Cancel moves an active session to cancelled on behalf of actorID.
func (l *Lifecycle) Cancel(ctx context.Context, sessionID, actorID string) (*Completion, error) {
	return l.end(ctx, sessionID, actorID, policy.ActionCancel, domain.SessionStatusCancelled)
}

// Complete ends an active session early once its candidate feed is exhausted.
func (l *Lifecycle) Complete(ctx context.Context, sessionID, actorID string) (*Completion, error) {
	return l.end(ctx, sessionID, actorID, policy.ActionComplete, domain.SessionStatusCompleted)
}

func (l *Lifecycle) end(ctx context.Context, sessionID, actorID, action string, to domain.SessionStatus) (*Completion, error) {
	session, err := l.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, domain.ErrSessionAlreadyTerminal
	}
	if err := l.authorize(ctx, session, actorID, action); err != nil {
		return nil, err
	}

	completion, err := l.finish(ctx, session, to)
	if err != nil {
		return nil, err
	}
	if completion == nil {
		return nil, domain.ErrSessionAlreadyTerminal
	}
	return completion, nil
}
