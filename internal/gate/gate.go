// Package gate decides whether a user may act on a session.
package gate

import (
	"context"
	"sync"

	"github.com/xiaot623/dinematch/internal/domain"
	"github.com/xiaot623/dinematch/internal/repository"
	"github.com/xiaot623/dinematch/internal/retry"
)

// Gate validates swipes before they reach the consensus engine. It never
// writes. Membership snapshots are immutable once a session starts, so they
// are cached for the life of the process.
type Gate struct {
	store       repository.Store
	retry       retry.Policy
	memberships sync.Map // session_id -> *domain.Membership
}

// New creates a Gate.
func New(store repository.Store, p retry.Policy) *Gate {
	return &Gate{store: store, retry: p}
}

// Membership returns the voter snapshot of a session.
func (g *Gate) Membership(ctx context.Context, sessionID string) (*domain.Membership, error) {
	if v, ok := g.memberships.Load(sessionID); ok {
		return v.(*domain.Membership), nil
	}
	membership, err := retry.Do(ctx, g.retry, func() (*domain.Membership, error) {
		return g.store.GetMembership(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	// An empty snapshot may belong to a session that does not exist yet.
	if membership.Size() > 0 {
		g.memberships.Store(sessionID, membership)
	}
	return membership, nil
}

// Forget drops the cached snapshot of a finished session.
func (g *Gate) Forget(sessionID string) {
	g.memberships.Delete(sessionID)
}

// Authorize checks that userID is a voter of an active session. Membership is
// checked first so outsiders learn nothing about the session's state.
func (g *Gate) Authorize(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	session, err := retry.Do(ctx, g.retry, func() (*domain.Session, error) {
		return g.store.GetSession(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrNotFound
	}

	membership, err := g.Membership(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !membership.Contains(userID) {
		return nil, domain.ErrNotAMember
	}
	if session.Status != domain.SessionStatusActive {
		return nil, domain.ErrSessionNotActive
	}
	return session, nil
}

// AuthorizeSwipe is Authorize plus a check that restaurantID is one of the
// session's candidates.
func (g *Gate) AuthorizeSwipe(ctx context.Context, sessionID, userID, restaurantID string) (*domain.Session, error) {
	session, err := g.Authorize(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	restaurant, err := retry.Do(ctx, g.retry, func() (*domain.Restaurant, error) {
		return g.store.GetCandidate(ctx, sessionID, restaurantID)
	})
	if err != nil {
		return nil, err
	}
	if restaurant == nil {
		return nil, domain.ErrUnknownRestaurant
	}
	return session, nil
}
