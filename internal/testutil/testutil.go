// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xiaot623/dinematch/internal/domain"
	"github.com/xiaot623/dinematch/internal/policy"
	"github.com/xiaot623/dinematch/internal/repository"
)

// FastRetry keeps retry delays negligible in tests.
var FastRetry = repository.RetryPolicy(3, time.Millisecond)

// NewSQLiteStore returns an in-memory store closed when the test ends.
func NewSQLiteStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()
	store, err := repository.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// NewPolicy returns an engine loaded with the default session policy.
func NewPolicy(t *testing.T) *policy.Engine {
	t.Helper()
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	return engine
}

// SeedSession creates an active session for group g1 whose roster and
// membership snapshot are members. The first member is the creator and
// group admin. The candidate queue holds restaurants.
func SeedSession(t *testing.T, store repository.Store, sessionID string, maxMatches int, members []string, restaurants ...string) *domain.Session {
	t.Helper()
	ctx := context.Background()
	for i, userID := range members {
		role := domain.MemberRoleMember
		if i == 0 {
			role = domain.MemberRoleAdmin
		}
		require.NoError(t, store.UpsertGroupMember(ctx, &domain.GroupMember{GroupID: "g1", UserID: userID, Role: role}))
	}
	session := &domain.Session{
		SessionID:  sessionID,
		GroupID:    "g1",
		Status:     domain.SessionStatusActive,
		CreatedBy:  members[0],
		MaxMatches: maxMatches,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.CreateSession(ctx, session, members))

	if len(restaurants) > 0 {
		queue := make([]domain.Restaurant, len(restaurants))
		for i, id := range restaurants {
			queue[i] = domain.Restaurant{RestaurantID: id, Name: "Restaurant " + id}
		}
		require.NoError(t, store.AppendCandidates(ctx, sessionID, queue, false))
	}
	return session
}
