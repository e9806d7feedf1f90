package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/dinematch/internal/domain"
	"github.com/xiaot623/dinematch/internal/testutil"
)

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewSQLiteStore(t)
	testutil.SeedSession(t, store, "s1", 3, []string{"alice", "bob"}, "r1")
	g := New(store, testutil.FastRetry)

	session, err := g.Authorize(ctx, "s1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "s1", session.SessionID)

	_, err = g.Authorize(ctx, "s1", "mallory")
	assert.ErrorIs(t, err, domain.ErrNotAMember)

	_, err = g.Authorize(ctx, "missing", "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.UpdateSessionStatus(ctx, "s1", domain.SessionStatusActive, domain.SessionStatusCancelled)
	require.NoError(t, err)

	_, err = g.Authorize(ctx, "s1", "alice")
	assert.ErrorIs(t, err, domain.ErrSessionNotActive)

	// Outsiders see NotAMember whatever the session state.
	_, err = g.Authorize(ctx, "s1", "mallory")
	assert.ErrorIs(t, err, domain.ErrNotAMember)
}

func TestAuthorizeSwipeRequiresCandidate(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewSQLiteStore(t)
	testutil.SeedSession(t, store, "s1", 3, []string{"alice", "bob"}, "r1")
	g := New(store, testutil.FastRetry)

	_, err := g.AuthorizeSwipe(ctx, "s1", "bob", "r1")
	assert.NoError(t, err)

	_, err = g.AuthorizeSwipe(ctx, "s1", "bob", "r404")
	assert.ErrorIs(t, err, domain.ErrUnknownRestaurant)

	_, err = g.AuthorizeSwipe(ctx, "s1", "mallory", "r1")
	assert.ErrorIs(t, err, domain.ErrNotAMember)
}

func TestMembershipSnapshotIgnoresRosterChanges(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewSQLiteStore(t)
	testutil.SeedSession(t, store, "s1", 3, []string{"alice", "bob"})
	g := New(store, testutil.FastRetry)

	require.NoError(t, store.UpsertGroupMember(ctx, &domain.GroupMember{GroupID: "g1", UserID: "carol"}))

	membership, err := g.Membership(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, membership.UserIDs)

	_, err = g.Authorize(ctx, "s1", "carol")
	assert.ErrorIs(t, err, domain.ErrNotAMember)
}
