package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/dinematch/internal/domain"
	"github.com/xiaot623/dinematch/internal/retry"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createSession(t *testing.T, store *SQLiteStore, sessionID string, maxMatches int, members ...string) *domain.Session {
	t.Helper()
	session := &domain.Session{
		SessionID:   sessionID,
		GroupID:     "g1",
		Status:      domain.SessionStatusActive,
		CreatedBy:   members[0],
		MaxMatches:  maxMatches,
		Constraints: domain.Constraints{PriceMin: 1, PriceMax: 3, Cuisines: []string{"thai"}},
		CreatedAt:   time.Now(),
	}
	require.NoError(t, store.CreateSession(context.Background(), session, members))
	return session
}

func TestSQLiteStoreGroups(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	group, err := store.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Nil(t, group)

	require.NoError(t, store.SaveGroup(ctx, &domain.Group{GroupID: "g1", MaxMembers: 3, CreatedBy: "alice"}))
	require.NoError(t, store.SaveGroup(ctx, &domain.Group{GroupID: "g1", MaxMembers: 4, CreatedBy: "mallory"}))

	group, err = store.GetGroup(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, group)
	assert.Equal(t, 4, group.MaxMembers)
	assert.Equal(t, "alice", group.CreatedBy)

	require.NoError(t, store.AddGroupMembers(ctx, "g1", []domain.GroupMember{
		{UserID: "alice", Role: domain.MemberRoleAdmin},
		{UserID: "bob"},
	}, 3))

	err = store.AddGroupMembers(ctx, "g1", []domain.GroupMember{{UserID: "carol"}, {UserID: "dave"}}, 3)
	assert.ErrorIs(t, err, domain.ErrGroupFull)

	members, err := store.ListGroupMembers(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, members, 2)

	// Updating an existing entry does not count against the cap.
	require.NoError(t, store.AddGroupMembers(ctx, "g1", []domain.GroupMember{{UserID: "bob", Role: domain.MemberRoleAdmin}}, 2))

	removed, err := store.RemoveGroupMember(ctx, "g1", "bob")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.RemoveGroupMember(ctx, "g1", "bob")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSQLiteStoreGroupMembers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.UpsertGroupMember(ctx, &domain.GroupMember{GroupID: "g1", UserID: "alice", Role: domain.MemberRoleAdmin}))
	require.NoError(t, store.UpsertGroupMember(ctx, &domain.GroupMember{GroupID: "g1", UserID: "bob"}))
	require.NoError(t, store.UpsertGroupMember(ctx, &domain.GroupMember{GroupID: "g1", UserID: "bob", Role: domain.MemberRoleAdmin}))

	members, err := store.ListGroupMembers(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, members, 2)

	bob, err := store.GetGroupMember(ctx, "g1", "bob")
	require.NoError(t, err)
	require.NotNil(t, bob)
	assert.Equal(t, domain.MemberRoleAdmin, bob.Role)

	missing, err := store.GetGroupMember(ctx, "g1", "carol")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteStoreSessionAndMembership(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	createSession(t, store, "s1", 3, "alice", "bob", "carol")

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.SessionStatusActive, got.Status)
	assert.Equal(t, []string{"thai"}, got.Constraints.Cuisines)

	active, err := store.GetActiveSessionForGroup(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "s1", active.SessionID)

	membership, err := store.GetMembership(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, membership.UserIDs)

	missing, err := store.GetSession(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	second := &domain.Session{SessionID: "s2", GroupID: "g1", Status: domain.SessionStatusActive, CreatedBy: "bob", MaxMatches: 3, CreatedAt: time.Now()}
	assert.ErrorIs(t, store.CreateSession(ctx, second, []string{"alice", "bob"}), domain.ErrConflict)

	_, err = store.UpdateSessionStatus(ctx, "s1", domain.SessionStatusActive, domain.SessionStatusCancelled)
	require.NoError(t, err)
	require.NoError(t, store.CreateSession(ctx, second, []string{"alice", "bob"}))
}

func TestSQLiteStoreUpdateSessionStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createSession(t, store, "s1", 3, "alice", "bob")

	ok, err := store.UpdateSessionStatus(ctx, "s1", domain.SessionStatusActive, domain.SessionStatusCancelled)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.UpdateSessionStatus(ctx, "s1", domain.SessionStatusActive, domain.SessionStatusCompleted)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCancelled, got.Status)
	assert.NotNil(t, got.EndedAt)
}

func TestSQLiteStoreAppendSwipeEvent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createSession(t, store, "s1", 3, "alice", "bob")

	first := &domain.SwipeEvent{SessionID: "s1", UserID: "alice", RestaurantID: "r1", Direction: domain.DirectionRight}
	require.NoError(t, store.AppendSwipeEvent(ctx, first))
	assert.Equal(t, int64(1), first.SequenceNo)

	second := &domain.SwipeEvent{SessionID: "s1", UserID: "bob", RestaurantID: "r1", Direction: domain.DirectionLeft}
	require.NoError(t, store.AppendSwipeEvent(ctx, second))
	assert.Equal(t, int64(2), second.SequenceNo)

	dup := &domain.SwipeEvent{SessionID: "s1", UserID: "alice", RestaurantID: "r1", Direction: domain.DirectionLeft}
	assert.ErrorIs(t, store.AppendSwipeEvent(ctx, dup), domain.ErrConflict)

	events, err := store.ListSwipeEvents(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.DirectionRight, events[0].Direction)

	stored, err := store.GetSwipeEvent(ctx, "s1", "bob", "r1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.DirectionLeft, stored.Direction)
	assert.Equal(t, int64(2), stored.SequenceNo)

	none, err := store.GetSwipeEvent(ctx, "s1", "bob", "r2")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = store.UpdateSessionStatus(ctx, "s1", domain.SessionStatusActive, domain.SessionStatusCancelled)
	require.NoError(t, err)
	late := &domain.SwipeEvent{SessionID: "s1", UserID: "bob", RestaurantID: "r2", Direction: domain.DirectionRight}
	assert.ErrorIs(t, store.AppendSwipeEvent(ctx, late), domain.ErrSessionNotActive)
}

func TestSQLiteStoreInsertMatchIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createSession(t, store, "s1", 2, "alice", "bob")

	res, err := store.InsertMatchIfAbsent(ctx, &domain.Match{MatchID: "m1", SessionID: "s1", RestaurantID: "r1", Voters: []string{"bob", "alice"}})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 1, res.Match.Ordinal)
	assert.Equal(t, 1, res.Session.CurrentMatchCount)

	again, err := store.InsertMatchIfAbsent(ctx, &domain.Match{MatchID: "m2", SessionID: "s1", RestaurantID: "r1"})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, "m1", again.Match.MatchID)
	assert.Equal(t, []string{"bob", "alice"}, again.Match.Voters)
	assert.Equal(t, 1, again.Session.CurrentMatchCount)

	res, err = store.InsertMatchIfAbsent(ctx, &domain.Match{MatchID: "m3", SessionID: "s1", RestaurantID: "r2"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 2, res.Session.CurrentMatchCount)

	_, err = store.InsertMatchIfAbsent(ctx, &domain.Match{MatchID: "m4", SessionID: "s1", RestaurantID: "r3"})
	assert.ErrorIs(t, err, domain.ErrSessionNotActive)

	matches, err := store.ListMatches(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "r1", matches[0].RestaurantID)
	assert.Equal(t, "r2", matches[1].RestaurantID)
}

func TestSQLiteStoreAppendSwipeEventAfterMatchTarget(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createSession(t, store, "s1", 1, "alice", "bob")

	res, err := store.InsertMatchIfAbsent(ctx, &domain.Match{MatchID: "m1", SessionID: "s1", RestaurantID: "r1"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Session.CurrentMatchCount)

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, domain.SessionStatusActive, got.Status)

	late := &domain.SwipeEvent{SessionID: "s1", UserID: "alice", RestaurantID: "r2", Direction: domain.DirectionRight}
	assert.ErrorIs(t, store.AppendSwipeEvent(ctx, late), domain.ErrSessionNotActive)

	events, err := store.ListSwipeEvents(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSQLiteStoreInsertMatchIfAbsentConcurrent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createSession(t, store, "s1", 3, "alice", "bob")

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := store.InsertMatchIfAbsent(ctx, &domain.Match{MatchID: fmt.Sprintf("m%d", i), SessionID: "s1", RestaurantID: "r1"})
			if !assert.NoError(t, err) {
				return
			}
			if res.Created {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentMatchCount)
}

func TestSQLiteStoreCandidates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createSession(t, store, "s1", 3, "alice", "bob")

	err := store.AppendCandidates(ctx, "s1", []domain.Restaurant{
		{RestaurantID: "r1", Name: "Noodle Bar", Payload: json.RawMessage(`{"rating":4.5}`)},
		{RestaurantID: "r2", Name: "Taqueria"},
	}, false)
	require.NoError(t, err)

	err = store.AppendCandidates(ctx, "s1", []domain.Restaurant{
		{RestaurantID: "r1", Name: "Noodle Bar"},
		{RestaurantID: "r3", Name: "Dosa House"},
	}, true)
	require.NoError(t, err)

	queue, err := store.GetCandidateQueue(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, queue)
	assert.True(t, queue.Exhausted)
	require.Len(t, queue.Restaurants, 3)
	assert.Equal(t, "r3", queue.Restaurants[2].RestaurantID)
	assert.Equal(t, 2, queue.Restaurants[2].Position)

	r1, err := store.GetCandidate(ctx, "s1", "r1")
	require.NoError(t, err)
	require.NotNil(t, r1)
	assert.JSONEq(t, `{"rating":4.5}`, string(r1.Payload))

	missing, err := store.GetCandidate(ctx, "s1", "r9")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.ErrorIs(t, store.AppendCandidates(ctx, "nope", nil, false), domain.ErrNotFound)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, IsTransient(fmt.Errorf("begin: %w", sqlite3.Error{Code: sqlite3.ErrLocked})))
	assert.False(t, IsTransient(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, IsTransient(errors.New("unexpected end of JSON input")))
}

func TestRetryPolicyDoesNotRetryConstraintFailures(t *testing.T) {
	calls := 0
	err := retry.Exec(context.Background(), RetryPolicy(3, time.Millisecond), func() error {
		calls++
		return sqlite3.Error{Code: sqlite3.ErrConstraint}
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, 1, calls)

	calls = 0
	err = retry.Exec(context.Background(), RetryPolicy(3, time.Millisecond), func() error {
		calls++
		return sqlite3.Error{Code: sqlite3.ErrBusy}
	})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, 3, calls)
}
