package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/dinematch/internal/domain"
)

func swipe(user, restaurant string, dir domain.Direction, seq int64) domain.SwipeEvent {
	return domain.SwipeEvent{SessionID: "s1", UserID: user, RestaurantID: restaurant, Direction: dir, SequenceNo: seq}
}

func TestFoldCountsOnlyRightSwipesInOrder(t *testing.T) {
	tallies := Fold([]domain.SwipeEvent{
		swipe("carol", "r1", domain.DirectionRight, 3),
		swipe("alice", "r1", domain.DirectionRight, 1),
		swipe("bob", "r1", domain.DirectionLeft, 2),
		swipe("bob", "r2", domain.DirectionRight, 4),
	})

	require.Len(t, tallies, 2)
	assert.Equal(t, []string{"alice", "carol"}, userIDs(tallies["r1"]))
	assert.Equal(t, []string{"bob"}, userIDs(tallies["r2"]))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(KindRedis)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New("etcd")
	assert.ErrorIs(t, err, ErrInvalidKind)

	l, err := New(KindMemory)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, l)
}

func exerciseLedger(t *testing.T, l Ledger, sessionID string) {
	ctx := context.Background()

	loaded, err := l.Loaded(ctx, sessionID)
	require.NoError(t, err)
	assert.False(t, loaded)

	voters, err := l.AddVote(ctx, sessionID, "r1", Vote{UserID: "bob", SequenceNo: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, voters)

	// A hydration that overlaps a live vote merges instead of replacing.
	err = l.Hydrate(ctx, sessionID, []domain.SwipeEvent{
		{SessionID: sessionID, UserID: "alice", RestaurantID: "r1", Direction: domain.DirectionRight, SequenceNo: 2},
		{SessionID: sessionID, UserID: "bob", RestaurantID: "r1", Direction: domain.DirectionRight, SequenceNo: 5},
		{SessionID: sessionID, UserID: "alice", RestaurantID: "r2", Direction: domain.DirectionLeft, SequenceNo: 3},
	})
	require.NoError(t, err)

	loaded, err = l.Loaded(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, loaded)

	voters, err = l.Voters(ctx, sessionID, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, voters)

	voters, err = l.AddVote(ctx, sessionID, "r1", Vote{UserID: "alice", SequenceNo: 9})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, voters, "replayed vote must not be counted twice")

	tallies, err := l.Tallies(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"r1": {"alice", "bob"}}, tallies)

	require.NoError(t, l.Evict(ctx, sessionID))
	loaded, err = l.Loaded(ctx, sessionID)
	require.NoError(t, err)
	assert.False(t, loaded)
	voters, err = l.Voters(ctx, sessionID, "r1")
	require.NoError(t, err)
	assert.Empty(t, voters)
}

func TestMemoryLedger(t *testing.T) {
	exerciseLedger(t, NewMemory(), "s1")
}

func TestRedisLedger(t *testing.T) {
	addr := os.Getenv("DINEMATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DINEMATCH_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	l, err := New(KindRedis, WithRedisClient(client), WithKeyPrefix("dinematch-test"))
	require.NoError(t, err)
	exerciseLedger(t, l, "s-"+uuid.NewString())
}

func newMiniredisLedger(t *testing.T, ttl time.Duration) (Ledger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, err := New(KindRedis, WithRedisClient(client), WithRedisTTL(ttl))
	require.NoError(t, err)
	return l, mr
}

func TestRedisLedgerMiniredis(t *testing.T) {
	l, _ := newMiniredisLedger(t, time.Hour)
	exerciseLedger(t, l, "s1")
}

func TestRedisLedgerIdleRestaurantSurvivesActiveSession(t *testing.T) {
	ctx := context.Background()
	l, mr := newMiniredisLedger(t, time.Hour)

	require.NoError(t, l.Hydrate(ctx, "s1", nil))
	_, err := l.AddVote(ctx, "s1", "x", Vote{UserID: "a", SequenceNo: 1})
	require.NoError(t, err)

	// Votes keep landing on y for longer than the TTL; nobody touches x.
	for i, user := range []string{"c", "d", "e"} {
		mr.FastForward(30 * time.Minute)
		_, err := l.AddVote(ctx, "s1", "y", Vote{UserID: user, SequenceNo: int64(i + 2)})
		require.NoError(t, err)
	}

	loaded, err := l.Loaded(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, loaded)

	voters, err := l.AddVote(ctx, "s1", "x", Vote{UserID: "b", SequenceNo: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, voters)
}

func TestRedisLedgerExpiresAsUnit(t *testing.T) {
	ctx := context.Background()
	l, mr := newMiniredisLedger(t, time.Hour)

	require.NoError(t, l.Hydrate(ctx, "s1", []domain.SwipeEvent{
		swipe("a", "x", domain.DirectionRight, 1),
	}))
	mr.FastForward(2 * time.Hour)

	loaded, err := l.Loaded(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, loaded)

	// A vote on an expired tally does not mark it loaded, so the caller rebuilds it.
	voters, err := l.AddVote(ctx, "s1", "x", Vote{UserID: "b", SequenceNo: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, voters)
	loaded, err = l.Loaded(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, loaded)

	require.NoError(t, l.Hydrate(ctx, "s1", []domain.SwipeEvent{
		swipe("a", "x", domain.DirectionRight, 1),
		swipe("b", "x", domain.DirectionRight, 2),
	}))
	voters, err = l.Voters(ctx, "s1", "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, voters)
}

func TestRedisLedgerKeepsSwipeOrder(t *testing.T) {
	ctx := context.Background()
	l, _ := newMiniredisLedger(t, time.Hour)

	// Sequence 10 sorts after 9; restaurant xy shares x's prefix.
	for seq, user := range map[int64]string{10: "late", 9: "early", 100: "last"} {
		_, err := l.AddVote(ctx, "s1", "x", Vote{UserID: user, SequenceNo: seq})
		require.NoError(t, err)
	}
	_, err := l.AddVote(ctx, "s1", "xy", Vote{UserID: "other", SequenceNo: 1})
	require.NoError(t, err)

	voters, err := l.Voters(ctx, "s1", "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "late", "last"}, voters)

	tallies, err := l.Tallies(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"x": {"early", "late", "last"}, "xy": {"other"}}, tallies)
}
