package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xiaot623/dinematch/internal/domain"
)

// loadedMember marks a hydrated tally. It sorts before every vote member.
const loadedMember = "\x00loaded"

// redisLedger keeps a session's whole tally in one sorted set so that it
// expires as a unit and several server processes can share it. Every member
// has score 0 and reads "<restaurant>\x00<sequence>\x00<user>"; the zero-padded
// sequence makes lexicographic order match swipe order.
type redisLedger struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func (l *redisLedger) key(sessionID string) string {
	return fmt.Sprintf("%s:tally:%s", l.prefix, sessionID)
}

func voteMember(restaurantID string, vote Vote) string {
	return fmt.Sprintf("%s\x00%020d\x00%s", restaurantID, vote.SequenceNo, vote.UserID)
}

// parseMember splits a vote member. ok is false for the loaded marker.
func parseMember(member string) (restaurantID, userID string, ok bool) {
	parts := strings.SplitN(member, "\x00", 3)
	if len(parts) != 3 || parts[0] == "" {
		return "", "", false
	}
	if _, err := strconv.ParseInt(parts[1], 10, 64); err != nil {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// restaurantRange bounds the members of one restaurant.
func restaurantRange(restaurantID string) *redis.ZRangeBy {
	return &redis.ZRangeBy{Min: "[" + restaurantID + "\x00", Max: "(" + restaurantID + "\x01"}
}

// voterIDs drops repeated users, keeping the first vote.
func voterIDs(members []string) []string {
	seen := make(map[string]bool, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		_, userID, ok := parseMember(m)
		if !ok || seen[userID] {
			continue
		}
		seen[userID] = true
		out = append(out, userID)
	}
	return out
}

// Loaded implements Ledger.
func (l *redisLedger) Loaded(ctx context.Context, sessionID string) (bool, error) {
	err := l.client.ZScore(ctx, l.key(sessionID), loadedMember).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Hydrate implements Ledger.
func (l *redisLedger) Hydrate(ctx context.Context, sessionID string, events []domain.SwipeEvent) error {
	key := l.key(sessionID)
	members := []redis.Z{{Member: loadedMember}}
	for restaurantID, votes := range Fold(events) {
		for _, v := range votes {
			members = append(members, redis.Z{Member: voteMember(restaurantID, v)})
		}
	}
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddNX(ctx, key, members...)
		pipe.Expire(ctx, key, l.ttl)
		return nil
	})
	return err
}

// AddVote implements Ledger. If the tally expired it is recreated without the
// loaded marker, so the next caller rebuilds it from the swipe log.
func (l *redisLedger) AddVote(ctx context.Context, sessionID, restaurantID string, vote Vote) ([]string, error) {
	key := l.key(sessionID)
	var members *redis.StringSliceCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddNX(ctx, key, redis.Z{Member: voteMember(restaurantID, vote)})
		pipe.Expire(ctx, key, l.ttl)
		members = pipe.ZRangeByLex(ctx, key, restaurantRange(restaurantID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return voterIDs(members.Val()), nil
}

// Voters implements Ledger.
func (l *redisLedger) Voters(ctx context.Context, sessionID, restaurantID string) ([]string, error) {
	members, err := l.client.ZRangeByLex(ctx, l.key(sessionID), restaurantRange(restaurantID)).Result()
	if err != nil {
		return nil, err
	}
	return voterIDs(members), nil
}

// Tallies implements Ledger.
func (l *redisLedger) Tallies(ctx context.Context, sessionID string) (map[string][]string, error) {
	members, err := l.client.ZRange(ctx, l.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]string)
	for _, m := range members {
		restaurantID, _, ok := parseMember(m)
		if !ok {
			continue
		}
		grouped[restaurantID] = append(grouped[restaurantID], m)
	}
	out := make(map[string][]string, len(grouped))
	for restaurantID, ms := range grouped {
		out[restaurantID] = voterIDs(ms)
	}
	return out, nil
}

// Evict implements Ledger.
func (l *redisLedger) Evict(ctx context.Context, sessionID string) error {
	return l.client.Del(ctx, l.key(sessionID)).Err()
}
