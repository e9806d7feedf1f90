// Package ledger tracks which members have swiped right on which restaurant
// within a session. The tally is a cache over the durable swipe log and can
// always be rebuilt from it.
package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xiaot623/dinematch/internal/domain"
)

// Kind selects a ledger backend.
type Kind string

const (
	KindMemory Kind = "memory"
	KindRedis  Kind = "redis"
)

var (
	ErrInvalidConfig = errors.New("invalid ledger configuration")
	ErrInvalidKind   = errors.New("invalid ledger kind")
)

// Vote is one right swipe counted toward consensus.
type Vote struct {
	UserID     string
	SequenceNo int64
}

// Ledger holds the per-session vote tallies.
//
// Hydrate and AddVote have set semantics: adding a vote that is already
// present is a no-op, so a hydration racing a live vote never double counts.
type Ledger interface {
	// Loaded reports whether the session's tally has been hydrated.
	Loaded(ctx context.Context, sessionID string) (bool, error)
	// Hydrate merges the tally folded from events into the session's tally.
	Hydrate(ctx context.Context, sessionID string, events []domain.SwipeEvent) error
	// AddVote records a right swipe and returns the restaurant's voters in swipe order.
	AddVote(ctx context.Context, sessionID, restaurantID string, vote Vote) ([]string, error)
	// Voters returns the restaurant's voters in swipe order.
	Voters(ctx context.Context, sessionID, restaurantID string) ([]string, error)
	// Tallies returns every restaurant's voters for the session.
	Tallies(ctx context.Context, sessionID string) (map[string][]string, error)
	// Evict drops the session's tally.
	Evict(ctx context.Context, sessionID string) error
}

type options struct {
	redisClient *redis.Client
	redisTTL    time.Duration
	keyPrefix   string
}

// Option configures a ledger.
type Option func(*options)

// WithRedisClient sets the client used by the redis ledger.
func WithRedisClient(client *redis.Client) Option {
	return func(o *options) {
		o.redisClient = client
	}
}

// WithRedisTTL sets how long an idle session tally survives in redis.
func WithRedisTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.redisTTL = ttl
	}
}

// WithKeyPrefix namespaces redis keys.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		o.keyPrefix = prefix
	}
}

// New creates a ledger of the given kind.
func New(kind Kind, opts ...Option) (Ledger, error) {
	o := &options{keyPrefix: "dinematch"}
	for _, opt := range opts {
		opt(o)
	}

	switch kind {
	case KindMemory, "":
		return NewMemory(), nil
	case KindRedis:
		if o.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		ttl := o.redisTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		return &redisLedger{client: o.redisClient, ttl: ttl, prefix: o.keyPrefix}, nil
	default:
		return nil, ErrInvalidKind
	}
}

// Fold rebuilds tallies from a swipe history. Only right swipes count; the
// result lists each restaurant's votes in sequence order.
func Fold(events []domain.SwipeEvent) map[string][]Vote {
	tallies := make(map[string][]Vote)
	seen := make(map[string]map[string]bool)
	for _, e := range events {
		if e.Direction != domain.DirectionRight {
			continue
		}
		if seen[e.RestaurantID] == nil {
			seen[e.RestaurantID] = make(map[string]bool)
		}
		if seen[e.RestaurantID][e.UserID] {
			continue
		}
		seen[e.RestaurantID][e.UserID] = true
		tallies[e.RestaurantID] = append(tallies[e.RestaurantID], Vote{UserID: e.UserID, SequenceNo: e.SequenceNo})
	}
	for _, votes := range tallies {
		sortVotes(votes)
	}
	return tallies
}

func sortVotes(votes []Vote) {
	sort.SliceStable(votes, func(i, j int) bool {
		return votes[i].SequenceNo < votes[j].SequenceNo
	})
}

func userIDs(votes []Vote) []string {
	ids := make([]string, len(votes))
	for i, v := range votes {
		ids[i] = v.UserID
	}
	return ids
}
