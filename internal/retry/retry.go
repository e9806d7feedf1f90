// Package retry retries store calls that fail for transient reasons.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/xiaot623/dinematch/internal/domain"
)

// Policy bounds how hard a call site retries.
type Policy struct {
	Attempts uint
	Delay    time.Duration
	// Transient reports whether an unrecognised error is worth retrying.
	// When nil, no such error is retried.
	Transient func(error) bool
}

func (p Policy) transient(err error) bool {
	return p.Transient != nil && !IsPermanent(err) && p.Transient(err)
}

// permanent errors are outcomes, not failures: retrying cannot change them.
var permanent = []error{
	domain.ErrNotAMember,
	domain.ErrSessionNotActive,
	domain.ErrSessionAlreadyTerminal,
	domain.ErrDuplicateSwipe,
	domain.ErrConflict,
	domain.ErrNotFound,
	domain.ErrUnknownRestaurant,
	domain.ErrForbidden,
	domain.ErrInsufficientMembers,
	domain.ErrInvalidDirection,
	domain.ErrFeedNotExhausted,
	domain.ErrInvalidRequest,
	context.Canceled,
	context.DeadlineExceeded,
}

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	for _, target := range permanent {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Do runs op until it succeeds, fails with an error the policy does not
// consider transient, or the attempts run out. Exhausted retries are reported
// as domain.ErrStoreUnavailable; other errors are returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	if p.Delay > 0 {
		b.InitialInterval = p.Delay
		b.MaxInterval = 8 * p.Delay
	}

	v, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !p.transient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(attempts))
	if err != nil && p.transient(err) {
		return v, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return v, err
}

// Exec is Do for calls that only return an error.
func Exec(ctx context.Context, p Policy, op func() error) error {
	_, err := Do(ctx, p, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
