package service

import (
	"context"
	"encoding/json"

	"github.com/xiaot623/dinematch/internal/domain"
	"github.com/xiaot623/dinematch/internal/retry"
	"github.com/xiaot623/dinematch/internal/validation"
)

// CandidatesRequest appends restaurants to a session's queue.
type CandidatesRequest struct {
	Restaurants []CandidateEntry `json:"restaurants" validate:"max=200,dive"`
	Exhausted   bool             `json:"exhausted"`
}

// CandidateEntry is one restaurant from the candidate feed.
type CandidateEntry struct {
	ID      string          `json:"id" validate:"required,max=256"`
	Name    string          `json:"name" validate:"max=256"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AppendCandidates extends the queue of an active session, keeping order.
// Restaurants already queued are ignored.
func (s *Service) AppendCandidates(ctx context.Context, sessionID, userID string, req CandidatesRequest) (*domain.CandidateQueue, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if _, err := s.gate.Authorize(ctx, sessionID, userID); err != nil {
		return nil, err
	}

	restaurants := make([]domain.Restaurant, len(req.Restaurants))
	for i, r := range req.Restaurants {
		restaurants[i] = domain.Restaurant{RestaurantID: r.ID, Name: r.Name, Payload: r.Payload}
	}
	if err := retry.Exec(ctx, s.retry, func() error {
		return s.store.AppendCandidates(ctx, sessionID, restaurants, req.Exhausted)
	}); err != nil {
		return nil, err
	}
	return s.RemainingCandidates(ctx, sessionID, userID)
}

// RemainingCandidates returns the restaurants userID has not swiped yet, in
// queue order.
func (s *Service) RemainingCandidates(ctx context.Context, sessionID, userID string) (*domain.CandidateQueue, error) {
	if _, _, err := s.authorizeViewer(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	queue, err := retry.Do(ctx, s.retry, func() (*domain.CandidateQueue, error) {
		return s.store.GetCandidateQueue(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	if queue == nil {
		return nil, domain.ErrNotFound
	}
	events, err := retry.Do(ctx, s.retry, func() ([]domain.SwipeEvent, error) {
		return s.store.ListSwipeEvents(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}

	swiped := make(map[string]bool)
	for _, e := range events {
		if e.UserID == userID {
			swiped[e.RestaurantID] = true
		}
	}
	remaining := make([]domain.Restaurant, 0, len(queue.Restaurants))
	for _, r := range queue.Restaurants {
		if !swiped[r.RestaurantID] {
			remaining = append(remaining, r)
		}
	}
	return &domain.CandidateQueue{SessionID: sessionID, Restaurants: remaining, Exhausted: queue.Exhausted}, nil
}
