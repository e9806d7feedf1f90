package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/dinematch/internal/domain"
	"github.com/xiaot623/dinematch/internal/lifecycle"
	"github.com/xiaot623/dinematch/internal/metrics"
	"github.com/xiaot623/dinematch/internal/retry"
	"github.com/xiaot623/dinematch/internal/validation"
)

// SwipeRequest is a swipe as submitted by a client.
type SwipeRequest struct {
	RestaurantID string `json:"restaurant_id" validate:"required,max=256"`
	Direction    string `json:"direction" validate:"required,oneof=left right"`
}

// SwipeAck is returned to the submitting member only.
type SwipeAck struct {
	SessionID    string `json:"session_id"`
	RestaurantID string `json:"restaurant_id"`
	Direction    string `json:"direction"`
	Duplicate    bool   `json:"duplicate"`
	SequenceNo   int64  `json:"sequence_no"`
	MatchFormed  bool   `json:"match_formed"`
}

// SubmitSwipe validates and applies one swipe from userID, then broadcasts
// what changed. A resubmitted swipe is acknowledged with Duplicate set.
func (s *Service) SubmitSwipe(ctx context.Context, sessionID, userID string, req SwipeRequest) (*SwipeAck, error) {
	started := time.Now()
	if err := validation.Struct(req); err != nil {
		s.metrics.ObserveSwipe(req.Direction, metrics.OutcomeRejected, started)
		return nil, err
	}

	session, err := s.gate.AuthorizeSwipe(ctx, sessionID, userID, req.RestaurantID)
	if err != nil {
		s.metrics.ObserveSwipe(req.Direction, outcomeOf(err), started)
		return nil, err
	}

	res, err := s.engine.ApplySwipe(ctx, sessionID, userID, req.RestaurantID, domain.Direction(req.Direction))
	if res != nil {
		for i := range res.Reconciled {
			s.metrics.ReconciledMatches.Inc()
			s.announceMatch(ctx, session.GroupID, &res.Reconciled[i])
		}
		if err != nil && res.Completion != nil {
			s.announceCompletion(res.Completion)
		}
	}
	if err != nil {
		s.metrics.ObserveSwipe(req.Direction, outcomeOf(err), started)
		s.logger.Debug("swipe rejected",
			zap.String("session_id", sessionID),
			zap.String("user_id", userID),
			zap.String("restaurant_id", req.RestaurantID),
			zap.Error(err))
		return nil, err
	}

	outcome := metrics.OutcomeAccepted
	if res.Duplicate {
		outcome = metrics.OutcomeDuplicate
	}
	s.metrics.ObserveSwipe(req.Direction, outcome, started)

	switch {
	case res.MatchFormed:
		s.announceMatch(ctx, session.GroupID, &lifecycle.MatchOutcome{Match: *res.Match, Created: true})
	case res.IsNewVote && res.Match == nil:
		s.publish(session.GroupID, domain.EventTypeVoteProgress, domain.VoteProgressPayload{
			SessionID:    sessionID,
			RestaurantID: req.RestaurantID,
			Votes:        len(res.Voters),
			TotalMembers: res.MemberCount,
		})
	}
	if res.Completion != nil {
		s.announceCompletion(res.Completion)
	}

	return &SwipeAck{
		SessionID:    sessionID,
		RestaurantID: req.RestaurantID,
		Direction:    string(res.Event.Direction),
		Duplicate:    res.Duplicate,
		SequenceNo:   res.Event.SequenceNo,
		MatchFormed:  res.MatchFormed,
	}, nil
}

// announceMatch broadcasts a newly formed match with its restaurant details.
// Reconciled matches that completed the session announce that too.
func (s *Service) announceMatch(ctx context.Context, groupID string, outcome *lifecycle.MatchOutcome) {
	match := outcome.Match
	s.metrics.MatchesFormed.Inc()

	restaurant, err := retry.Do(ctx, s.retry, func() (*domain.Restaurant, error) {
		return s.store.GetCandidate(ctx, match.SessionID, match.RestaurantID)
	})
	if err != nil || restaurant == nil {
		s.logger.Warn("match restaurant lookup failed",
			zap.String("session_id", match.SessionID),
			zap.String("restaurant_id", match.RestaurantID),
			zap.Error(err))
		restaurant = &domain.Restaurant{RestaurantID: match.RestaurantID}
	}

	s.publish(groupID, domain.EventTypeMatchFound, domain.MatchFoundPayload{
		SessionID:  match.SessionID,
		MatchID:    match.MatchID,
		Ordinal:    match.Ordinal,
		Restaurant: *restaurant,
		Voters:     match.Voters,
	})
	if outcome.Completed {
		s.announceCompletion(&lifecycle.Completion{Session: outcome.Session, Matches: outcome.Matches})
	}
}

func outcomeOf(err error) string {
	if retry.IsPermanent(err) {
		return metrics.OutcomeRejected
	}
	return metrics.OutcomeFailed
}
