package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/dinematch/internal/domain"
	"github.com/xiaot623/dinematch/internal/lifecycle"
	"github.com/xiaot623/dinematch/internal/retry"
	"github.com/xiaot623/dinematch/internal/validation"
)

// StartSessionRequest starts a session for a group.
type StartSessionRequest struct {
	GroupID     string             `json:"group_id" validate:"required,max=128"`
	MaxMatches  int                `json:"max_matches" validate:"omitempty,min=1,max=20"`
	Constraints ConstraintsRequest `json:"constraints"`
}

// ConstraintsRequest bounds the candidate search. The engine stores it as is.
type ConstraintsRequest struct {
	PriceMin int      `json:"price_min" validate:"omitempty,min=1,max=4"`
	PriceMax int      `json:"price_max" validate:"omitempty,min=1,max=4,gtefield=PriceMin"`
	RadiusM  int      `json:"radius_m" validate:"omitempty,min=1000,max=50000"`
	Cuisines []string `json:"cuisines" validate:"max=20,dive,required,max=64"`
}

// StartSession snapshots the group roster and opens a session. Only one
// session per group may be active.
func (s *Service) StartSession(ctx context.Context, userID string, req StartSessionRequest) (*domain.Session, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	member, err := retry.Do(ctx, s.retry, func() (*domain.GroupMember, error) {
		return s.store.GetGroupMember(ctx, req.GroupID, userID)
	})
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, domain.ErrNotAMember
	}

	roster, err := s.roster(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	if len(roster) < domain.MinConsensusMembers {
		return nil, domain.ErrInsufficientMembers
	}
	group, err := s.group(ctx, req.GroupID, roster)
	if err != nil {
		return nil, err
	}
	if len(roster) > group.MaxMembers {
		return nil, domain.ErrGroupFull
	}
	memberIDs := make([]string, len(roster))
	for i, m := range roster {
		memberIDs[i] = m.UserID
	}

	maxMatches := req.MaxMatches
	if maxMatches == 0 {
		maxMatches = s.config.DefaultMaxMatches
	}
	if maxMatches <= 0 {
		maxMatches = domain.DefaultMaxMatches
	}

	session := &domain.Session{
		SessionID:  "sess_" + uuid.New().String(),
		GroupID:    req.GroupID,
		Status:     domain.SessionStatusActive,
		CreatedBy:  userID,
		MaxMatches: maxMatches,
		Constraints: domain.Constraints{
			PriceMin: req.Constraints.PriceMin,
			PriceMax: req.Constraints.PriceMax,
			RadiusM:  req.Constraints.RadiusM,
			Cuisines: req.Constraints.Cuisines,
		},
		CreatedAt: time.Now(),
	}
	// The partial unique index on active sessions rejects a concurrent start.
	if err := retry.Exec(ctx, s.retry, func() error {
		return s.store.CreateSession(ctx, session, memberIDs)
	}); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("group %s already has an active session: %w", req.GroupID, domain.ErrConflict)
		}
		return nil, err
	}

	s.metrics.SessionsStarted.Inc()
	s.logger.Info("session started",
		zap.String("session_id", session.SessionID),
		zap.String("group_id", session.GroupID),
		zap.Int("members", len(memberIDs)),
		zap.Int("max_matches", maxMatches))
	s.publish(session.GroupID, domain.EventTypeSessionStarted, domain.SessionStartedPayload{
		SessionID:   session.SessionID,
		CreatedBy:   userID,
		MaxMatches:  maxMatches,
		MemberCount: len(memberIDs),
	})
	return session, nil
}

// authorizeViewer lets any member of the session snapshot read it, whatever its status.
func (s *Service) authorizeViewer(ctx context.Context, sessionID, userID string) (*domain.Session, *domain.Membership, error) {
	session, err := retry.Do(ctx, s.retry, func() (*domain.Session, error) {
		return s.store.GetSession(ctx, sessionID)
	})
	if err != nil {
		return nil, nil, err
	}
	if session == nil {
		return nil, nil, domain.ErrNotFound
	}
	membership, err := s.gate.Membership(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !membership.Contains(userID) {
		return nil, nil, domain.ErrNotAMember
	}
	return session, membership, nil
}

// GetSessionState returns what a reconnecting member needs to resynchronize.
func (s *Service) GetSessionState(ctx context.Context, sessionID, userID string) (*domain.SessionState, error) {
	session, membership, err := s.authorizeViewer(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	matches, err := retry.Do(ctx, s.retry, func() ([]domain.Match, error) {
		return s.store.ListMatches(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return &domain.SessionState{
		Session:     *session,
		Status:      session.Status,
		Matches:     matches,
		MemberCount: membership.Size(),
	}, nil
}

// ListMatches returns the session's matches in the order they formed.
func (s *Service) ListMatches(ctx context.Context, sessionID, userID string) ([]domain.Match, error) {
	if _, _, err := s.authorizeViewer(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	return retry.Do(ctx, s.retry, func() ([]domain.Match, error) {
		return s.store.ListMatches(ctx, sessionID)
	})
}

// CancelSession ends a session without completing it.
func (s *Service) CancelSession(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	completion, err := s.lifecycle.Cancel(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	s.finished(completion)
	s.publish(completion.Session.GroupID, domain.EventTypeSessionCancelled, domain.SessionCancelledPayload{
		SessionID:   sessionID,
		CancelledBy: userID,
	})
	return &completion.Session, nil
}

// CompleteSession ends a session whose candidate feed has run dry.
func (s *Service) CompleteSession(ctx context.Context, sessionID, userID string) (*lifecycle.Completion, error) {
	completion, err := s.lifecycle.Complete(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	s.announceCompletion(completion)
	return completion, nil
}

func (s *Service) announceCompletion(completion *lifecycle.Completion) {
	s.finished(completion)
	s.publish(completion.Session.GroupID, domain.EventTypeSessionComplete, domain.SessionCompletePayload{
		SessionID: completion.Session.SessionID,
		Matches:   completion.Matches,
	})
}

// finished releases per-session caches once a session is terminal.
func (s *Service) finished(completion *lifecycle.Completion) {
	s.gate.Forget(completion.Session.SessionID)
	s.metrics.SessionsFinished.WithLabelValues(string(completion.Session.Status)).Inc()
}

// AnnouncePresence broadcasts who is connected to the session's group room.
func (s *Service) AnnouncePresence(ctx context.Context, groupID, sessionID string, connected []string) {
	membership, err := s.gate.Membership(ctx, sessionID)
	if err != nil {
		s.logger.Warn("presence skipped", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	s.publish(groupID, domain.EventTypePresence, domain.PresencePayload{
		SessionID:        sessionID,
		ConnectedMembers: connected,
		TotalMembers:     membership.Size(),
	})
}
