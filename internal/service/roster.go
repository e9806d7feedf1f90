package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/dinematch/internal/domain"
	"github.com/xiaot623/dinematch/internal/policy"
	"github.com/xiaot623/dinematch/internal/retry"
	"github.com/xiaot623/dinematch/internal/validation"
)

// RosterRequest adds or updates group members.
type RosterRequest struct {
	Members []RosterEntry `json:"members" validate:"required,min=1,max=50,dive"`
}

// RosterEntry is one member of a roster update.
type RosterEntry struct {
	UserID string `json:"user_id" validate:"required,max=128"`
	Role   string `json:"role" validate:"omitempty,oneof=member admin"`
}

// GroupSettingsRequest changes a group's settings.
type GroupSettingsRequest struct {
	MaxMembers int `json:"max_members" validate:"required,min=2,max=20"`
}

// GroupView is a group's settings with its roster.
type GroupView struct {
	Group   domain.Group         `json:"group"`
	Members []domain.GroupMember `json:"members"`
}

func (s *Service) roster(ctx context.Context, groupID string) ([]domain.GroupMember, error) {
	return retry.Do(ctx, s.retry, func() ([]domain.GroupMember, error) {
		return s.store.ListGroupMembers(ctx, groupID)
	})
}

func (s *Service) defaultMaxMembers() int {
	if s.config.DefaultMaxMembers > 0 {
		return s.config.DefaultMaxMembers
	}
	return domain.DefaultMaxMembers
}

// group returns the group's settings. A group with a roster but no saved
// settings gets the defaults; an unknown group yields nil.
func (s *Service) group(ctx context.Context, groupID string, roster []domain.GroupMember) (*domain.Group, error) {
	g, err := retry.Do(ctx, s.retry, func() (*domain.Group, error) {
		return s.store.GetGroup(ctx, groupID)
	})
	if err != nil || g != nil {
		return g, err
	}
	if len(roster) == 0 {
		return nil, nil
	}
	return &domain.Group{
		GroupID:    groupID,
		MaxMembers: s.defaultMaxMembers(),
		CreatedBy:  roster[0].UserID,
		CreatedAt:  roster[0].JoinedAt,
	}, nil
}

// authorizeRoster checks that actorID may change the roster.
func (s *Service) authorizeRoster(ctx context.Context, roster []domain.GroupMember, actorID string) error {
	in := policy.Input{Action: policy.ActionManageRoster, ActorID: actorID, RosterEmpty: len(roster) == 0}
	for _, m := range roster {
		if m.UserID == actorID {
			in.ActorRole = string(m.Role)
		}
	}
	decision, err := s.policy.Evaluate(ctx, in)
	if err != nil {
		return err
	}
	if decision != policy.DecisionAllow {
		return domain.ErrForbidden
	}
	return nil
}

// UpsertMembers writes roster entries for a group. The first writer of an
// empty roster becomes its admin; after that only admins may change it.
// The roster may not grow past the group's member cap.
// Running sessions keep the membership they started with.
func (s *Service) UpsertMembers(ctx context.Context, groupID, actorID string, req RosterRequest) ([]domain.GroupMember, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	roster, err := s.roster(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRoster(ctx, roster, actorID); err != nil {
		return nil, err
	}
	group, err := s.group(ctx, groupID, roster)
	if err != nil {
		return nil, err
	}
	created := group == nil
	if created {
		group = &domain.Group{GroupID: groupID, MaxMembers: s.defaultMaxMembers(), CreatedBy: actorID}
	}

	now := time.Now()
	entries := make([]domain.GroupMember, 0, len(req.Members)+1)
	if len(roster) == 0 {
		entries = append(entries, domain.GroupMember{GroupID: groupID, UserID: actorID, Role: domain.MemberRoleAdmin, JoinedAt: now})
	}
	for _, e := range req.Members {
		if len(roster) == 0 && e.UserID == actorID {
			continue
		}
		role := domain.MemberRole(e.Role)
		if role == "" {
			role = domain.MemberRoleMember
		}
		entries = append(entries, domain.GroupMember{GroupID: groupID, UserID: e.UserID, Role: role, JoinedAt: now})
	}
	if err := retry.Exec(ctx, s.retry, func() error {
		return s.store.AddGroupMembers(ctx, groupID, entries, group.MaxMembers)
	}); err != nil {
		return nil, err
	}
	if created {
		if err := retry.Exec(ctx, s.retry, func() error {
			return s.store.SaveGroup(ctx, group)
		}); err != nil {
			return nil, err
		}
	}
	s.logger.Info("roster updated", zap.String("group_id", groupID), zap.String("actor", actorID), zap.Int("entries", len(entries)))

	return s.roster(ctx, groupID)
}

// JoinGroup adds userID to an existing group as a member.
func (s *Service) JoinGroup(ctx context.Context, groupID, userID string) ([]domain.GroupMember, error) {
	roster, err := s.roster(ctx, groupID)
	if err != nil {
		return nil, err
	}
	group, err := s.group(ctx, groupID, roster)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, domain.ErrNotFound
	}
	for _, m := range roster {
		if m.UserID == userID {
			return nil, fmt.Errorf("%w: already a member of this group", domain.ErrConflict)
		}
	}

	entry := []domain.GroupMember{{GroupID: groupID, UserID: userID, Role: domain.MemberRoleMember}}
	if err := retry.Exec(ctx, s.retry, func() error {
		return s.store.AddGroupMembers(ctx, groupID, entry, group.MaxMembers)
	}); err != nil {
		return nil, err
	}
	s.logger.Info("member joined", zap.String("group_id", groupID), zap.String("user_id", userID))
	return s.roster(ctx, groupID)
}

// LeaveGroup removes userID from the roster. Admins cannot leave.
func (s *Service) LeaveGroup(ctx context.Context, groupID, userID string) error {
	member, err := retry.Do(ctx, s.retry, func() (*domain.GroupMember, error) {
		return s.store.GetGroupMember(ctx, groupID, userID)
	})
	if err != nil {
		return err
	}
	if member == nil {
		return domain.ErrNotAMember
	}
	if member.Role == domain.MemberRoleAdmin {
		return domain.ErrAdminCannotLeave
	}
	if err := retry.Exec(ctx, s.retry, func() error {
		_, err := s.store.RemoveGroupMember(ctx, groupID, userID)
		return err
	}); err != nil {
		return err
	}
	s.logger.Info("member left", zap.String("group_id", groupID), zap.String("user_id", userID))
	return nil
}

// UpdateGroupSettings changes the member cap. Only admins may do so, and
// the cap cannot drop below the current roster size.
func (s *Service) UpdateGroupSettings(ctx context.Context, groupID, actorID string, req GroupSettingsRequest) (*domain.Group, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	roster, err := s.roster(ctx, groupID)
	if err != nil {
		return nil, err
	}
	group, err := s.group(ctx, groupID, roster)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, domain.ErrNotFound
	}
	if err := s.authorizeRoster(ctx, roster, actorID); err != nil {
		return nil, err
	}
	if req.MaxMembers < len(roster) {
		return nil, fmt.Errorf("%w: max_members %d is below the roster size %d", domain.ErrInvalidRequest, req.MaxMembers, len(roster))
	}

	group.MaxMembers = req.MaxMembers
	if err := retry.Exec(ctx, s.retry, func() error {
		return s.store.SaveGroup(ctx, group)
	}); err != nil {
		return nil, err
	}
	return group, nil
}

// GetGroup returns a group's settings and roster to one of its members.
func (s *Service) GetGroup(ctx context.Context, groupID, actorID string) (*GroupView, error) {
	roster, err := s.ListMembers(ctx, groupID, actorID)
	if err != nil {
		return nil, err
	}
	group, err := s.group(ctx, groupID, roster)
	if err != nil {
		return nil, err
	}
	return &GroupView{Group: *group, Members: roster}, nil
}

// ListMembers returns a group's roster to one of its members.
func (s *Service) ListMembers(ctx context.Context, groupID, actorID string) ([]domain.GroupMember, error) {
	roster, err := s.roster(ctx, groupID)
	if err != nil {
		return nil, err
	}
	for _, m := range roster {
		if m.UserID == actorID {
			return roster, nil
		}
	}
	return nil, domain.ErrNotAMember
}
