// Package repository defines the storage interface and implementations.
package repository

import (
	"context"

	"github.com/xiaot623/dinematch/internal/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Group roster operations
	GetGroup(ctx context.Context, groupID string) (*domain.Group, error)
	SaveGroup(ctx context.Context, group *domain.Group) error
	AddGroupMembers(ctx context.Context, groupID string, members []domain.GroupMember, maxMembers int) error
	RemoveGroupMember(ctx context.Context, groupID, userID string) (bool, error)
	UpsertGroupMember(ctx context.Context, member *domain.GroupMember) error
	GetGroupMember(ctx context.Context, groupID, userID string) (*domain.GroupMember, error)
	ListGroupMembers(ctx context.Context, groupID string) ([]domain.GroupMember, error)

	// Session operations
	CreateSession(ctx context.Context, session *domain.Session, memberIDs []string) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	GetActiveSessionForGroup(ctx context.Context, groupID string) (*domain.Session, error)
	GetMembership(ctx context.Context, sessionID string) (*domain.Membership, error)
	UpdateSessionStatus(ctx context.Context, sessionID string, from, to domain.SessionStatus) (bool, error)

	// Swipe operations
	AppendSwipeEvent(ctx context.Context, event *domain.SwipeEvent) error
	GetSwipeEvent(ctx context.Context, sessionID, userID, restaurantID string) (*domain.SwipeEvent, error)
	ListSwipeEvents(ctx context.Context, sessionID string) ([]domain.SwipeEvent, error)

	// Match operations
	InsertMatchIfAbsent(ctx context.Context, match *domain.Match) (*MatchInsert, error)
	ListMatches(ctx context.Context, sessionID string) ([]domain.Match, error)

	// Candidate feed operations
	AppendCandidates(ctx context.Context, sessionID string, restaurants []domain.Restaurant, exhausted bool) error
	GetCandidateQueue(ctx context.Context, sessionID string) (*domain.CandidateQueue, error)
	GetCandidate(ctx context.Context, sessionID, restaurantID string) (*domain.Restaurant, error)

	// Lifecycle
	Close() error
}

// MatchInsert is the outcome of InsertMatchIfAbsent.
type MatchInsert struct {
	// Match is the stored row, either the one just inserted or the existing one.
	Match domain.Match
	// Created is true only for the call that inserted the row.
	Created bool
	// Session reflects current_match_count after the insert.
	Session domain.Session
}
