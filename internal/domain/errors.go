package domain

import "errors"

// Domain errors.
var (
	ErrNotAMember             = errors.New("user is not a member of this session")
	ErrSessionNotActive       = errors.New("session is not active")
	ErrSessionAlreadyTerminal = errors.New("session is already completed or cancelled")
	ErrDuplicateSwipe         = errors.New("restaurant already swiped in this session")
	ErrStoreUnavailable       = errors.New("store unavailable, retry later")
	ErrConflict               = errors.New("record already exists")
	ErrNotFound               = errors.New("not found")
	ErrUnknownRestaurant      = errors.New("restaurant is not part of this session")
	ErrForbidden              = errors.New("action not permitted")
	ErrInsufficientMembers    = errors.New("at least two group members are required")
	ErrInvalidDirection       = errors.New("direction must be left or right")
	ErrFeedNotExhausted       = errors.New("candidate feed is not exhausted")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrGroupFull              = errors.New("group is full")
	ErrAdminCannotLeave       = errors.New("group admins cannot leave the group")
)

// Error codes sent to clients.
const (
	ErrorCodeNotAMember        = "not_a_member"
	ErrorCodeSessionNotActive  = "session_not_active"
	ErrorCodeAlreadyTerminal   = "session_already_terminal"
	ErrorCodeDuplicateSwipe    = "duplicate_swipe"
	ErrorCodeStoreUnavailable  = "store_unavailable"
	ErrorCodeNotFound          = "not_found"
	ErrorCodeUnknownRestaurant = "unknown_restaurant"
	ErrorCodeForbidden         = "forbidden"
	ErrorCodeInsufficient      = "insufficient_members"
	ErrorCodeInvalidRequest    = "invalid_request"
	ErrorCodeFeedNotExhausted  = "feed_not_exhausted"
	ErrorCodeConflict          = "conflict"
	ErrorCodeGroupFull         = "group_full"
	ErrorCodeAdminCannotLeave  = "admin_cannot_leave"
	ErrorCodeInternal          = "internal_error"
)

// ErrorCode maps err to the code reported to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotAMember):
		return ErrorCodeNotAMember
	case errors.Is(err, ErrSessionNotActive):
		return ErrorCodeSessionNotActive
	case errors.Is(err, ErrSessionAlreadyTerminal):
		return ErrorCodeAlreadyTerminal
	case errors.Is(err, ErrDuplicateSwipe):
		return ErrorCodeDuplicateSwipe
	case errors.Is(err, ErrStoreUnavailable):
		return ErrorCodeStoreUnavailable
	case errors.Is(err, ErrNotFound):
		return ErrorCodeNotFound
	case errors.Is(err, ErrUnknownRestaurant):
		return ErrorCodeUnknownRestaurant
	case errors.Is(err, ErrForbidden):
		return ErrorCodeForbidden
	case errors.Is(err, ErrInsufficientMembers):
		return ErrorCodeInsufficient
	case errors.Is(err, ErrInvalidDirection), errors.Is(err, ErrInvalidRequest):
		return ErrorCodeInvalidRequest
	case errors.Is(err, ErrFeedNotExhausted):
		return ErrorCodeFeedNotExhausted
	case errors.Is(err, ErrConflict):
		return ErrorCodeConflict
	case errors.Is(err, ErrGroupFull):
		return ErrorCodeGroupFull
	case errors.Is(err, ErrAdminCannotLeave):
		return ErrorCodeAdminCannotLeave
	default:
		return ErrorCodeInternal
	}
}
