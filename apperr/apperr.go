// apperr/apperr.go
package apperr

import (
	"errors"
	"fmt"
)

// Kind 错误分类，决定错误如何回送给客户端
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindAuthorization
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "state_conflict"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindFatal:
		return "fatal"
	default:
		return "internal"
	}
}

// Error is a tagged error. Sentinels below are compared with errors.Is.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrMalformedEnvelope = newError(KindValidation, "MalformedEnvelope", "malformed envelope")
	ErrInvalidInput      = newError(KindValidation, "InvalidInput", "invalid input")
	ErrOutOfRange        = newError(KindValidation, "OutOfRange", "position out of range")
	ErrUnknownType       = newError(KindValidation, "UnknownType", "unknown envelope type")

	ErrNotYourTurn       = newError(KindConflict, "NotYourTurn", "not your turn")
	ErrCellOccupied      = newError(KindConflict, "CellOccupied", "cell already occupied")
	ErrGameNotActive     = newError(KindConflict, "GameNotActive", "game is not in progress")
	ErrAlreadyQueued     = newError(KindConflict, "AlreadyQueued", "already in matchmaking queue")
	ErrAlreadyInGame     = newError(KindConflict, "AlreadyInGame", "already playing an active game")
	ErrDuplicatePending  = newError(KindConflict, "DuplicatePending", "an identical invitation is already pending")
	ErrRoomFull          = newError(KindConflict, "RoomFull", "room is full")
	ErrAlreadyResolved   = newError(KindConflict, "AlreadyResolved", "invitation already resolved")
	ErrAlreadyMember     = newError(KindConflict, "AlreadyMember", "already a member of the room")
	ErrInvitationExpired = newError(KindConflict, "InvitationExpired", "invitation expired")
	ErrRematchNotReady   = newError(KindConflict, "RematchNotReady", "rematch needs both players and a finished game")
	ErrNotConnected      = newError(KindConflict, "NotConnected", "no live connection for this user")

	ErrRoomNotFound       = newError(KindNotFound, "RoomNotFound", "room not found")
	ErrInvitationNotFound = newError(KindNotFound, "InvitationNotFound", "invitation not found")
	ErrGameNotFound       = newError(KindNotFound, "GameNotFound", "game not found")
	ErrUserNotFound       = newError(KindNotFound, "UserNotFound", "user not found")

	ErrNotAuthorized    = newError(KindAuthorization, "NotAuthorized", "not authorized")
	ErrNotInvitee       = newError(KindAuthorization, "NotInvitee", "not the invitee")
	ErrNotAuthenticated = newError(KindAuthorization, "NotAuthenticated", "authenticate first")

	ErrCorruptState = newError(KindFatal, "CorruptState", "game state invariant violated")
)

// KindOf returns the Kind of the first tagged error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first tagged error in err's chain, or "Internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "Internal"
}

// Wrap attaches detail to a sentinel while keeping it matchable.
func Wrap(sentinel *Error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
