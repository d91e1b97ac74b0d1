package square

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidSquareID indicates that a square identifier is empty or exceeds storage bounds.
	ErrInvalidSquareID = errors.New("square: invalid square id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("square: invalid user id")
)

// ID identifies a venue-scoped namespace. Every ledger row is partitioned by it.
type ID string

// NewID validates raw input and returns a square ID.
func NewID(rawInput string) (ID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSquareID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSquareID, maxIdentifierLength)
	}
	return ID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// User is the authenticated identity every operation acts on behalf of.
type User struct {
	ID          UserID
	DisplayName string
	AvatarRef   string
}

// Valid reports whether the user carries a resolvable identity.
func (u User) Valid() bool {
	return strings.TrimSpace(u.ID.String()) != ""
}

// Clock supplies wall-clock timestamps.
type Clock func() time.Time

// IDProvider issues unique record identifiers.
type IDProvider interface {
	NewID() (string, error)
}
