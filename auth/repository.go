package auth

import (
	"context"
	"errors"
)

var (
	// ErrUserNotFound is returned by repositories when no user matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken is returned by repositories when a write would duplicate an email.
	ErrEmailTaken = errors.New("email already registered")
)

// UserRepository is the durable store for users.
//
// Token-list mutations are separate single-step operations so that concurrent
// logins and logouts on the same user are applied against the latest stored
// list instead of overwriting each other.
type UserRepository interface {
	// Create inserts a new user. The user's ID and timestamps are already set.
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	// FindByEmail expects an already normalized email.
	FindByEmail(ctx context.Context, email string) (*User, error)
	// Update writes name, email, password, age and updatedAt.
	// It never touches tokens or avatar.
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id string) error

	AppendToken(ctx context.Context, userID string, t Token) error
	RemoveToken(ctx context.Context, userID, token string) error
	ClearTokens(ctx context.Context, userID string) error

	// SetAvatar stores the blob, or unsets it when avatar is nil.
	SetAvatar(ctx context.Context, userID string, avatar []byte) error
}
