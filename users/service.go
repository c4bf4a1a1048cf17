// Package users, as part of the user account module.
// This file, `service.go`, contains the account orchestration: signup, login,
// logout, profile updates and account deletion. Each operation is a short
// sequence over the Credentials store, the TokenManager, the task service
// and the mail dispatcher.
package users

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/user/taskmanager-go/apperror"
	"github.com/user/taskmanager-go/auth"
	"github.com/user/taskmanager-go/notify"
	"github.com/user/taskmanager-go/patch"
)

// AllowedUpdates are the user fields a PATCH /users/me may change.
var AllowedUpdates = []string{"name", "email", "password", "age"}

// TaskRemover deletes every task owned by a user.
type TaskRemover interface {
	DeleteByOwner(ctx context.Context, owner string) error
}

// Mailer queues an email for delivery without waiting for it.
type Mailer interface {
	Enqueue(msg notify.Message) bool
}

// AccountService orchestrates account operations.
type AccountService struct {
	users       auth.UserRepository
	credentials *auth.Credentials
	tokens      *auth.TokenManager
	tasks       TaskRemover
	mailer      Mailer
	log         *zap.Logger
	avatars     AvatarPolicy
}

// NewAccountService wires an AccountService.
func NewAccountService(
	users auth.UserRepository,
	credentials *auth.Credentials,
	tokens *auth.TokenManager,
	tasks TaskRemover,
	mailer Mailer,
	avatars AvatarPolicy,
	log *zap.Logger,
) *AccountService {
	return &AccountService{
		users:       users,
		credentials: credentials,
		tokens:      tokens,
		tasks:       tasks,
		mailer:      mailer,
		avatars:     avatars,
		log:         log,
	}
}

// Signup creates the user, queues the welcome email and opens the first session.
func (s *AccountService) Signup(ctx context.Context, req auth.SignupRequest) (*auth.AuthResponse, error) {
	u, err := s.credentials.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	s.log.Info("user signed up", zap.String("user_id", u.ID))

	s.mailer.Enqueue(notify.Welcome(notify.Recipient{Email: u.Email, Name: u.Name}))

	token, err := s.tokens.Issue(ctx, u)
	if err != nil {
		return nil, err
	}
	return &auth.AuthResponse{User: u, Token: token}, nil
}

// Login verifies credentials and opens a new session. Every credential
// failure is the same BadRequest so callers cannot probe for accounts.
func (s *AccountService) Login(ctx context.Context, req auth.LoginRequest) (*auth.AuthResponse, error) {
	u, err := s.credentials.Verify(ctx, req.Email, req.Password)
	if err != nil {
		if apperror.IsAuthError(err) {
			return nil, apperror.NewBadRequestError(err.Error(), nil)
		}
		return nil, err
	}

	token, err := s.tokens.Issue(ctx, u)
	if err != nil {
		return nil, err
	}
	return &auth.AuthResponse{User: u, Token: token}, nil
}

// Logout revokes only the session that made the request.
func (s *AccountService) Logout(ctx context.Context, session *auth.Session) error {
	return s.tokens.Revoke(ctx, session.User, session.Token)
}

// LogoutAll revokes every session of the acting user.
func (s *AccountService) LogoutAll(ctx context.Context, session *auth.Session) error {
	return s.tokens.RevokeAll(ctx, session.User)
}

// Update applies a whitelisted partial update to the acting user's profile.
// If any requested key is outside AllowedUpdates nothing is changed.
func (s *AccountService) Update(ctx context.Context, session *auth.Session, fields patch.Fields) (*auth.User, error) {
	next := session.User.Clone()
	err := patch.Apply(fields, AllowedUpdates, func(field string, raw json.RawMessage) error {
		switch field {
		case "name":
			return patch.Decode(field, raw, &next.Name)
		case "email":
			return patch.Decode(field, raw, &next.Email)
		case "password":
			var plain string
			if err := patch.Decode(field, raw, &plain); err != nil {
				return err
			}
			next.SetPassword(plain)
		case "age":
			return patch.Decode(field, raw, &next.Age)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.credentials.Save(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Delete removes the acting user's tasks and then the user, queues the
// cancellation email and returns the user as it was before deletion.
//
// The two deletes are not atomic. A crash between them leaves a user with no
// tasks, which a retried delete completes.
func (s *AccountService) Delete(ctx context.Context, session *auth.Session) (*auth.User, error) {
	u := session.User
	if err := s.tasks.DeleteByOwner(ctx, u.ID); err != nil {
		return nil, err
	}
	if err := s.users.Delete(ctx, u.ID); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil, apperror.NewNotFoundError("user not found", nil)
		}
		return nil, apperror.NewDatabaseError("failed to delete user", err)
	}
	s.log.Info("user deleted", zap.String("user_id", u.ID))

	s.mailer.Enqueue(notify.Cancellation(notify.Recipient{Email: u.Email, Name: u.Name}))
	return u, nil
}
