package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/user/taskmanager-go/apperror"
)

// errUnableToLogin is shared by every credential failure so callers cannot
// tell an unknown email from a wrong password.
const errUnableToLogin = "unable to login"

// Credentials owns user records on the write path and verifies logins.
//
// Every write of a user's profile fields goes through Create or Save, which
// normalise and validate the user and hash a staged password before the
// repository sees it.
type Credentials struct {
	repo  UserRepository
	cost  int
	now   func() time.Time
	newID func() string

	dummyOnce sync.Once
	dummyHash []byte
}

// NewCredentials creates a Credentials store on top of repo.
// cost is the bcrypt work factor; values outside bcrypt's range fall back to the default.
func NewCredentials(repo UserRepository, cost int) *Credentials {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Credentials{
		repo:  repo,
		cost:  cost,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Create validates and persists a new user from a signup request.
func (c *Credentials) Create(ctx context.Context, req SignupRequest) (*User, error) {
	now := c.now()
	u := &User{
		ID:        c.newID(),
		Name:      req.Name,
		Email:     req.Email,
		Age:       req.Age,
		Tokens:    []Token{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	u.SetPassword(req.Password)

	if err := c.beforeSave(u); err != nil {
		return nil, err
	}
	if err := c.repo.Create(ctx, u); err != nil {
		return nil, c.writeError(err)
	}
	return u, nil
}

// Save persists changes to an existing user's profile fields (name, email,
// password, age), re-running the same normalisation, validation and hashing
// as Create.
func (c *Credentials) Save(ctx context.Context, u *User) error {
	u.UpdatedAt = c.now()
	if err := c.beforeSave(u); err != nil {
		return err
	}
	if err := c.repo.Update(ctx, u); err != nil {
		return c.writeError(err)
	}
	return nil
}

// Verify looks up a user by email and checks the password.
// Both "no such user" and "wrong password" return the same AuthError.
func (c *Credentials) Verify(ctx context.Context, email, password string) (*User, error) {
	u, err := c.repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Spend the same bcrypt time as a real comparison.
			_ = bcrypt.CompareHashAndPassword(c.timingHash(), []byte(password))
			return nil, apperror.NewAuthError(errUnableToLogin, nil)
		}
		return nil, apperror.NewDatabaseError("failed to look up user", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		return nil, apperror.NewAuthError(errUnableToLogin, nil)
	}
	return u, nil
}

// beforeSave is the pre-write hook: normalise, validate, hash, then check
// that what is about to be written is a hash.
func (c *Credentials) beforeSave(u *User) error {
	u.Name = strings.TrimSpace(u.Name)
	u.Email = normalizeEmail(u.Email)

	if err := validateUser(u); err != nil {
		return err
	}

	if u.pendingPassword != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*u.pendingPassword), c.cost)
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return apperror.NewValidationError("User validation failed", err).
				WithFields(map[string]string{"password": "must be at most 72 bytes"})
		}
		if err != nil {
			return apperror.NewInternalError("failed to hash password", err)
		}
		u.Password = string(hash)
		u.pendingPassword = nil
	}
	return ensureHashed(u.Password)
}

// ensureHashed refuses any password value that is not a bcrypt hash, so a
// plaintext can never be handed to the repository.
func ensureHashed(stored string) error {
	if _, err := bcrypt.Cost([]byte(stored)); err != nil {
		return apperror.NewInternalError("refusing to store an unhashed password", err)
	}
	return nil
}

func (c *Credentials) writeError(err error) error {
	switch {
	case errors.Is(err, ErrEmailTaken):
		return apperror.NewValidationError("User validation failed", err).
			WithFields(map[string]string{"email": "is already registered"})
	case errors.Is(err, ErrUserNotFound):
		return apperror.NewNotFoundError("user not found", err)
	default:
		return apperror.NewDatabaseError("failed to save user", err)
	}
}

func (c *Credentials) timingHash() []byte {
	c.dummyOnce.Do(func() {
		c.dummyHash, _ = bcrypt.GenerateFromPassword([]byte(uuid.NewString()), c.cost)
	})
	return c.dummyHash
}
