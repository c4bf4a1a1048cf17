package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/user/taskmanager-go/apperror"
	"github.com/user/taskmanager-go/config"
)

// Claims represents the JWT claims.
// It embeds `jwt.RegisteredClaims` for standard claims (jti, iat, exp) and
// binds the user's identity under `_id`.
type Claims struct {
	UserID string `json:"_id"`
	jwt.RegisteredClaims
}

// TokenManager issues and revokes bearer tokens. A user's token list in the
// repository is the authority: a token with a valid signature that is no
// longer in the list does not resolve.
type TokenManager struct {
	repo   UserRepository
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager creates a TokenManager. A zero TokenDuration mints tokens
// without an exp claim.
func NewTokenManager(repo UserRepository, cfg config.AuthConfig) *TokenManager {
	return &TokenManager{
		repo:   repo,
		secret: []byte(cfg.JWTSecret),
		ttl:    cfg.TokenDuration,
		now:    time.Now,
	}
}

// Issue mints a token for u and appends it to u's session list.
// u.Tokens is updated only after the store accepted the append.
func (m *TokenManager) Issue(ctx context.Context, u *User) (string, error) {
	token, err := m.sign(u.ID)
	if err != nil {
		return "", apperror.NewInternalError("failed to sign token", err)
	}
	entry := Token{Token: token}
	if err := m.repo.AppendToken(ctx, u.ID, entry); err != nil {
		return "", apperror.NewDatabaseError("failed to store session", err)
	}
	u.Tokens = append(u.Tokens, entry)
	return token, nil
}

// Resolve verifies the token's signature, loads the bound user and checks the
// token is still in that user's live session list.
func (m *TokenManager) Resolve(ctx context.Context, token string) (*User, *Claims, error) {
	claims, err := m.parse(token)
	if err != nil {
		return nil, nil, apperror.NewAuthError("invalid token", err)
	}

	u, err := m.repo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, apperror.NewAuthError("token user no longer exists", nil)
		}
		return nil, nil, apperror.NewDatabaseError("failed to load user", err)
	}
	if !u.HasToken(token) {
		return nil, nil, apperror.NewAuthError("token has been revoked", nil)
	}
	return u, claims, nil
}

// Revoke removes exactly one token from u's session list.
func (m *TokenManager) Revoke(ctx context.Context, u *User, token string) error {
	if err := m.repo.RemoveToken(ctx, u.ID, token); err != nil {
		return apperror.NewDatabaseError("failed to remove session", err)
	}
	kept := make([]Token, 0, len(u.Tokens))
	for _, t := range u.Tokens {
		if t.Token != token {
			kept = append(kept, t)
		}
	}
	u.Tokens = kept
	return nil
}

// RevokeAll empties u's session list.
func (m *TokenManager) RevokeAll(ctx context.Context, u *User) error {
	if err := m.repo.ClearTokens(ctx, u.ID); err != nil {
		return apperror.NewDatabaseError("failed to remove sessions", err)
	}
	u.Tokens = []Token{}
	return nil
}

func (m *TokenManager) sign(userID string) (string, error) {
	now := m.now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			// jti keeps two tokens minted in the same second distinct.
			ID:       uuid.NewString(),
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if m.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *TokenManager) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no _id claim")
	}
	return claims, nil
}
