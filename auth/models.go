// Package auth, as part of the authentication module.
// This file, `models.go`, defines the User entity shared by the auth and users
// packages, and the Token entries that make up a user's session list.
package auth

import (
	"strings"
	"time"
)

// Token is one entry in a user's session list. A user holds one Token per
// active session, in the order the sessions were created.
type Token struct {
	Token string `json:"token"`
}

// User represents an account in the system.
// `json:"-"` hides the password hash, the session list and the avatar blob
// from every API response.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Password  string    `json:"-"` // bcrypt hash once persisted
	Age       int       `json:"age"`
	Avatar    []byte    `json:"-"`
	Tokens    []Token   `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// pendingPassword holds a plaintext password between SetPassword and the
	// next Credentials write, which hashes it into Password.
	pendingPassword *string
}

// SetPassword stages a new plaintext password. It is validated and hashed by
// the next Credentials.Create or Credentials.Save; until then Password keeps
// the previous hash.
func (u *User) SetPassword(plain string) {
	p := strings.TrimSpace(plain)
	u.pendingPassword = &p
}

// PasswordPending reports whether a staged plaintext password is waiting to be hashed.
func (u *User) PasswordPending() bool {
	return u.pendingPassword != nil
}

// HasToken reports whether token is still in the user's live session list.
func (u *User) HasToken(token string) bool {
	for _, t := range u.Tokens {
		if t.Token == token {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the user. Stores hand out clones so callers
// never share slices with stored state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Avatar != nil {
		c.Avatar = append([]byte(nil), u.Avatar...)
	}
	if u.Tokens != nil {
		c.Tokens = append([]Token(nil), u.Tokens...)
	}
	if u.pendingPassword != nil {
		p := *u.pendingPassword
		c.pendingPassword = &p
	}
	return &c
}

// normalizeEmail lowercases and trims an address the way it is stored.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
