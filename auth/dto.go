// Package auth provides authentication and authorization functionality
// This file, `dto.go` (Data Transfer Object), defines structures used for
// transferring data in API requests and responses related to authentication.
package auth

// SignupRequest represents the signup request payload.
// Struct tags `json:"..."` define how these fields map to JSON keys.
type SignupRequest struct {
	Name     string `json:"name" example:"Rodney"`
	Email    string `json:"email" example:"rodney@example.com"`
	Password string `json:"password" example:"MyPass123"`
	Age      int    `json:"age" example:"27"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email" example:"rodney@example.com"`
	Password string `json:"password" example:"MyPass123"`
}

// AuthResponse is returned on signup and login: the public user plus the
// bearer token minted for the new session.
type AuthResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
}
