// Package users encapsulates user account management: signup, login, sessions,
// the caller's own profile and avatars.
// This file, `handlers.go`, is responsible for handling HTTP requests related to users.
package users

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/user/taskmanager-go/apperror"
	"github.com/user/taskmanager-go/auth"
	"github.com/user/taskmanager-go/patch"
)

// avatarFormField is the multipart field carrying the avatar file.
const avatarFormField = "avatar"

// multipartOverhead is the allowance for multipart framing on top of the file itself.
const multipartOverhead = 64 << 10

// UserHandlers provides HTTP handlers for user account management.
type UserHandlers struct {
	service *AccountService
	log     *zap.Logger
}

// NewUserHandlers creates new UserHandlers.
func NewUserHandlers(service *AccountService, log *zap.Logger) *UserHandlers {
	return &UserHandlers{service: service, log: log}
}

// RegisterRoutes mounts the user endpoints on router. gate guards every
// route that needs an authenticated session.
func (h *UserHandlers) RegisterRoutes(router chi.Router, gate func(http.Handler) http.Handler) {
	router.Post("/", h.HandleSignup())
	router.Post("/login", h.HandleLogin())
	router.Get("/{id}/avatar", h.HandleGetAvatar())

	router.Group(func(r chi.Router) {
		r.Use(gate)
		r.Post("/logout", h.HandleLogout())
		r.Post("/logoutAll", h.HandleLogoutAll())
		r.Get("/me", h.HandleGetProfile())
		r.Patch("/me", h.HandleUpdateProfile())
		r.Delete("/me", h.HandleDeleteAccount())
		r.Post("/me/avatar", h.HandleUploadAvatar())
		r.Delete("/me/avatar", h.HandleDeleteAvatar())
	})
}

// HandleSignup godoc
// @Summary Create an account
// @Description Creates the user and opens its first session.
// @Tags users
// @Accept json
// @Produce json
// @Param user body auth.SignupRequest true "New account"
// @Success 201 {object} auth.AuthResponse
// @Failure 400 {object} apperror.ErrorResponse "Validation failed or email already registered"
// @Router /users [post]
func (h *UserHandlers) HandleSignup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.SignupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			auth.WriteError(w, r, h.log, apperror.NewBadRequestError("invalid request body", err))
			return
		}

		resp, err := h.service.Signup(r.Context(), req)
		if err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}
		auth.WriteJSON(w, http.StatusCreated, resp)
	}
}

// HandleLogin godoc
// @Summary Log in
// @Tags users
// @Accept json
// @Produce json
// @Param credentials body auth.LoginRequest true "Email and password"
// @Success 200 {object} auth.AuthResponse
// @Failure 400 {object} apperror.ErrorResponse "Unable to login"
// @Router /users/login [post]
func (h *UserHandlers) HandleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			auth.WriteError(w, r, h.log, apperror.NewBadRequestError("invalid request body", err))
			return
		}

		resp, err := h.service.Login(r.Context(), req)
		if err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}
		auth.WriteJSON(w, http.StatusOK, resp)
	}
}

// HandleLogout godoc
// @Summary End the current session
// @Tags users
// @Security BearerAuth
// @Success 200
// @Failure 401 {object} apperror.ErrorResponse
// @Router /users/logout [post]
func (h *UserHandlers) HandleLogout() http.HandlerFunc {
	return h.withSession(func(w http.ResponseWriter, r *http.Request, s *auth.Session) {
		if err := h.service.Logout(r.Context(), s); err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}
		auth.WriteJSON(w, http.StatusOK, nil)
	})
}

// HandleLogoutAll godoc
// @Summary End every session of the current user
// @Tags users
// @Security BearerAuth
// @Success 200
// @Failure 401 {object} apperror.ErrorResponse
// @Router /users/logoutAll [post]
func (h *UserHandlers) HandleLogoutAll() http.HandlerFunc {
	return h.withSession(func(w http.ResponseWriter, r *http.Request, s *auth.Session) {
		if err := h.service.LogoutAll(r.Context(), s); err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}
		auth.WriteJSON(w, http.StatusOK, nil)
	})
}

// HandleGetProfile godoc
// @Summary Get current user's profile
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} auth.User
// @Failure 401 {object} apperror.ErrorResponse
// @Router /users/me [get]
func (h *UserHandlers) HandleGetProfile() http.HandlerFunc {
	return h.withSession(func(w http.ResponseWriter, r *http.Request, s *auth.Session) {
		auth.WriteJSON(w, http.StatusOK, s.User)
	})
}

// HandleUpdateProfile godoc
// @Summary Update current user's profile
// @Description Accepts any of name, email, password and age. Any other key rejects the whole request.
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} auth.User
// @Failure 400 {object} apperror.ErrorResponse "Invalid updates or validation failed"
// @Router /users/me [patch]
func (h *UserHandlers) HandleUpdateProfile() http.HandlerFunc {
	return h.withSession(func(w http.ResponseWriter, r *http.Request, s *auth.Session) {
		fields, err := patch.DecodeBody(r.Body)
		if err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}

		u, err := h.service.Update(r.Context(), s, fields)
		if err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}
		auth.WriteJSON(w, http.StatusOK, u)
	})
}

// HandleDeleteAccount godoc
// @Summary Delete the current account and all of its tasks
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} auth.User "The deleted user"
// @Failure 401 {object} apperror.ErrorResponse
// @Router /users/me [delete]
func (h *UserHandlers) HandleDeleteAccount() http.HandlerFunc {
	return h.withSession(func(w http.ResponseWriter, r *http.Request, s *auth.Session) {
		u, err := h.service.Delete(r.Context(), s)
		if err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}
		auth.WriteJSON(w, http.StatusOK, u)
	})
}

// HandleUploadAvatar godoc
// @Summary Upload an avatar
// @Description Multipart upload in field "avatar". jpg, jpeg or png only; stored as a 250x250 PNG.
// @Tags users
// @Accept multipart/form-data
// @Security BearerAuth
// @Param avatar formData file true "Image file"
// @Success 200
// @Failure 400 {object} apperror.ErrorResponse
// @Router /users/me/avatar [post]
func (h *UserHandlers) HandleUploadAvatar() http.HandlerFunc {
	return h.withSession(func(w http.ResponseWriter, r *http.Request, s *auth.Session) {
		limit := h.service.avatars.maxBytes()
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

		file, header, err := r.FormFile(avatarFormField)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				auth.WriteError(w, r, h.log, apperror.NewBadRequestError(msgFileTooLarge, err))
				return
			}
			auth.WriteError(w, r, h.log, apperror.NewBadRequestError(msgNotAnImage, err))
			return
		}
		defer file.Close()

		if header.Size > limit {
			auth.WriteError(w, r, h.log, apperror.NewBadRequestError(msgFileTooLarge, nil))
			return
		}
		data, err := io.ReadAll(io.LimitReader(file, limit+1))
		if err != nil {
			auth.WriteError(w, r, h.log, apperror.NewBadRequestError("failed to read upload", err))
			return
		}

		if err := h.service.SetAvatar(r.Context(), s, header.Filename, data); err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}
		auth.WriteJSON(w, http.StatusOK, nil)
	})
}

// HandleDeleteAvatar godoc
// @Summary Remove the current user's avatar
// @Tags users
// @Security BearerAuth
// @Success 200
// @Router /users/me/avatar [delete]
func (h *UserHandlers) HandleDeleteAvatar() http.HandlerFunc {
	return h.withSession(func(w http.ResponseWriter, r *http.Request, s *auth.Session) {
		if err := h.service.ClearAvatar(r.Context(), s); err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}
		auth.WriteJSON(w, http.StatusOK, nil)
	})
}

// HandleGetAvatar godoc
// @Summary Fetch a user's avatar
// @Tags users
// @Produce png
// @Param id path string true "User id"
// @Success 200 {file} binary
// @Failure 404 {object} apperror.ErrorResponse
// @Router /users/{id}/avatar [get]
func (h *UserHandlers) HandleGetAvatar() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, contentType, err := h.service.Avatar(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

// withSession resolves the Gate's session before calling fn.
func (h *UserHandlers) withSession(fn func(http.ResponseWriter, *http.Request, *auth.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := auth.RequireSession(r.Context())
		if err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}
		fn(w, r, s)
	}
}
