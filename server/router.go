// Package server assembles the HTTP router and the application's dependency
// graph. main calls Assemble and serves the result; tests build the same graph
// over the in-memory store.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/user/taskmanager-go/apperror"
	"github.com/user/taskmanager-go/auth"
	"github.com/user/taskmanager-go/config"
	"github.com/user/taskmanager-go/logging"
	"github.com/user/taskmanager-go/tasks"
	"github.com/user/taskmanager-go/users"
)

// HealthFunc reports whether the backing store is reachable.
type HealthFunc func(ctx context.Context) error

// Routes holds everything the router mounts.
type Routes struct {
	Users  *users.UserHandlers
	Tasks  *tasks.TaskHandlers
	Gate   func(http.Handler) http.Handler
	Health HealthFunc
}

// NewRouter builds the chi router with the middleware stack and every endpoint.
func NewRouter(routes Routes, cfg config.ServerConfig, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(log))
	r.Use(recoverer(log))
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handleHealth(routes.Health, log))

	r.Route("/users", func(r chi.Router) {
		routes.Users.RegisterRoutes(r, routes.Gate)
	})

	r.Route("/tasks", func(r chi.Router) {
		r.Use(routes.Gate)
		routes.Tasks.RegisterRoutes(r)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		auth.WriteError(w, r, log, apperror.NewNotFoundError("route not found", nil))
	})

	return r
}

// recoverer turns a panic into a logged 500 with the standard error body.
func recoverer(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler {
						panic(rvr)
					}
					log.Error("panic while serving request",
						zap.Any("panic", rvr),
						zap.String("path", r.URL.Path),
						zap.String("request_id", middleware.GetReqID(r.Context())),
						zap.Stack("stack"),
					)
					auth.WriteError(w, r, nil, apperror.NewInternalError("internal server error", nil))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func handleHealth(check HealthFunc, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				auth.WriteError(w, r, log, apperror.NewDatabaseError("database unavailable", err))
				return
			}
		}
		auth.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
