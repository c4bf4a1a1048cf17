// Package auth, as part of the authentication module.
// This file, `handlers.go`, holds the response helpers every HTTP handler in
// the application uses, so that success and error bodies share one shape.
package auth

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/user/taskmanager-go/apperror"
)

// WriteJSON serializes `data` to JSON and writes it with the given `status`.
// A nil data writes only the status line.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	if data == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent; nothing useful can be written anymore.
		return
	}
}

// WriteError uses the apperror system to write standardized error responses.
// Errors that are not *apperror.AppError become a generic 500, and every 5xx
// is logged with its underlying cause.
func WriteError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	appErr, ok := apperror.FromError(err)
	if !ok {
		appErr = apperror.NewInternalError("an unexpected error occurred", err)
	}

	if appErr.StatusCode() >= http.StatusInternalServerError && log != nil {
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", appErr.StatusCode()),
			zap.Error(appErr),
		)
	}

	WriteJSON(w, appErr.StatusCode(), appErr.ToResponse())
}
