package tasks

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/user/taskmanager-go/apperror"
	"github.com/user/taskmanager-go/auth"
	"github.com/user/taskmanager-go/patch"
)

// TaskHandlers handles HTTP requests for tasks. Every route expects the
// auth Gate to have run.
type TaskHandlers struct {
	service *Service
	log     *zap.Logger
}

// NewTaskHandlers creates new TaskHandlers.
func NewTaskHandlers(service *Service, log *zap.Logger) *TaskHandlers {
	return &TaskHandlers{service: service, log: log}
}

// RegisterRoutes mounts the task endpoints on router.
func (h *TaskHandlers) RegisterRoutes(router chi.Router) {
	router.Post("/", h.HandleCreate())
	router.Get("/", h.HandleList())
	router.Get("/{id}", h.HandleGet())
	router.Patch("/{id}", h.HandleUpdate())
	router.Delete("/{id}", h.HandleDelete())
}

// HandleCreate godoc
// @Summary Create a task
// @Tags tasks
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param task body CreateTaskRequest true "Task to create"
// @Success 201 {object} Task
// @Failure 400 {object} apperror.ErrorResponse
// @Router /tasks [post]
func (h *TaskHandlers) HandleCreate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := auth.RequireSession(r.Context())
		if err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}

		var req CreateTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			auth.WriteError(w, r, h.log, apperror.NewBadRequestError("invalid request body", err))
			return
		}

		task, err := h.service.Create(r.Context(), s.User.ID, req)
		if err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}
		auth.WriteJSON(w, http.StatusCreated, task)
	}
}

// HandleList godoc
// @Summary List the caller's tasks
// @Description Supports ?completed=true|false, ?limit, ?skip and ?sortBy=field:asc|desc.
// @Tags tasks
// @Produce json
// @Security BearerAuth
// @Success 200 {array} Task
// @Failure 400 {object} apperror.ErrorResponse
// @Router /tasks [get]
func (h *TaskHandlers) HandleList() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := auth.RequireSession(r.Context())
		if err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}

		opts, err := ParseListOptions(r.URL.Query())
		if err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}

		list, err := h.service.List(r.Context(), s.User.ID, opts)
		if err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}
		auth.WriteJSON(w, http.StatusOK, list)
	}
}

// HandleGet godoc
// @Summary Get one of the caller's tasks
// @Tags tasks
// @Produce json
// @Security BearerAuth
// @Param id path string true "Task id"
// @Success 200 {object} Task
// @Failure 404 {object} apperror.ErrorResponse
// @Router /tasks/{id} [get]
func (h *TaskHandlers) HandleGet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := auth.RequireSession(r.Context())
		if err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}

		task, err := h.service.Get(r.Context(), s.User.ID, chi.URLParam(r, "id"))
		if err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}
		auth.WriteJSON(w, http.StatusOK, task)
	}
}

// HandleUpdate godoc
// @Summary Update one of the caller's tasks
// @Description Only description and completed may be changed; any other key rejects the request.
// @Tags tasks
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Task id"
// @Success 200 {object} Task
// @Failure 400 {object} apperror.ErrorResponse
// @Failure 404 {object} apperror.ErrorResponse
// @Router /tasks/{id} [patch]
func (h *TaskHandlers) HandleUpdate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := auth.RequireSession(r.Context())
		if err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}

		fields, err := patch.DecodeBody(r.Body)
		if err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}

		task, err := h.service.Update(r.Context(), s.User.ID, chi.URLParam(r, "id"), fields)
		if err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}
		auth.WriteJSON(w, http.StatusOK, task)
	}
}

// HandleDelete godoc
// @Summary Delete one of the caller's tasks
// @Tags tasks
// @Produce json
// @Security BearerAuth
// @Param id path string true "Task id"
// @Success 200 {object} Task
// @Failure 404 {object} apperror.ErrorResponse
// @Router /tasks/{id} [delete]
func (h *TaskHandlers) HandleDelete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := auth.RequireSession(r.Context())
		if err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}

		task, err := h.service.Delete(r.Context(), s.User.ID, chi.URLParam(r, "id"))
		if err != nil {
			auth.WriteError(w, r, h.log, err)
			return
		}
		auth.WriteJSON(w, http.StatusOK, task)
	}
}

// ParseListOptions reads completed, limit, skip and sortBy from a query string.
func ParseListOptions(q url.Values) (ListOptions, error) {
	opts := ListOptions{SortBy: SortCreatedAt}
	bad := map[string]string{}

	if v := q.Get("completed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			bad["completed"] = "must be true or false"
		} else {
			opts.Completed = &b
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			bad["limit"] = "must be a non-negative integer"
		} else {
			opts.Limit = n
		}
	}
	if v := q.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			bad["skip"] = "must be a non-negative integer"
		} else {
			opts.Skip = n
		}
	}
	if v := q.Get("sortBy"); v != "" {
		field, dir, _ := strings.Cut(v, ":")
		switch field {
		case SortCreatedAt, SortUpdatedAt, SortDescription, SortCompleted:
			opts.SortBy = field
		default:
			bad["sortBy"] = "unknown sort field"
		}
		switch strings.ToLower(dir) {
		case "", "asc":
		case "desc":
			opts.Descending = true
		default:
			bad["sortBy"] = "direction must be asc or desc"
		}
	}

	if len(bad) > 0 {
		return ListOptions{}, apperror.NewValidationError("invalid query parameters", nil).WithFields(bad)
	}
	return opts, nil
}
