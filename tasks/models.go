// Package tasks encapsulates ownership-scoped CRUD over task entities.
// Every operation takes the owner's user id; a task that belongs to someone
// else behaves exactly like a task that does not exist.
package tasks

import (
	"context"
	"errors"
	"time"
)

// ErrTaskNotFound is returned by repositories when no task matches id and owner.
var ErrTaskNotFound = errors.New("task not found")

// Task is a single to-do item owned by one user.
type Task struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	Owner       string    `json:"owner"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Sortable fields, as accepted by the sortBy query parameter.
const (
	SortCreatedAt   = "createdAt"
	SortUpdatedAt   = "updatedAt"
	SortDescription = "description"
	SortCompleted   = "completed"
)

// ListOptions filters, orders and pages a task listing.
type ListOptions struct {
	Completed  *bool
	Limit      int // 0 means no limit
	Skip       int
	SortBy     string
	Descending bool
}

// CreateTaskRequest is the POST /tasks body.
type CreateTaskRequest struct {
	Description string `json:"description" validate:"required"`
	Completed   bool   `json:"completed"`
}

// Repository is the durable store for tasks.
type Repository interface {
	Create(ctx context.Context, t *Task) error
	FindByID(ctx context.Context, owner, id string) (*Task, error)
	List(ctx context.Context, owner string, opts ListOptions) ([]*Task, error)
	// Update writes description, completed and updatedAt of the task matching
	// t.ID and t.Owner.
	Update(ctx context.Context, t *Task) error
	Delete(ctx context.Context, owner, id string) error
	// DeleteByOwner removes every task of owner and reports how many went.
	DeleteByOwner(ctx context.Context, owner string) (int64, error)
}
