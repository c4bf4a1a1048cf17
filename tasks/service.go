package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/taskmanager-go/apperror"
	"github.com/user/taskmanager-go/patch"
)

// AllowedUpdates are the task fields a PATCH may change.
var AllowedUpdates = []string{"description", "completed"}

// Service provides ownership-scoped task operations.
type Service struct {
	repo     Repository
	log      *zap.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a new task Service.
func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new task for owner.
func (s *Service) Create(ctx context.Context, owner string, req CreateTaskRequest) (*Task, error) {
	req.Description = strings.TrimSpace(req.Description)
	if err := s.validate.Struct(req); err != nil {
		return nil, apperror.NewValidationError("Task validation failed", err).
			WithFields(map[string]string{"description": "is required"})
	}

	now := s.now()
	t := &Task{
		ID:          uuid.NewString(),
		Description: req.Description,
		Completed:   req.Completed,
		Owner:       owner,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, apperror.NewDatabaseError("failed to create task", err)
	}
	return t, nil
}

// List returns owner's tasks matching opts.
func (s *Service) List(ctx context.Context, owner string, opts ListOptions) ([]*Task, error) {
	list, err := s.repo.List(ctx, owner, opts)
	if err != nil {
		return nil, apperror.NewDatabaseError("failed to list tasks", err)
	}
	if list == nil {
		list = []*Task{}
	}
	return list, nil
}

// Get returns one of owner's tasks.
func (s *Service) Get(ctx context.Context, owner, id string) (*Task, error) {
	t, err := s.repo.FindByID(ctx, owner, id)
	if err != nil {
		return nil, s.lookupError(err)
	}
	return t, nil
}

// Update applies a whitelisted partial update to one of owner's tasks.
// The request is rejected as a whole if it names any field outside AllowedUpdates.
func (s *Service) Update(ctx context.Context, owner, id string, fields patch.Fields) (*Task, error) {
	current, err := s.repo.FindByID(ctx, owner, id)
	if err != nil {
		return nil, s.lookupError(err)
	}

	next := *current
	err = patch.Apply(fields, AllowedUpdates, func(field string, raw json.RawMessage) error {
		switch field {
		case "description":
			if err := patch.Decode(field, raw, &next.Description); err != nil {
				return err
			}
			next.Description = strings.TrimSpace(next.Description)
			if next.Description == "" {
				return apperror.NewValidationError("Task validation failed", nil).
					WithFields(map[string]string{"description": "is required"})
			}
			return nil
		case "completed":
			return patch.Decode(field, raw, &next.Completed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	next.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, &next); err != nil {
		return nil, s.lookupError(err)
	}
	return &next, nil
}

// Delete removes one of owner's tasks and returns it.
func (s *Service) Delete(ctx context.Context, owner, id string) (*Task, error) {
	t, err := s.repo.FindByID(ctx, owner, id)
	if err != nil {
		return nil, s.lookupError(err)
	}
	if err := s.repo.Delete(ctx, owner, id); err != nil {
		return nil, s.lookupError(err)
	}
	return t, nil
}

// DeleteByOwner removes every task owned by owner. It is the first step of
// account deletion.
func (s *Service) DeleteByOwner(ctx context.Context, owner string) error {
	n, err := s.repo.DeleteByOwner(ctx, owner)
	if err != nil {
		return apperror.NewDatabaseError("failed to delete tasks", err)
	}
	s.log.Debug("deleted owner tasks", zap.String("owner", owner), zap.Int64("count", n))
	return nil
}

func (s *Service) lookupError(err error) error {
	if errors.Is(err, ErrTaskNotFound) {
		return apperror.NewNotFoundError("task not found", nil)
	}
	return apperror.NewDatabaseError("failed to access task", err)
}
