// Package memstore keeps users and tasks in process memory. It backs the
// "memory" database driver and the HTTP-level tests.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/user/taskmanager-go/auth"
	"github.com/user/taskmanager-go/tasks"
)

// Store holds both collections behind one lock. Every read hands out a copy.
type Store struct {
	mu    sync.RWMutex
	users map[string]*auth.User
	tasks map[string]*tasks.Task
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users: make(map[string]*auth.User),
		tasks: make(map[string]*tasks.Task),
	}
}

// Users returns the Store as an auth.UserRepository.
func (s *Store) Users() auth.UserRepository { return (*userRepo)(s) }

// Tasks returns the Store as a tasks.Repository.
func (s *Store) Tasks() tasks.Repository { return (*taskRepo)(s) }

type userRepo Store

func (r *userRepo) Create(_ context.Context, u *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.emailInUse(u.Email, "") {
		return auth.ErrEmailTaken
	}
	c := u.Clone()
	if c.Tokens == nil {
		c.Tokens = []auth.Token{}
	}
	r.users[u.ID] = c
	return nil
}

func (r *userRepo) FindByID(_ context.Context, id string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return u.Clone(), nil
}

func (r *userRepo) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return u.Clone(), nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (r *userRepo) Update(_ context.Context, u *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.users[u.ID]
	if !ok {
		return auth.ErrUserNotFound
	}
	if r.emailInUse(u.Email, u.ID) {
		return auth.ErrEmailTaken
	}
	cur.Name = u.Name
	cur.Email = u.Email
	cur.Password = u.Password
	cur.Age = u.Age
	cur.UpdatedAt = u.UpdatedAt
	return nil
}

func (r *userRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id]; !ok {
		return auth.ErrUserNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *userRepo) AppendToken(_ context.Context, userID string, t auth.Token) error {
	return r.mutate(userID, func(u *auth.User) {
		u.Tokens = append(u.Tokens, t)
	})
}

func (r *userRepo) RemoveToken(_ context.Context, userID, token string) error {
	return r.mutate(userID, func(u *auth.User) {
		kept := u.Tokens[:0]
		for _, t := range u.Tokens {
			if t.Token != token {
				kept = append(kept, t)
			}
		}
		u.Tokens = kept
	})
}

func (r *userRepo) ClearTokens(_ context.Context, userID string) error {
	return r.mutate(userID, func(u *auth.User) {
		u.Tokens = []auth.Token{}
	})
}

func (r *userRepo) SetAvatar(_ context.Context, userID string, avatar []byte) error {
	return r.mutate(userID, func(u *auth.User) {
		if avatar == nil {
			u.Avatar = nil
			return
		}
		u.Avatar = append([]byte(nil), avatar...)
	})
}

func (r *userRepo) mutate(id string, fn func(u *auth.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return auth.ErrUserNotFound
	}
	fn(u)
	return nil
}

// emailInUse must be called with the lock held.
func (r *userRepo) emailInUse(email, exceptID string) bool {
	for id, u := range r.users {
		if id != exceptID && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

type taskRepo Store

func (r *taskRepo) Create(_ context.Context, t *tasks.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *t
	r.tasks[t.ID] = &c
	return nil
}

func (r *taskRepo) FindByID(_ context.Context, owner, id string) (*tasks.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok || t.Owner != owner {
		return nil, tasks.ErrTaskNotFound
	}
	c := *t
	return &c, nil
}

func (r *taskRepo) List(_ context.Context, owner string, opts tasks.ListOptions) ([]*tasks.Task, error) {
	r.mu.RLock()
	out := make([]*tasks.Task, 0)
	for _, t := range r.tasks {
		if t.Owner != owner {
			continue
		}
		if opts.Completed != nil && t.Completed != *opts.Completed {
			continue
		}
		c := *t
		out = append(out, &c)
	}
	r.mu.RUnlock()

	less := lessFunc(opts.SortBy)
	sort.SliceStable(out, func(i, j int) bool {
		if opts.Descending {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})

	if opts.Skip > 0 {
		if opts.Skip >= len(out) {
			return []*tasks.Task{}, nil
		}
		out = out[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (r *taskRepo) Update(_ context.Context, t *tasks.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.tasks[t.ID]
	if !ok || cur.Owner != t.Owner {
		return tasks.ErrTaskNotFound
	}
	cur.Description = t.Description
	cur.Completed = t.Completed
	cur.UpdatedAt = t.UpdatedAt
	return nil
}

func (r *taskRepo) Delete(_ context.Context, owner, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok || t.Owner != owner {
		return tasks.ErrTaskNotFound
	}
	delete(r.tasks, id)
	return nil
}

func (r *taskRepo) DeleteByOwner(_ context.Context, owner string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, t := range r.tasks {
		if t.Owner == owner {
			delete(r.tasks, id)
			n++
		}
	}
	return n, nil
}

// lessFunc orders tasks by field, breaking ties on id so listings are stable.
func lessFunc(field string) func(a, b *tasks.Task) bool {
	return func(a, b *tasks.Task) bool {
		switch field {
		case tasks.SortUpdatedAt:
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.Before(b.UpdatedAt)
			}
		case tasks.SortDescription:
			if a.Description != b.Description {
				return a.Description < b.Description
			}
		case tasks.SortCompleted:
			if a.Completed != b.Completed {
				return !a.Completed
			}
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		}
		return a.ID < b.ID
	}
}
