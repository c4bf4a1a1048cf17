// Package pgstore persists users and tasks in PostgreSQL through a pgx pool.
// The schema is created by the migrations embedded in package db; a user's
// session list is the ordered set of user_tokens rows for that user.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/taskmanager-go/auth"
	"github.com/user/taskmanager-go/tasks"
)

const pgUniqueViolation = "23505"

// Store wraps one pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store over pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Users returns the Store as an auth.UserRepository.
func (s *Store) Users() auth.UserRepository { return &userRepo{pool: s.pool} }

// Tasks returns the Store as a tasks.Repository.
func (s *Store) Tasks() tasks.Repository { return &taskRepo{pool: s.pool} }

type userRepo struct {
	pool *pgxpool.Pool
}

func (r *userRepo) Create(ctx context.Context, u *auth.User) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, name, email, password, age, avatar, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Name, u.Email, u.Password, u.Age, u.Avatar, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return mapUserWriteError(err)
	}
	for _, t := range u.Tokens {
		if _, err := tx.Exec(ctx, `INSERT INTO user_tokens (user_id, token) VALUES ($1, $2)`, u.ID, t.Token); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

const selectUser = `SELECT id, name, email, password, age, avatar, created_at, updated_at FROM users`

func (r *userRepo) FindByID(ctx context.Context, id string) (*auth.User, error) {
	return r.findOne(ctx, selectUser+` WHERE id = $1`, id)
}

func (r *userRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.findOne(ctx, selectUser+` WHERE email = $1`, email)
}

func (r *userRepo) findOne(ctx context.Context, query string, arg string) (*auth.User, error) {
	var u auth.User
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Name, &u.Email, &u.Password, &u.Age, &u.Avatar, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `SELECT token FROM user_tokens WHERE user_id = $1 ORDER BY id`, u.ID)
	if err != nil {
		return nil, err
	}
	u.Tokens, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (auth.Token, error) {
		var t auth.Token
		err := row.Scan(&t.Token)
		return t, err
	})
	if err != nil {
		return nil, err
	}
	if u.Tokens == nil {
		u.Tokens = []auth.Token{}
	}
	return &u, nil
}

func (r *userRepo) Update(ctx context.Context, u *auth.User) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET name = $2, email = $3, password = $4, age = $5, updated_at = $6
		WHERE id = $1`,
		u.ID, u.Name, u.Email, u.Password, u.Age, u.UpdatedAt)
	if err != nil {
		return mapUserWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func (r *userRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func (r *userRepo) AppendToken(ctx context.Context, userID string, t auth.Token) error {
	// The INSERT ... SELECT inserts nothing for an unknown user instead of
	// failing on the foreign key.
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO user_tokens (user_id, token)
		SELECT id, $2 FROM users WHERE id = $1`, userID, t.Token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func (r *userRepo) RemoveToken(ctx context.Context, userID, token string) error {
	if err := r.exists(ctx, userID); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `DELETE FROM user_tokens WHERE user_id = $1 AND token = $2`, userID, token)
	return err
}

func (r *userRepo) ClearTokens(ctx context.Context, userID string) error {
	if err := r.exists(ctx, userID); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `DELETE FROM user_tokens WHERE user_id = $1`, userID)
	return err
}

func (r *userRepo) SetAvatar(ctx context.Context, userID string, avatar []byte) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET avatar = $2 WHERE id = $1`, userID, avatar)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func (r *userRepo) exists(ctx context.Context, id string) error {
	var found bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&found); err != nil {
		return err
	}
	if !found {
		return auth.ErrUserNotFound
	}
	return nil
}

func mapUserWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return auth.ErrEmailTaken
	}
	return err
}

type taskRepo struct {
	pool *pgxpool.Pool
}

const selectTask = `SELECT id, description, completed, owner, created_at, updated_at FROM tasks`

func scanTask(row pgx.Row) (*tasks.Task, error) {
	var t tasks.Task
	err := row.Scan(&t.ID, &t.Description, &t.Completed, &t.Owner, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (r *taskRepo) Create(ctx context.Context, t *tasks.Task) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tasks (id, description, completed, owner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Description, t.Completed, t.Owner, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *taskRepo) FindByID(ctx context.Context, owner, id string) (*tasks.Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, selectTask+` WHERE id = $1 AND owner = $2`, id, owner))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tasks.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *taskRepo) List(ctx context.Context, owner string, opts tasks.ListOptions) ([]*tasks.Task, error) {
	query, args := listQuery(owner, opts)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*tasks.Task, error) {
		return scanTask(row)
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*tasks.Task{}
	}
	return out, nil
}

// listQuery builds the listing SQL. The ORDER BY column comes from a fixed
// whitelist, never from the caller's string.
func listQuery(owner string, opts tasks.ListOptions) (string, []any) {
	query := selectTask + ` WHERE owner = $1`
	args := []any{owner}
	if opts.Completed != nil {
		args = append(args, *opts.Completed)
		query += fmt.Sprintf(` AND completed = $%d`, len(args))
	}

	dir := "ASC"
	if opts.Descending {
		dir = "DESC"
	}
	query += fmt.Sprintf(` ORDER BY %s %s, id %s`, sortColumn(opts.SortBy), dir, dir)

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Skip > 0 {
		args = append(args, opts.Skip)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}
	return query, args
}

func sortColumn(field string) string {
	switch field {
	case tasks.SortUpdatedAt:
		return "updated_at"
	case tasks.SortDescription:
		return "description"
	case tasks.SortCompleted:
		return "completed"
	default:
		return "created_at"
	}
}

func (r *taskRepo) Update(ctx context.Context, t *tasks.Task) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks SET description = $3, completed = $4, updated_at = $5
		WHERE id = $1 AND owner = $2`,
		t.ID, t.Owner, t.Description, t.Completed, t.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return tasks.ErrTaskNotFound
	}
	return nil
}

func (r *taskRepo) Delete(ctx context.Context, owner, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1 AND owner = $2`, id, owner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return tasks.ErrTaskNotFound
	}
	return nil
}

func (r *taskRepo) DeleteByOwner(ctx context.Context, owner string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE owner = $1`, owner)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
