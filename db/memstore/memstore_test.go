package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/taskmanager-go/auth"
	"github.com/user/taskmanager-go/tasks"
)

func newUser(id, email string) *auth.User {
	return &auth.User{ID: id, Name: "n", Email: email, Password: "hash"}
}

func TestUsers_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := New().Users()

	require.NoError(t, repo.Create(ctx, newUser("u1", "a@example.com")))
	assert.ErrorIs(t, repo.Create(ctx, newUser("u2", "A@example.com")), auth.ErrEmailTaken)

	got, err := repo.FindByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.NotNil(t, got.Tokens)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestUsers_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := New().Users()
	require.NoError(t, repo.Create(ctx, newUser("u1", "a@example.com")))
	require.NoError(t, repo.AppendToken(ctx, "u1", auth.Token{Token: "t1"}))

	got, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	got.Tokens[0].Token = "changed"
	got.Name = "changed"

	again, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "t1", again.Tokens[0].Token)
	assert.Equal(t, "n", again.Name)
}

func TestUsers_UpdateKeepsTokensAndRejectsTakenEmail(t *testing.T) {
	ctx := context.Background()
	repo := New().Users()
	require.NoError(t, repo.Create(ctx, newUser("u1", "a@example.com")))
	require.NoError(t, repo.Create(ctx, newUser("u2", "b@example.com")))
	require.NoError(t, repo.AppendToken(ctx, "u1", auth.Token{Token: "t1"}))

	stale := newUser("u1", "a@example.com")
	stale.Name = "renamed"
	require.NoError(t, repo.Update(ctx, stale))

	got, _ := repo.FindByID(ctx, "u1")
	assert.Equal(t, "renamed", got.Name)
	assert.Len(t, got.Tokens, 1)

	assert.ErrorIs(t, repo.Update(ctx, newUser("u1", "b@example.com")), auth.ErrEmailTaken)
	assert.ErrorIs(t, repo.Update(ctx, newUser("nobody", "c@example.com")), auth.ErrUserNotFound)
}

func TestUsers_TokenOps(t *testing.T) {
	ctx := context.Background()
	repo := New().Users()
	require.NoError(t, repo.Create(ctx, newUser("u1", "a@example.com")))

	for _, tok := range []string{"t1", "t2", "t3"} {
		require.NoError(t, repo.AppendToken(ctx, "u1", auth.Token{Token: tok}))
	}
	require.NoError(t, repo.RemoveToken(ctx, "u1", "t2"))

	got, _ := repo.FindByID(ctx, "u1")
	assert.Equal(t, []auth.Token{{Token: "t1"}, {Token: "t3"}}, got.Tokens)

	require.NoError(t, repo.ClearTokens(ctx, "u1"))
	got, _ = repo.FindByID(ctx, "u1")
	assert.Empty(t, got.Tokens)

	assert.ErrorIs(t, repo.AppendToken(ctx, "nobody", auth.Token{Token: "x"}), auth.ErrUserNotFound)
}

func TestUsers_ConcurrentAppendToken(t *testing.T) {
	ctx := context.Background()
	repo := New().Users()
	require.NoError(t, repo.Create(ctx, newUser("u1", "a@example.com")))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, repo.AppendToken(ctx, "u1", auth.Token{Token: fmt.Sprintf("t%d", i)}))
		}(i)
	}
	wg.Wait()

	got, _ := repo.FindByID(ctx, "u1")
	assert.Len(t, got.Tokens, n)
}

func TestUsers_Avatar(t *testing.T) {
	ctx := context.Background()
	repo := New().Users()
	require.NoError(t, repo.Create(ctx, newUser("u1", "a@example.com")))

	require.NoError(t, repo.SetAvatar(ctx, "u1", []byte{1, 2, 3}))
	got, _ := repo.FindByID(ctx, "u1")
	assert.Equal(t, []byte{1, 2, 3}, got.Avatar)

	require.NoError(t, repo.SetAvatar(ctx, "u1", nil))
	got, _ = repo.FindByID(ctx, "u1")
	assert.Nil(t, got.Avatar)
}

func TestTasks_OwnershipScoping(t *testing.T) {
	ctx := context.Background()
	repo := New().Tasks()
	require.NoError(t, repo.Create(ctx, &tasks.Task{ID: "t1", Owner: "alice", Description: "a"}))

	_, err := repo.FindByID(ctx, "bob", "t1")
	assert.ErrorIs(t, err, tasks.ErrTaskNotFound)
	assert.ErrorIs(t, repo.Update(ctx, &tasks.Task{ID: "t1", Owner: "bob"}), tasks.ErrTaskNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "bob", "t1"), tasks.ErrTaskNotFound)

	got, err := repo.FindByID(ctx, "alice", "t1")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Description)
}

func TestTasks_ListFilterSortPage(t *testing.T) {
	ctx := context.Background()
	repo := New().Tasks()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, desc := range []string{"c", "a", "b", "d"} {
		require.NoError(t, repo.Create(ctx, &tasks.Task{
			ID:          fmt.Sprintf("t%d", i),
			Owner:       "alice",
			Description: desc,
			Completed:   i%2 == 0,
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, repo.Create(ctx, &tasks.Task{ID: "other", Owner: "bob", Description: "z"}))

	all, err := repo.List(ctx, "alice", tasks.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"t0", "t1", "t2", "t3"}, ids(all))

	done := true
	completed, err := repo.List(ctx, "alice", tasks.ListOptions{Completed: &done})
	require.NoError(t, err)
	assert.Equal(t, []string{"t0", "t2"}, ids(completed))

	byDesc, err := repo.List(ctx, "alice", tasks.ListOptions{SortBy: tasks.SortDescription, Descending: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"t3", "t0", "t2", "t1"}, ids(byDesc))

	page, err := repo.List(ctx, "alice", tasks.ListOptions{Skip: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, ids(page))

	past, err := repo.List(ctx, "alice", tasks.ListOptions{Skip: 10})
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestTasks_DeleteByOwner(t *testing.T) {
	ctx := context.Background()
	repo := New().Tasks()
	require.NoError(t, repo.Create(ctx, &tasks.Task{ID: "t1", Owner: "alice"}))
	require.NoError(t, repo.Create(ctx, &tasks.Task{ID: "t2", Owner: "alice"}))
	require.NoError(t, repo.Create(ctx, &tasks.Task{ID: "t3", Owner: "bob"}))

	n, err := repo.DeleteByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, _ := repo.List(ctx, "bob", tasks.ListOptions{})
	assert.Len(t, left, 1)
}

func ids(list []*tasks.Task) []string {
	out := make([]string, len(list))
	for i, t := range list {
		out[i] = t.ID
	}
	return out
}
