package auth_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/taskmanager-go/apperror"
	"github.com/user/taskmanager-go/auth"
	"github.com/user/taskmanager-go/config"
	"github.com/user/taskmanager-go/db/memstore"
)

const testSecret = "test-secret"

func newTokenFixture(t *testing.T) (*auth.TokenManager, auth.UserRepository, *auth.User) {
	t.Helper()
	repo := memstore.New().Users()
	u, err := auth.NewCredentials(repo, 4).Create(context.Background(), signup("A", "a@example.com", "MyPass123"))
	require.NoError(t, err)
	return auth.NewTokenManager(repo, config.AuthConfig{JWTSecret: testSecret}), repo, u
}

func TestTokenManager_IssueAndResolve(t *testing.T) {
	ctx := context.Background()
	tm, repo, u := newTokenFixture(t)

	first, err := tm.Issue(ctx, u)
	require.NoError(t, err)
	second, err := tm.Issue(ctx, u)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, []auth.Token{{Token: first}, {Token: second}}, u.Tokens)

	stored, _ := repo.FindByID(ctx, u.ID)
	assert.Equal(t, u.Tokens, stored.Tokens)

	got, claims, err := tm.Resolve(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Nil(t, claims.ExpiresAt, "no exp claim without a token duration")
}

func TestTokenManager_RevokeRemovesOneToken(t *testing.T) {
	ctx := context.Background()
	tm, _, u := newTokenFixture(t)
	first, _ := tm.Issue(ctx, u)
	second, _ := tm.Issue(ctx, u)

	require.NoError(t, tm.Revoke(ctx, u, first))
	assert.Equal(t, []auth.Token{{Token: second}}, u.Tokens)

	_, _, err := tm.Resolve(ctx, first)
	assert.True(t, apperror.IsAuthError(err))
	_, _, err = tm.Resolve(ctx, second)
	assert.NoError(t, err)
}

func TestTokenManager_RevokeAll(t *testing.T) {
	ctx := context.Background()
	tm, _, u := newTokenFixture(t)
	issued := []string{}
	for i := 0; i < 3; i++ {
		tok, err := tm.Issue(ctx, u)
		require.NoError(t, err)
		issued = append(issued, tok)
	}

	require.NoError(t, tm.RevokeAll(ctx, u))
	assert.Empty(t, u.Tokens)
	for _, tok := range issued {
		_, _, err := tm.Resolve(ctx, tok)
		assert.True(t, apperror.IsAuthError(err))
	}
}

func TestTokenManager_StoreFailureLeavesMemoryUntouched(t *testing.T) {
	ctx := context.Background()
	tm, repo, u := newTokenFixture(t)
	tok, err := tm.Issue(ctx, u)
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, u.ID))

	_, err = tm.Issue(ctx, u)
	assert.True(t, apperror.IsDatabaseError(err))
	assert.Len(t, u.Tokens, 1)

	err = tm.RevokeAll(ctx, u)
	assert.True(t, apperror.IsDatabaseError(err))
	assert.Equal(t, []auth.Token{{Token: tok}}, u.Tokens)
}

func TestTokenManager_ResolveRejects(t *testing.T) {
	ctx := context.Background()
	tm, repo, u := newTokenFixture(t)

	sign := func(secret string, claims jwt.Claims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}
	expired := sign(testSecret, &auth.Claims{
		UserID:           u.ID,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	})
	require.NoError(t, repo.AppendToken(ctx, u.ID, auth.Token{Token: expired}))

	notListed := sign(testSecret, &auth.Claims{UserID: u.ID, RegisteredClaims: jwt.RegisteredClaims{ID: "never-issued"}})
	otherSecret := sign("another-secret", &auth.Claims{UserID: u.ID})
	noID := sign(testSecret, &auth.Claims{})
	unknownUser := sign(testSecret, &auth.Claims{UserID: "ghost"})

	for name, tok := range map[string]string{
		"expired":      expired,
		"not listed":   notListed,
		"wrong secret": otherSecret,
		"no _id":       noID,
		"unknown user": unknownUser,
		"garbage":      "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := tm.Resolve(ctx, tok)
			assert.True(t, apperror.IsAuthError(err), "%v", err)
		})
	}
}

func TestTokenManager_ExpiryClaim(t *testing.T) {
	ctx := context.Background()
	repo := memstore.New().Users()
	u, err := auth.NewCredentials(repo, 4).Create(ctx, signup("A", "a@example.com", "MyPass123"))
	require.NoError(t, err)
	tm := auth.NewTokenManager(repo, config.AuthConfig{JWTSecret: testSecret, TokenDuration: time.Hour})

	tok, err := tm.Issue(ctx, u)
	require.NoError(t, err)
	_, claims, err := tm.Resolve(ctx, tok)
	require.NoError(t, err)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestTokenManager_ConcurrentIssueKeepsEveryToken(t *testing.T) {
	ctx := context.Background()
	tm, repo, u := newTokenFixture(t)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each login works on its own copy, as concurrent requests do.
			fresh, err := repo.FindByID(ctx, u.ID)
			if !assert.NoError(t, err) {
				return
			}
			_, err = tm.Issue(ctx, fresh)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, _ := repo.FindByID(ctx, u.ID)
	assert.Len(t, stored.Tokens, n)
}

func TestGate(t *testing.T) {
	ctx := context.Background()
	tm, _, u := newTokenFixture(t)
	tok, err := tm.Issue(ctx, u)
	require.NoError(t, err)

	var seen *auth.Session
	protected := auth.Gate(tm, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := auth.RequireSession(r.Context())
		require.NoError(t, err)
		seen = s
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		header string
		want   int
	}{
		{"Bearer " + tok, http.StatusNoContent},
		{"bearer " + tok, http.StatusNoContent},
		{"", http.StatusUnauthorized},
		{"Basic " + tok, http.StatusUnauthorized},
		{"Bearer ", http.StatusUnauthorized},
		{"Bearer " + tok + "x", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.header), func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				require.NotNil(t, seen)
				assert.Equal(t, u.ID, seen.User.ID)
				assert.Equal(t, tok, seen.Token)
			} else {
				assert.Nil(t, seen)
				assert.JSONEq(t, `{"error":"Please authenticate."}`, rec.Body.String())
			}
		})
	}
}

func TestRequireSession_WithoutGate(t *testing.T) {
	_, err := auth.RequireSession(context.Background())
	assert.True(t, apperror.IsAuthError(err))
}
