// Package servertest runs the full HTTP application over the in-memory store
// for handler tests.
package servertest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/taskmanager-go/config"
	"github.com/user/taskmanager-go/db/memstore"
	"github.com/user/taskmanager-go/notify"
	"github.com/user/taskmanager-go/server"
)

// Outbox is a Notifier that records every message it is asked to send.
type Outbox struct {
	mu   sync.Mutex
	msgs []notify.Message
}

// Send implements notify.Notifier.
func (o *Outbox) Send(_ context.Context, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

// Messages returns a copy of what has been sent so far.
func (o *Outbox) Messages() []notify.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]notify.Message(nil), o.msgs...)
}

// Env is one running application.
type Env struct {
	Handler http.Handler
	Store   *memstore.Store
	Outbox  *Outbox

	app *server.App
}

// Config returns the configuration tests run with.
func Config() *config.AppConfig {
	return &config.AppConfig{
		Database: &config.DatabaseConfig{Driver: config.DriverMemory},
		Auth:     &config.AuthConfig{JWTSecret: "test-secret", BcryptCost: 4},
		Mail:     &config.MailConfig{Workers: 1, QueueSize: 16, SendTimeout: time.Second},
		Upload:   &config.UploadConfig{AvatarMaxBytes: 1_000_000},
		Log:      &config.LogConfig{Level: "debug", Format: "console"},
		Server:   &config.ServerConfig{AllowedOrigins: []string{"*"}},
	}
}

// New starts an Env and stops it when the test ends.
func New(t testing.TB) *Env {
	t.Helper()

	store := memstore.New()
	outbox := &Outbox{}
	app := server.Assemble(server.Stores{
		Users: store.Users(),
		Tasks: store.Tasks(),
	}, Config(), outbox, zap.NewNop())

	env := &Env{Handler: app.Handler, Store: store, Outbox: outbox, app: app}
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return env
}

// FlushMail stops the mail dispatcher after it has delivered everything
// queued, and returns what was sent.
func (e *Env) FlushMail(t testing.TB) []notify.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.app.Mail.Stop(ctx))
	return e.Outbox.Messages()
}

// Do sends a request with an optional JSON body and bearer token.
func (e *Env) Do(t testing.TB, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.Send(req, token)
}

// Send serves req, adding the bearer token when one is given.
func (e *Env) Send(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.Handler.ServeHTTP(rec, req)
	return rec
}

// Account is a signed-up user as the API returned it.
type Account struct {
	ID    string
	Email string
	Token string
}

// Signup creates an account and fails the test unless it succeeds.
func (e *Env) Signup(t testing.TB, name, email, password string) Account {
	t.Helper()

	rec := e.Do(t, http.MethodPost, "/users", "", map[string]any{
		"name": name, "email": email, "password": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		User struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return Account{ID: resp.User.ID, Email: resp.User.Email, Token: resp.Token}
}

// DecodeJSON unmarshals a response body into a fresh value of type T.
func DecodeJSON[T any](t testing.TB, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
