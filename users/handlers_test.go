package users_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/user/taskmanager-go/apperror"
	"github.com/user/taskmanager-go/auth"
	"github.com/user/taskmanager-go/server/servertest"
)

type authBody struct {
	User  map[string]any `json:"user"`
	Token string         `json:"token"`
}

func storedUser(t *testing.T, env *servertest.Env, id string) *auth.User {
	t.Helper()
	u, err := env.Store.Users().FindByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestSignup_Rodney(t *testing.T) {
	env := servertest.New(t)

	rec := env.Do(t, http.MethodPost, "/users", "", map[string]any{
		"name": "Rodney", "email": "rodney@x.com", "password": "MyPass123",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := servertest.DecodeJSON[authBody](t, rec)
	assert.Equal(t, "rodney@x.com", body.User["email"])
	assert.NotEmpty(t, body.Token)
	assert.NotContains(t, body.User, "password")
	assert.NotContains(t, body.User, "tokens")

	u := storedUser(t, env, body.User["id"].(string))
	assert.NotEqual(t, "MyPass123", u.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.Password), []byte("MyPass123")))
	require.Len(t, u.Tokens, 1)
	assert.Equal(t, body.Token, u.Tokens[0].Token)

	mail := env.FlushMail(t)
	require.Len(t, mail, 1)
	assert.Equal(t, "rodney@x.com", mail[0].To.Email)
	assert.Equal(t, "Thanks for joining in!", mail[0].Subject)
}

func TestSignup_NormalizesEmail(t *testing.T) {
	env := servertest.New(t)
	acct := env.Signup(t, "Mixed", "  Mixed.Case@Example.COM ", "MyPass123")
	assert.Equal(t, "mixed.case@example.com", acct.Email)
}

func TestSignup_ValidationErrors(t *testing.T) {
	env := servertest.New(t)
	env.Signup(t, "Taken", "taken@example.com", "MyPass123")

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"missing name", map[string]any{"email": "a@example.com", "password": "MyPass123"}, "name"},
		{"bad email", map[string]any{"name": "A", "email": "not-an-email", "password": "MyPass123"}, "email"},
		{"short password", map[string]any{"name": "A", "email": "a@example.com", "password": "abc"}, "password"},
		{"password contains password", map[string]any{"name": "A", "email": "a@example.com", "password": "myPassword1"}, "password"},
		{"negative age", map[string]any{"name": "A", "email": "a@example.com", "password": "MyPass123", "age": -1}, "age"},
		{"age out of range", map[string]any{"name": "A", "email": "a@example.com", "password": "MyPass123", "age": 3000000000}, "age"},
		{"password over 72 bytes", map[string]any{"name": "A", "email": "a@example.com", "password": strings.Repeat("é", 40)}, "password"},
		{"duplicate email", map[string]any{"name": "B", "email": "TAKEN@example.com", "password": "MyPass123"}, "email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.Do(t, http.MethodPost, "/users", "", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			resp := servertest.DecodeJSON[apperror.ErrorResponse](t, rec)
			assert.Contains(t, resp.Fields, tt.field)
		})
	}
}

func TestLogin_AppendsDistinctToken(t *testing.T) {
	env := servertest.New(t)
	acct := env.Signup(t, "Rodney", "rodney@x.com", "MyPass123")

	rec := env.Do(t, http.MethodPost, "/users/login", "", map[string]any{
		"email": "Rodney@x.com", "password": "MyPass123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := servertest.DecodeJSON[authBody](t, rec)
	assert.NotEqual(t, acct.Token, body.Token)

	u := storedUser(t, env, acct.ID)
	require.Len(t, u.Tokens, 2)
	assert.Equal(t, body.Token, u.Tokens[1].Token)

	// Both sessions work.
	assert.Equal(t, http.StatusOK, env.Do(t, http.MethodGet, "/users/me", acct.Token, nil).Code)
	assert.Equal(t, http.StatusOK, env.Do(t, http.MethodGet, "/users/me", body.Token, nil).Code)
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	env := servertest.New(t)
	env.Signup(t, "Rodney", "rodney@x.com", "MyPass123")

	wrongPassword := env.Do(t, http.MethodPost, "/users/login", "", map[string]any{
		"email": "rodney@x.com", "password": "NotMyPass",
	})
	unknownEmail := env.Do(t, http.MethodPost, "/users/login", "", map[string]any{
		"email": "nobody@x.com", "password": "MyPass123",
	})

	assert.Equal(t, http.StatusBadRequest, wrongPassword.Code)
	assert.Equal(t, wrongPassword.Code, unknownEmail.Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String())
}

func TestGate_RejectsMissingAndForgedTokens(t *testing.T) {
	env := servertest.New(t)

	for _, token := range []string{"", "garbage", "eyJhbGciOiJIUzI1NiJ9.e30.invalid"} {
		rec := env.Do(t, http.MethodGet, "/users/me", token, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Please authenticate.", servertest.DecodeJSON[apperror.ErrorResponse](t, rec).Error)
	}
}

func TestLogout_RevokesOnlyCurrentSession(t *testing.T) {
	env := servertest.New(t)
	acct := env.Signup(t, "Rodney", "rodney@x.com", "MyPass123")
	second := servertest.DecodeJSON[authBody](t, env.Do(t, http.MethodPost, "/users/login", "", map[string]any{
		"email": "rodney@x.com", "password": "MyPass123",
	}))

	require.Equal(t, http.StatusOK, env.Do(t, http.MethodPost, "/users/logout", acct.Token, nil).Code)

	assert.Equal(t, http.StatusUnauthorized, env.Do(t, http.MethodGet, "/users/me", acct.Token, nil).Code)
	assert.Equal(t, http.StatusOK, env.Do(t, http.MethodGet, "/users/me", second.Token, nil).Code)
}

func TestLogoutAll_RevokesEverySession(t *testing.T) {
	env := servertest.New(t)
	acct := env.Signup(t, "Rodney", "rodney@x.com", "MyPass123")
	second := servertest.DecodeJSON[authBody](t, env.Do(t, http.MethodPost, "/users/login", "", map[string]any{
		"email": "rodney@x.com", "password": "MyPass123",
	}))

	require.Equal(t, http.StatusOK, env.Do(t, http.MethodPost, "/users/logoutAll", second.Token, nil).Code)

	for _, token := range []string{acct.Token, second.Token} {
		assert.Equal(t, http.StatusUnauthorized, env.Do(t, http.MethodGet, "/users/me", token, nil).Code)
	}
	assert.Empty(t, storedUser(t, env, acct.ID).Tokens)
}

func TestUpdateProfile(t *testing.T) {
	env := servertest.New(t)
	acct := env.Signup(t, "Rodney", "rodney@x.com", "MyPass123")

	rec := env.Do(t, http.MethodPatch, "/users/me", acct.Token, map[string]any{"name": "Rod", "age": 31})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := servertest.DecodeJSON[map[string]any](t, rec)
	assert.Equal(t, "Rod", body["name"])
	assert.EqualValues(t, 31, body["age"])

	u := storedUser(t, env, acct.ID)
	assert.Equal(t, "Rod", u.Name)
	assert.Len(t, u.Tokens, 1, "profile updates never touch sessions")
}

func TestUpdateProfile_UnknownFieldRejectsEverything(t *testing.T) {
	env := servertest.New(t)
	acct := env.Signup(t, "Rodney", "rodney@x.com", "MyPass123")

	rec := env.Do(t, http.MethodPatch, "/users/me", acct.Token, map[string]any{
		"name":   "Changed",
		"tokens": []string{},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid updates", servertest.DecodeJSON[apperror.ErrorResponse](t, rec).Error)
	assert.Equal(t, "Rodney", storedUser(t, env, acct.ID).Name)
}

func TestUpdateProfile_InvalidValues(t *testing.T) {
	env := servertest.New(t)
	acct := env.Signup(t, "Rodney", "rodney@x.com", "MyPass123")
	env.Signup(t, "Other", "other@x.com", "MyPass123")

	for name, body := range map[string]map[string]any{
		"empty":          {},
		"negative age":   {"age": -5},
		"weak password":  {"password": "password123"},
		"taken email":    {"email": "other@x.com"},
		"wrong type":     {"age": "thirty"},
		"null name":      {"name": nil},
		"invalid email":  {"email": "nope"},
		"blank name":     {"name": "   "},
		"short password": {"password": "abc"},
		"huge age":       {"age": 3000000000},
		"long password":  {"password": strings.Repeat("é", 40)},
	} {
		t.Run(name, func(t *testing.T) {
			rec := env.Do(t, http.MethodPatch, "/users/me", acct.Token, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	u := storedUser(t, env, acct.ID)
	assert.Equal(t, "Rodney", u.Name)
	assert.Equal(t, "rodney@x.com", u.Email)
}

func TestUpdateProfile_PasswordIsRehashed(t *testing.T) {
	env := servertest.New(t)
	acct := env.Signup(t, "Rodney", "rodney@x.com", "MyPass123")

	rec := env.Do(t, http.MethodPatch, "/users/me", acct.Token, map[string]any{"password": "NewSecret9"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	u := storedUser(t, env, acct.ID)
	assert.NotEqual(t, "NewSecret9", u.Password)
	_, err := bcrypt.Cost([]byte(u.Password))
	assert.NoError(t, err)

	old := env.Do(t, http.MethodPost, "/users/login", "", map[string]any{"email": "rodney@x.com", "password": "MyPass123"})
	assert.Equal(t, http.StatusBadRequest, old.Code)
	fresh := env.Do(t, http.MethodPost, "/users/login", "", map[string]any{"email": "rodney@x.com", "password": "NewSecret9"})
	assert.Equal(t, http.StatusOK, fresh.Code)
}

func TestDeleteAccount_CascadesAndNotifies(t *testing.T) {
	env := servertest.New(t)
	acct := env.Signup(t, "Rodney", "rodney@x.com", "MyPass123")
	other := env.Signup(t, "Other", "other@x.com", "MyPass123")

	for _, a := range []servertest.Account{acct, acct, other} {
		rec := env.Do(t, http.MethodPost, "/tasks", a.Token, map[string]any{"description": "a task"})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.Do(t, http.MethodDelete, "/users/me", acct.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "rodney@x.com", servertest.DecodeJSON[map[string]any](t, rec)["email"])

	_, err := env.Store.Users().FindByID(context.Background(), acct.ID)
	assert.ErrorIs(t, err, auth.ErrUserNotFound)

	ownerless, err := env.Store.Tasks().DeleteByOwner(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Zero(t, ownerless, "owned tasks must be gone")

	list := env.Do(t, http.MethodGet, "/tasks", other.Token, nil)
	assert.Len(t, servertest.DecodeJSON[[]map[string]any](t, list), 1)

	assert.Equal(t, http.StatusUnauthorized, env.Do(t, http.MethodGet, "/users/me", acct.Token, nil).Code)

	var cancellation bool
	for _, m := range env.FlushMail(t) {
		if m.Subject == "Sorry to see you go!" {
			cancellation = true
			assert.Equal(t, "rodney@x.com", m.To.Email)
			assert.Equal(t, "Rodney", m.To.Name)
		}
	}
	assert.True(t, cancellation)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("avatar", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/users/me/avatar", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAvatar_UploadFetchDelete(t *testing.T) {
	env := servertest.New(t)
	acct := env.Signup(t, "Rodney", "rodney@x.com", "MyPass123")

	rec := env.Send(uploadRequest(t, "me.PNG", pngBytes(t, 400, 300)), acct.Token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.Do(t, http.MethodGet, "/users/"+acct.ID+"/avatar", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 250, 250), img.Bounds())

	require.Equal(t, http.StatusOK, env.Do(t, http.MethodDelete, "/users/me/avatar", acct.Token, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.Do(t, http.MethodGet, "/users/"+acct.ID+"/avatar", "", nil).Code)
}

func TestAvatar_RejectsBeforeStoring(t *testing.T) {
	env := servertest.New(t)
	acct := env.Signup(t, "Rodney", "rodney@x.com", "MyPass123")

	tests := []struct {
		name     string
		filename string
		data     []byte
		message  string
	}{
		{"pdf extension", "resume.pdf", pngBytes(t, 10, 10), "Please upload an image file."},
		{"no extension", "avatar", pngBytes(t, 10, 10), "Please upload an image file."},
		{"png name with text content", "fake.png", []byte("definitely not an image"), "Please upload an image file."},
		{"too large", "big.png", append(pngBytes(t, 10, 10), make([]byte, 1_000_001)...), "File too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.Send(uploadRequest(t, tt.filename, tt.data), acct.Token)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.message, servertest.DecodeJSON[apperror.ErrorResponse](t, rec).Error)
			assert.Nil(t, storedUser(t, env, acct.ID).Avatar)
		})
	}
}

func TestAvatar_NotFound(t *testing.T) {
	env := servertest.New(t)
	acct := env.Signup(t, "Rodney", "rodney@x.com", "MyPass123")

	assert.Equal(t, http.StatusNotFound, env.Do(t, http.MethodGet, "/users/"+acct.ID+"/avatar", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.Do(t, http.MethodGet, "/users/no-such-user/avatar", "", nil).Code)
}

func TestAvatar_RequiresSession(t *testing.T) {
	env := servertest.New(t)
	rec := env.Send(uploadRequest(t, "me.png", pngBytes(t, 10, 10)), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
