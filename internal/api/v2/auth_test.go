package api

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	token, user := env.register("jean@chantier.fr")
	assert.NotEmpty(t, token)
	assert.Equal(t, "jean@chantier.fr", user.Email)
	assert.Equal(t, "Jean", user.FirstName)
	assert.True(t, user.IsActive)

	// duplicate email answers conflict
	rec := env.request(http.MethodPost, "/api/v2/auth/register", "", RegisterRequest{
		Email:     "jean@chantier.fr",
		Password:  "chantier2025",
		FirstName: "Jean",
		LastName:  "Dupont",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.request(http.MethodPost, "/api/v2/auth/login", "", LoginRequest{
		Email:    "jean@chantier.fr",
		Password: "chantier2025",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var loginResp TokenResponse
	env.decode(rec, &loginResp)
	assert.NotEmpty(t, loginResp.AccessToken)
	assert.Equal(t, "bearer", loginResp.TokenType)
	assert.Positive(t, loginResp.ExpiresIn)
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.register("jean@chantier.fr")

	rec := env.request(http.MethodPost, "/api/v2/auth/login", "", LoginRequest{
		Email:    "jean@chantier.fr",
		Password: "mauvais-mot-de-passe",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get(echo.HeaderWWWAuthenticate))

	var errResp ErrorResponse
	env.decode(rec, &errResp)
	assert.Equal(t, "Email ou mot de passe incorrect", errResp.Message)
	assert.NotEmpty(t, errResp.CorrelationID)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"missing email", RegisterRequest{Password: "chantier2025", FirstName: "Jean", LastName: "Dupont"}},
		{"invalid email", RegisterRequest{Email: "pas-un-email", Password: "chantier2025", FirstName: "Jean", LastName: "Dupont"}},
		{"short password", RegisterRequest{Email: "jean@chantier.fr", Password: "abc", FirstName: "Jean", LastName: "Dupont"}},
		{"missing name", RegisterRequest{Email: "jean@chantier.fr", Password: "chantier2025"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.request(http.MethodPost, "/api/v2/auth/register", "", tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetMeRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	token, user := env.register("jean@chantier.fr")

	rec := env.request(http.MethodGet, "/api/v2/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var me UserResponse
	env.decode(rec, &me)
	assert.Equal(t, user.ID, me.ID)

	// no token
	rec = env.request(http.MethodGet, "/api/v2/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// garbage token
	rec = env.request(http.MethodGet, "/api/v2/auth/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register("jean@chantier.fr")

	rec := env.request(http.MethodPost, "/api/v2/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	env.decode(rec, &body)
	assert.Equal(t, "Déconnexion réussie", body["message"])
}

func TestLoginRateLimit(t *testing.T) {
	env := newTestEnv(t)
	env.register("jean@chantier.fr")

	// tighten the limit before the first login creates the per IP limiter
	env.settings.Security.LoginRateLimit = 0.001
	env.settings.Security.LoginRateBurst = 2

	codes := make([]int, 0, 3)
	for range 3 {
		rec := env.request(http.MethodPost, "/api/v2/auth/login", "", LoginRequest{
			Email:    "jean@chantier.fr",
			Password: "mauvais",
		})
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, http.StatusUnauthorized, codes[0])
	assert.Equal(t, http.StatusUnauthorized, codes[1])
	assert.Equal(t, http.StatusTooManyRequests, codes[2])
}
