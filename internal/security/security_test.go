package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybeform/cybemeeting/internal/conf"
)

func newTestManager() *Manager {
	return NewManager(&conf.SecuritySettings{
		JWTSecret:      "test-secret",
		TokenTTL:       1,
		BcryptCost:     4,
		LoginRateLimit: 10,
		LoginRateBurst: 3,
	})
}

func TestPasswordHashing(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	hash, err := m.HashPassword("motdepasse123")
	require.NoError(t, err)
	assert.NotEqual(t, "motdepasse123", hash)

	assert.True(t, m.CheckPassword(hash, "motdepasse123"))
	assert.False(t, m.CheckPassword(hash, "mauvais"))
}

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	token, err := m.CreateToken("user-public-id")
	require.NoError(t, err)

	userID, err := m.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-public-id", userID)
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	_, err := m.VerifyToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	t.Parallel()

	issuer := NewManager(&conf.SecuritySettings{JWTSecret: "secret-a", TokenTTL: 1})
	verifier := NewManager(&conf.SecuritySettings{JWTSecret: "secret-b", TokenTTL: 1})

	token, err := issuer.CreateToken("user-public-id")
	require.NoError(t, err)

	_, err = verifier.VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLoginRateLimit(t *testing.T) {
	t.Parallel()

	m := NewManager(&conf.SecuritySettings{
		JWTSecret:      "test-secret",
		LoginRateLimit: 0.001,
		LoginRateBurst: 2,
	})

	assert.True(t, m.AllowLogin("10.0.0.1"))
	assert.True(t, m.AllowLogin("10.0.0.1"))
	assert.False(t, m.AllowLogin("10.0.0.1"))

	// Other clients have their own budget.
	assert.True(t, m.AllowLogin("10.0.0.2"))
}

func TestTokenContainsExpiry(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	token, err := m.CreateToken("user-public-id")
	require.NoError(t, err)

	// The token stays valid right after issuance.
	time.Sleep(10 * time.Millisecond)
	_, err = m.VerifyToken(token)
	assert.NoError(t, err)
}
