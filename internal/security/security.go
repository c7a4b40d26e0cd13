// Package security handles password hashing, access tokens and login rate
// limiting.
package security

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/cybeform/cybemeeting/internal/conf"
	"github.com/cybeform/cybemeeting/internal/errors"
)

var (
	ErrInvalidToken       = errors.Newf("invalid or expired token").Category(errors.CategoryAuth).Component("security").Build()
	ErrInvalidCredentials = errors.Newf("invalid credentials").Category(errors.CategoryAuth).Component("security").Build()
)

// Manager issues and verifies credentials according to the security
// settings.
type Manager struct {
	settings *conf.SecuritySettings
	limiters *cache.Cache
}

func NewManager(settings *conf.SecuritySettings) *Manager {
	return &Manager{
		settings: settings,
		// limiter entries expire after an hour of inactivity
		limiters: cache.New(time.Hour, 10*time.Minute),
	}
}

// HashPassword hashes a plaintext password with bcrypt.
func (m *Manager) HashPassword(password string) (string, error) {
	cost := m.settings.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", errors.New(err).
			Component("security").
			Category(errors.CategoryAuth).
			Context("operation", "hash_password").
			Build()
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against its stored hash.
func (m *Manager) CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

type tokenClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// CreateToken issues a signed access token for the given user public ID.
func (m *Manager) CreateToken(userID string) (string, error) {
	ttl := time.Duration(m.settings.TokenTTL) * time.Hour
	if ttl <= 0 {
		ttl = 168 * time.Hour
	}
	now := time.Now()
	claims := tokenClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.settings.JWTSecret))
	if err != nil {
		return "", errors.New(err).
			Component("security").
			Category(errors.CategoryAuth).
			Context("operation", "sign_token").
			Build()
	}
	return signed, nil
}

// VerifyToken validates a token and returns the user public ID it carries.
func (m *Manager) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(m.settings.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}

// AllowLogin rate limits login attempts per client key, typically the
// remote IP.
func (m *Manager) AllowLogin(key string) bool {
	limit := rate.Limit(m.settings.LoginRateLimit)
	if limit <= 0 {
		limit = rate.Limit(1)
	}
	burst := m.settings.LoginRateBurst
	if burst <= 0 {
		burst = 5
	}

	if cached, ok := m.limiters.Get(key); ok {
		limiter, ok := cached.(*rate.Limiter)
		if ok {
			m.limiters.SetDefault(key, limiter)
			return limiter.Allow()
		}
	}

	limiter := rate.NewLimiter(limit, burst)
	m.limiters.SetDefault(key, limiter)
	return limiter.Allow()
}
