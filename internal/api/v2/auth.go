// internal/api/v2/auth.go account registration, login and token handling
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cybeform/cybemeeting/internal/datastore"
)

// userContextKey is the echo context key holding the authenticated user.
const userContextKey = "user"

// UserResponse is the public view of an account.
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Company   string    `json:"company,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	IsActive  bool      `json:"is_active"`
}

// TokenResponse is returned by register and login.
type TokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int          `json:"expires_in"` // seconds
	User        UserResponse `json:"user"`
}

// RegisterRequest is the register payload.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
}

// LoginRequest is the login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func userResponse(user *datastore.User) UserResponse {
	return UserResponse{
		ID:        user.PublicID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Company:   user.Company,
		CreatedAt: user.CreatedAt,
		IsActive:  user.IsActive,
	}
}

// requireAuth authenticates the request from its Bearer token and stores
// the account in the request context.
func (c *Controller) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		header := ctx.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return c.unauthorized(ctx, nil, "Authentification requise")
		}

		userID, err := c.Security.VerifyToken(token)
		if err != nil {
			return c.unauthorized(ctx, err, "Jeton d'authentification invalide")
		}

		user, err := c.DS.GetUserByPublicID(userID)
		if err != nil {
			return c.unauthorized(ctx, err, "Utilisateur non trouvé")
		}
		if !user.IsActive {
			return c.unauthorized(ctx, nil, "Compte désactivé")
		}

		ctx.Set(userContextKey, &user)
		return next(ctx)
	}
}

// unauthorized returns a 401 with the WWW-Authenticate challenge the
// frontend relies on to redirect to the login page.
func (c *Controller) unauthorized(ctx echo.Context, err error, message string) error {
	ctx.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
	return c.HandleError(ctx, err, message, http.StatusUnauthorized)
}

// currentUser returns the account stored by requireAuth.
func currentUser(ctx echo.Context) *datastore.User {
	user, _ := ctx.Get(userContextKey).(*datastore.User)
	return user
}

// Register creates a new account and returns an access token.
func (c *Controller) Register(ctx echo.Context) error {
	var req RegisterRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Requête invalide", http.StatusBadRequest)
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	switch {
	case req.Email == "" || !strings.Contains(req.Email, "@"):
		return c.HandleError(ctx, nil, "Adresse email invalide", http.StatusBadRequest)
	case len(req.Password) < 6:
		return c.HandleError(ctx, nil, "Le mot de passe doit contenir au moins 6 caractères", http.StatusBadRequest)
	case strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "":
		return c.HandleError(ctx, nil, "Le prénom et le nom sont requis", http.StatusBadRequest)
	}

	if _, err := c.DS.GetUserByEmail(req.Email); err == nil {
		c.recordAuthOperation("register", "conflict")
		return c.HandleError(ctx, nil, "Un compte existe déjà avec cet email", http.StatusConflict)
	} else if !errors.Is(err, datastore.ErrNotFound) {
		return c.HandleError(ctx, err, "Erreur lors de la création du compte", http.StatusInternalServerError)
	}

	hash, err := c.Security.HashPassword(req.Password)
	if err != nil {
		return c.HandleError(ctx, err, "Erreur lors de la création du compte", http.StatusInternalServerError)
	}

	user := datastore.User{
		PublicID:     uuid.New().String(),
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Company:      strings.TrimSpace(req.Company),
		IsActive:     true,
	}
	if err := c.DS.CreateUser(&user); err != nil {
		c.recordAuthOperation("register", "failure")
		return c.HandleError(ctx, err, "Erreur lors de la création du compte", http.StatusInternalServerError)
	}

	c.recordAuthOperation("register", "success")
	return c.tokenResponse(ctx, &user)
}

// Login authenticates an account by email and password. Attempts are rate
// limited per client IP.
func (c *Controller) Login(ctx echo.Context) error {
	if !c.Security.AllowLogin(ctx.RealIP()) {
		c.recordAuthOperation("login", "rate_limited")
		return c.HandleError(ctx, nil,
			"Trop de tentatives de connexion. Réessayez plus tard.", http.StatusTooManyRequests)
	}

	var req LoginRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Requête invalide", http.StatusBadRequest)
	}

	user, err := c.DS.GetUserByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil || !c.Security.CheckPassword(user.PasswordHash, req.Password) {
		c.recordAuthOperation("login", "failure")
		return c.unauthorized(ctx, nil, "Email ou mot de passe incorrect")
	}
	if !user.IsActive {
		c.recordAuthOperation("login", "failure")
		return c.unauthorized(ctx, nil, "Compte désactivé")
	}

	c.recordAuthOperation("login", "success")
	return c.tokenResponse(ctx, &user)
}

// GetMe returns the authenticated account.
func (c *Controller) GetMe(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, userResponse(currentUser(ctx)))
}

// Logout acknowledges the client-side token removal. Tokens are stateless
// so there is nothing to revoke server-side.
func (c *Controller) Logout(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"message": "Déconnexion réussie"})
}

func (c *Controller) tokenResponse(ctx echo.Context, user *datastore.User) error {
	token, err := c.Security.CreateToken(user.PublicID)
	if err != nil {
		return c.HandleError(ctx, err, "Erreur lors de la création du jeton", http.StatusInternalServerError)
	}

	ttl := c.Settings.Security.TokenTTL
	if ttl <= 0 {
		ttl = 168
	}
	return ctx.JSON(http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   ttl * 3600,
		User:        userResponse(user),
	})
}

func (c *Controller) recordAuthOperation(operation, status string) {
	if c.metrics != nil && c.metrics.HTTP != nil {
		c.metrics.HTTP.RecordAuthOperation(operation, status)
	}
}
