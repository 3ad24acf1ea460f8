package mw

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"aeropark-backend/internal/errs"
	"aeropark-backend/internal/identity"
	"aeropark-backend/internal/model"
	"aeropark-backend/internal/store"
)

const (
	ctxIdentityKey = "identity"
	ctxRoleKey     = "user_role"
)

// Auth authenticates bearer tokens and resolves the caller's role.
type Auth struct {
	verifier identity.Verifier
	store    store.Store
	logger   *slog.Logger
}

func NewAuth(verifier identity.Verifier, s store.Store, logger *slog.Logger) *Auth {
	return &Auth{verifier: verifier, store: s, logger: logger}
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(authHeader[len("Bearer "):])
	}
	return ""
}

func (a *Auth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Jeton d'acces requis"})
			return
		}

		id, err := a.verifier.Verify(c.Request.Context(), token)
		if err != nil {
			a.logger.Warn("token validation failed", "error", err.Error())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Jeton invalide ou expire"})
			return
		}

		role, err := a.resolveRole(c, id)
		if err != nil {
			a.logger.Error("resolve user role", "subject", id.Subject, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Erreur interne du serveur"})
			return
		}

		c.Set(ctxIdentityKey, id)
		c.Set(ctxRoleKey, role)
		c.Next()
	}
}

// resolveRole returns the stored role, registering unknown subjects as users.
func (a *Auth) resolveRole(c *gin.Context, id *identity.Identity) (model.Role, error) {
	ctx := c.Request.Context()
	u, err := a.store.GetUser(ctx, id.Subject)
	if err == nil {
		return u.Role, nil
	}
	if !errs.Is(err, store.ErrRecordNotFound) {
		return "", err
	}
	u = &model.User{Subject: id.Subject, Email: id.Email, Name: id.Name, Role: model.RoleUser}
	if err := a.store.EnsureUser(ctx, u); err != nil {
		return "", err
	}
	return u.Role, nil
}

// RequireAdmin must run after RequireAuth.
func (a *Auth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := CurrentRole(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Erreur interne du serveur"})
			return
		}
		if role != model.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Acces reserve aux administrateurs"})
			return
		}
		c.Next()
	}
}

func CurrentIdentity(c *gin.Context) (*identity.Identity, bool) {
	v, exists := c.Get(ctxIdentityKey)
	if !exists {
		return nil, false
	}
	id, ok := v.(*identity.Identity)
	return id, ok
}

func CurrentRole(c *gin.Context) (model.Role, bool) {
	v, exists := c.Get(ctxRoleKey)
	if !exists {
		return "", false
	}
	role, ok := v.(model.Role)
	return role, ok
}

// RequireAPIKey guards sensor endpoints with the X-API-Key header.
func RequireAPIKey(key string) gin.HandlerFunc {
	expected := []byte(key)
	return func(c *gin.Context) {
		got := c.GetHeader("X-API-Key")
		if got == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Cle API manquante"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Cle API invalide"})
			return
		}
		c.Next()
	}
}
