package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"agora-server/internal/identity"
	"agora-server/internal/model"
)

const authContextKey = "authContext"

func AuthFromContext(c *gin.Context) (model.AuthContext, bool) {
	value, ok := c.Get(authContextKey)
	if !ok {
		return model.AuthContext{}, false
	}
	ctx, ok := value.(model.AuthContext)
	return ctx, ok && ctx.Address != ""
}

func setAuthContext(c *gin.Context, agent model.Agent) {
	c.Set(authContextKey, model.AuthContext{
		Address: agent.Address,
		Name:    agent.Name,
		Tier:    agent.Tier,
		Telos:   agent.Telos,
	})
}

// RequireAuth resolves the request credential to an agent. Dispatch order:
// X-API-Key header, bootstrap bearer token, then JWT bearer credential.
func RequireAuth(registry *identity.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
			agent, err := registry.VerifyAPIKey(apiKey)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
				c.Abort()
				return
			}
			setAuthContext(c, agent)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication credential"})
			c.Abort()
			return
		}

		var (
			agent model.Agent
			err   error
		)
		if identity.IsBootstrapToken(parts[1]) {
			agent, err = registry.VerifyBootstrapToken(parts[1])
		} else {
			agent, err = registry.VerifyCredentialToken(parts[1])
		}
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication credential"})
			c.Abort()
			return
		}

		setAuthContext(c, agent)
		c.Next()
	}
}

// RequireTier enforces a tier ceiling after RequireAuth has resolved the
// identity.
func RequireTier(registry *identity.Registry, required model.Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, ok := AuthFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}
		if err := registry.Authorize(ctx, required); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient tier for this operation"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAdmin enforces the cryptographic tier plus the allowlist.
func RequireAdmin(registry *identity.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, ok := AuthFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}
		if err := registry.AuthorizeAdmin(ctx); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "Administrator access required"})
			c.Abort()
			return
		}
		c.Next()
	}
}
