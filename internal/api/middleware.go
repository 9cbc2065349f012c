package api

import (
	"net/http"
	"strings"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
)

// Context keys set by the auth middleware and read by every handler.
const (
	ctxRole  = "role"
	ctxActor = "actor_id"
)

// AuthMiddleware handles JWT authentication. The token's "role" claim
// drives the permission table; "sub" identifies the actor in command
// history and audit entries.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.GetHeader("Authorization")
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
			c.Abort()
			return
		}
		role, _ := claims["role"].(string)
		actor, _ := claims["sub"].(string)
		if role == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token carries no role"})
			c.Abort()
			return
		}
		c.Set(ctxRole, role)
		c.Set(ctxActor, actor)

		c.Next()
	}
}
