package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"booking-core/internal/models"
	"booking-core/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const actorKey = "actor"

// Anonymous is the actor of requests without a bearer token.
var Anonymous = models.Actor{ID: "anonymous", Name: "Anonymous guest", Role: models.RoleGuest}

// ActorMiddleware resolves the calling actor from an HS256 bearer token with
// sub, name and role claims. Requests without a token act as Anonymous; a
// token that fails validation is rejected.
func ActorMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.Set(actorKey, Anonymous)
			c.Next()
			return
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			writeError(c, http.StatusUnauthorized, codeUnauthorized, "expected a bearer token")
			return
		}

		tok, err := jwt.Parse(strings.TrimPrefix(auth, "Bearer "), func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !tok.Valid {
			writeError(c, http.StatusUnauthorized, codeUnauthorized, "invalid token")
			return
		}
		claims, ok := tok.Claims.(jwt.MapClaims)
		if !ok {
			writeError(c, http.StatusUnauthorized, codeUnauthorized, "invalid claims")
			return
		}

		sub, _ := claims["sub"].(string)
		if sub == "" {
			writeError(c, http.StatusUnauthorized, codeUnauthorized, "token has no subject")
			return
		}
		name, _ := claims["name"].(string)
		role, _ := claims["role"].(string)
		if role == "" {
			role = models.RoleGuest
		}
		c.Set(actorKey, models.Actor{ID: sub, Name: name, Role: role})
		c.Next()
	}
}

// RequireRole rejects callers whose role is not one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		if actor.ID == Anonymous.ID {
			writeError(c, http.StatusUnauthorized, codeUnauthorized, "authentication required")
			return
		}
		writeError(c, http.StatusForbidden, codeForbidden, "insufficient role")
	}
}

func actorFrom(c *gin.Context) models.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(models.Actor); ok {
			return a
		}
	}
	return Anonymous
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
