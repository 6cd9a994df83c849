package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"civicflow/identity"
)

const actorKey = "actor"

// TokenVerifier validates a bearer token and returns the subject user id.
type TokenVerifier interface {
	VerifyToken(tokenString string) (string, error)
}

// Auth authenticates the request from its Authorization header and stores
// the resolved actor on the context. Role lookup happens per request so a
// stale token can never carry a revoked role.
func Auth(verifier TokenVerifier, resolver *identity.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization token"})
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := verifier.VerifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization token"})
			return
		}

		actor, err := resolver.Resolve(c.Request.Context(), userID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "could not resolve actor"})
			return
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) (identity.Identity, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return identity.Identity{}, false
	}
	actor, ok := v.(identity.Identity)
	return actor, ok
}

// DailyLimit caps how many times a user may pass per rolling day, counted
// in Redis. A nil client disables the limit so local runs work without
// Redis.
func DailyLimit(client *redis.Client, prefix string, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if client == nil || limit <= 0 {
			c.Next()
			return
		}

		actor, ok := actorFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		ctx := c.Request.Context()
		userKey := prefix + ":" + actor.ActorID

		count, err := client.Incr(ctx, userKey).Result()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rate limit check failed"})
			return
		}
		if count == 1 {
			if err := client.Expire(ctx, userKey, 24*time.Hour).Err(); err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rate limit check failed"})
				return
			}
		}

		if count > int64(limit) {
			retryAfter, _ := client.TTL(ctx, userKey).Result()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "daily submission limit reached",
				"retry_after": retryAfter.Seconds(),
			})
			return
		}

		c.Next()
	}
}
