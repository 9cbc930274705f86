package middleware

import (
	"errors"

	"github.com/erp/procurement/internal/infrastructure/auth"
	"github.com/erp/procurement/internal/infrastructure/logger"
	"github.com/erp/procurement/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// JWT context keys
const (
	JWTClaimsKey  = "jwt_claims"
	JWTActorKey   = "jwt_actor"
	AuthHeaderKey = "Authorization"
)

// TokenValidator verifies a bearer token and returns its claims
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// JWTAuth authenticates the caller and stores the actor for handlers.
// The actor is also attached to the request logger so service logs carry it.
func JWTAuth(validator TokenValidator, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		token := auth.ExtractTokenFromHeader(c.GetHeader(AuthHeaderKey))
		if token == "" {
			abort(c, dto.ErrCodeUnauthorized, "Authentication required")
			return
		}

		claims, err := validator.ValidateToken(token)
		if err != nil {
			log.Warn("JWT authentication failed",
				zap.Error(err),
				zap.String("path", c.FullPath()),
				zap.String("request_id", GetRequestID(c)),
			)
			switch {
			case errors.Is(err, auth.ErrExpiredToken):
				abort(c, dto.ErrCodeTokenExpired, "Token has expired")
			default:
				abort(c, dto.ErrCodeTokenInvalid, "Invalid token")
			}
			return
		}

		c.Set(JWTClaimsKey, claims)
		c.Set(JWTActorKey, claims.Actor())
		c.Request = c.Request.WithContext(logger.WithActor(c.Request.Context(), claims.Actor()))
		c.Next()
	}
}

// RequireRole refuses callers whose token lacks every one of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetJWTClaims(c)
		if claims == nil {
			abort(c, dto.ErrCodeUnauthorized, "Authentication required")
			return
		}
		for _, role := range roles {
			if claims.HasRole(role) {
				c.Next()
				return
			}
		}
		abort(c, dto.ErrCodeForbidden, "Insufficient role for this operation")
	}
}

// GetJWTClaims retrieves JWT claims from gin.Context
func GetJWTClaims(c *gin.Context) *auth.Claims {
	if claims, exists := c.Get(JWTClaimsKey); exists {
		if jwtClaims, ok := claims.(*auth.Claims); ok {
			return jwtClaims
		}
	}
	return nil
}

// GetActor returns the authenticated actor, or "" for anonymous requests
func GetActor(c *gin.Context) string {
	return c.GetString(JWTActorKey)
}
