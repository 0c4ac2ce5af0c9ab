package auth

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"bookreview/internal/apperr"
	"bookreview/internal/policy"
)

const CtxClaimsKey = "auth_claims"

// AuthMiddleware requires a valid bearer token whose version still matches
// the stored one (logout and password change bump it).
func AuthMiddleware(tokens TokenService, store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" || !strings.HasPrefix(strings.ToLower(h), "bearer ") {
			apperr.Respond(c, apperr.Unauthenticated("No token, authorization denied"))
			return
		}

		raw := strings.TrimSpace(h[len("Bearer "):])
		claims, err := tokens.Parse(raw)
		if err != nil {
			apperr.Respond(c, apperr.Unauthenticated("Token is not valid"))
			return
		}
		if store != nil {
			current, err := store.GetTokenVersion(c.Request.Context(), claims.UserID)
			if err != nil && !errors.Is(err, apperr.ErrNotFound) {
				apperr.Respond(c, err)
				return
			}
			if err != nil || current != claims.TokenVersion {
				apperr.Respond(c, apperr.Unauthenticated("Token is not valid"))
				return
			}
		}

		c.Set(CtxClaimsKey, claims)
		c.Next()
	}
}

func MustGetClaims(c *gin.Context) *Claims {
	v, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}

// Principal returns the caller as a policy principal, or nil when the
// request is anonymous.
func Principal(c *gin.Context) *policy.Principal {
	claims := MustGetClaims(c)
	if claims == nil {
		return nil
	}
	return &policy.Principal{ID: claims.UserID, Role: claims.Role}
}
