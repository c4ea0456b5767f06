package server

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/veriplex/veriplex/internal/apikey/domain"
)

const contextIdentityKey = "caller_identity"

// APIKeyRequired authenticates requests with a bearer API key. Caller
// identity is derived solely from the api_keys table.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		identity, err := s.apiKeySvc.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			AbortWithError(c, err)
			return
		}

		// Last-used is advisory; it must not add latency to the call.
		go func(keyID int64) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.apiKeySvc.TouchLastUsed(ctx, keyID)
		}(identity.APIKeyID)

		c.Set(contextIdentityKey, identity)
		c.Next()
	}
}

// identityFrom returns the authenticated identity set by APIKeyRequired.
func identityFrom(c *gin.Context) (*apikeydomain.Identity, bool) {
	v, ok := c.Get(contextIdentityKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*apikeydomain.Identity)
	return identity, ok
}
