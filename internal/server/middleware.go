package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/greenledger/internal/auth/token"
	obscontext "github.com/smallbiznis/greenledger/internal/observability/context"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"github.com/smallbiznis/greenledger/pkg/apperr"
)

const (
	contextUserIDKey    = "user_id"
	contextCompanyIDKey = "company_id"
)

// AuthRequired verifies the bearer token and attaches the caller's
// principal to the request context.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		userID, err := s.tokens.Verify(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		principal, err := s.identitySvc.Principal(c.Request.Context(), userID)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				err = token.ErrInvalidToken
			}
			AbortWithError(c, err)
			return
		}

		ctx := tenant.WithPrincipal(c.Request.Context(), principal)
		ctx = obscontext.WithActor(ctx, "user", principal.UserID.String())
		c.Set(contextUserIDKey, principal.UserID.String())
		if principal.HasCompany() {
			ctx = obscontext.WithCompanyID(ctx, principal.CompanyID.String())
			c.Set(contextCompanyIDKey, principal.CompanyID.String())
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, raw, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}
