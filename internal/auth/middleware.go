package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"openphone-relay/pkg/logger"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// TokenQueryParam lets HTML dashboards be opened from a plain link.
const TokenQueryParam = "token"

// RequireReportAccess verifies a report token and checks it against the
// tenant named by the tenantParam path parameter. Routes without that
// parameter need an AllTenants token. A nil manager disables the check.
func RequireReportAccess(m *Manager, tenantParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		tok := bearerToken(c)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(tok, time.Now())
		if err != nil {
			logger.FromGin(c).Info("report token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		tenantID := ""
		if tenantParam != "" {
			tenantID = c.Param(tenantParam)
		}
		if !claims.Allows(tenantID) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		ctx := WithTenantScope(c.Request.Context(), claims.TenantID)
		c.Request = c.Request.WithContext(ctx)
		c.Set("tenant_scope", claims.TenantID)

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
	if strings.HasPrefix(raw, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
	}
	return strings.TrimSpace(c.Query(TokenQueryParam))
}
