package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const TokenTypeReport TokenType = "report"

// AllTenants is the tenant_id claim that grants access to every tenant,
// including the global report.
const AllTenants = "*"

// Claims are the only supported JWT claims shape for report access.
// Subject names who the token was issued to; it is informational only.
type Claims struct {
	jwt.RegisteredClaims

	TenantID  string    `json:"tenant_id"`
	TokenType TokenType `json:"token_type"`
}

// Allows reports whether the token may read tenantID. An empty tenantID
// means the all-tenant report.
func (c Claims) Allows(tenantID string) bool {
	if c.TenantID == AllTenants {
		return true
	}
	return tenantID != "" && c.TenantID == tenantID
}
