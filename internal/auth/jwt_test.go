package auth

import (
	"testing"
	"time"

	"openphone-relay/internal/config"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:   "0123456789abcdef",
		JWTIssuer:   "issuer",
		JWTAudience: "aud",
		TokenTTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestIssueAndVerifyReportToken(t *testing.T) {
	m := newTestManager(t)

	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.Issue(now, "ops@example.com", "acme")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := m.Verify(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.TenantID != "acme" || claims.Subject != "ops@example.com" || claims.TokenType != TokenTypeReport {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.Allows("acme") || claims.Allows("globex") || claims.Allows("") {
		t.Fatalf("unexpected scope for %+v", claims)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := newTestManager(t)
	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.Issue(now, "", "acme")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok, now.Add(2*time.Hour)); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestVerifyRejectsOtherSecretAndAudience(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	tok, err := m.Issue(now, "", AllTenants)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other, _ := NewManager(config.AuthConfig{JWTSecret: "fedcba9876543210", JWTIssuer: "issuer", JWTAudience: "aud"})
	if _, err := other.Verify(tok, now); err == nil {
		t.Fatalf("expected signature error")
	}

	wrongAud, _ := NewManager(config.AuthConfig{JWTSecret: "0123456789abcdef", JWTIssuer: "issuer", JWTAudience: "other"})
	if _, err := wrongAud.Verify(tok, now); err == nil {
		t.Fatalf("expected audience error")
	}
}

func TestAllTenantsClaim(t *testing.T) {
	c := Claims{TenantID: AllTenants}
	if !c.Allows("") || !c.Allows("acme") {
		t.Fatalf("wildcard should allow everything")
	}
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager(config.AuthConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}
