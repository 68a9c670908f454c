package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_ReportsMissingDatabase(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_AppliesDefaults(t *testing.T) {
	c := Config{DB: DBConfig{URL: "postgres://localhost/calls"}}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.App.Env != "production" {
		t.Fatalf("expected production env default, got %q", c.App.Env)
	}
	if c.App.Port != defaultPort {
		t.Fatalf("expected port %d, got %d", defaultPort, c.App.Port)
	}
	if c.CRM.BaseURL != defaultCRMBaseURL || c.CRM.Timeout != defaultCRMTimeout {
		t.Fatalf("unexpected crm defaults: %+v", c.CRM)
	}
	if c.Reports.Concurrency != defaultReportWorkers || c.Reports.Timezone != "UTC" {
		t.Fatalf("unexpected report defaults: %+v", c.Reports)
	}
	if c.Reports.MeetingTagPrefix != defaultMeetingTagPrefix {
		t.Fatalf("unexpected tag prefix %q", c.Reports.MeetingTagPrefix)
	}
	if c.ReportLocation() != time.UTC {
		t.Fatalf("expected UTC location")
	}
}

func TestValidate_ProductionRejectsSQLite(t *testing.T) {
	c := Config{App: AppConfig{Env: "production"}, DB: DBConfig{URL: "sqlite:///tmp/calls.db"}}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for sqlite in production")
	}

	c = Config{App: AppConfig{Env: "local"}, DB: DBConfig{URL: "sqlite:///tmp/calls.db"}}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected sqlite to be accepted locally, got %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	c := Config{
		App:     AppConfig{Env: "qa", Port: 70000},
		CRM:     CRMConfig{BaseURL: "ftp://crm"},
		Reports: ReportsConfig{Timezone: "Mars/Olympus"},
		Auth:    AuthConfig{JWTSecret: "short"},
	}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"APP_ENV", "APP_PORT", "DATABASE_URL", "CRM_BASE_URL", "REPORT_TIMEZONE", "REPORTS_JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "")
	t.Setenv("PORT", "8081")
	t.Setenv("DATABASE_URL", "postgres://localhost/calls")
	t.Setenv("TENANTS_JSON", "")
	t.Setenv("GHL_API_KEY_MAP_JSON", `{"+15551230000":"acme-key"}`)
	t.Setenv("CRM_TIMEOUT", "3s")
	t.Setenv("REPORT_TIMEZONE", "America/New_York")

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.App.Port != 8081 {
		t.Fatalf("expected PORT fallback, got %d", c.App.Port)
	}
	if c.Tenants.Source != "GHL_API_KEY_MAP_JSON" || c.Tenants.Raw == "" {
		t.Fatalf("expected legacy tenant map, got %+v", c.Tenants)
	}
	if c.CRM.Timeout != 3*time.Second {
		t.Fatalf("expected 3s timeout, got %v", c.CRM.Timeout)
	}
	if c.ReportLocation().String() != "America/New_York" {
		t.Fatalf("unexpected location %v", c.ReportLocation())
	}
}

func TestLoad_RejectsBadNumbers(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/calls")
	t.Setenv("APP_PORT", "eighty")
	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadAuth(t *testing.T) {
	t.Setenv("REPORTS_JWT_SECRET", "")
	if _, err := LoadAuth(); err == nil {
		t.Fatalf("expected missing secret error")
	}

	t.Setenv("REPORTS_JWT_SECRET", "0123456789abcdef")
	t.Setenv("JWT_ISSUER", "relay")
	t.Setenv("JWT_TOKEN_TTL", "")
	a, err := LoadAuth()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if a.JWTIssuer != "relay" || a.TokenTTL != defaultTokenTTL {
		t.Fatalf("unexpected auth config: %+v", a)
	}

	t.Setenv("JWT_TOKEN_TTL", "soon")
	if _, err := LoadAuth(); err == nil {
		t.Fatalf("expected duration parse error")
	}
}
