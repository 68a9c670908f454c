package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// Config holds all configuration required by the relay process.
// All values come from env (or a .env file loaded by main).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Tenants TenantsConfig
	CRM     CRMConfig
	Reports ReportsConfig
	Auth    AuthConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	// URL selects the driver: postgres://, postgresql:// or sqlite://.
	URL string
}

// RedisConfig is optional. An empty Addr disables webhook delivery dedup.
type RedisConfig struct {
	Addr string
	// DedupTTL bounds how long a recording delivery is remembered.
	DedupTTL time.Duration
}

// TenantsConfig carries the raw tenant directory. It is parsed by
// internal/tenants so that a malformed value degrades routing instead of
// aborting startup.
type TenantsConfig struct {
	Raw    string
	Source string
}

type CRMConfig struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

type ReportsConfig struct {
	Concurrency      int
	Timezone         string
	MeetingTagPrefix string
}

// AuthConfig enables report access tokens when JWTSecret is set.
type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	TokenTTL    time.Duration
}

const (
	defaultPort             = 3000
	defaultCRMBaseURL       = "https://rest.gohighlevel.com/v1"
	defaultCRMTimeout       = 10 * time.Second
	defaultCRMRate          = 5
	defaultCRMBurst         = 10
	defaultReportWorkers    = 4
	defaultMeetingTagPrefix = "meeting-scheduled-"
	defaultDedupTTL         = 24 * time.Hour
	defaultTokenTTL         = 30 * 24 * time.Hour
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := optionalInt("APP_PORT")
		if n == 0 && err == nil {
			n, err = optionalInt("PORT")
		}
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.URL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	c.Redis.Addr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	{
		d, err := optionalDuration("REDIS_DEDUP_TTL")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Redis.DedupTTL = d
	}

	c.Tenants.Source = "TENANTS_JSON"
	c.Tenants.Raw = strings.TrimSpace(os.Getenv("TENANTS_JSON"))
	if c.Tenants.Raw == "" {
		// key map format of earlier deployments: {"<number>": "<api key>"}
		c.Tenants.Source = "GHL_API_KEY_MAP_JSON"
		c.Tenants.Raw = strings.TrimSpace(os.Getenv("GHL_API_KEY_MAP_JSON"))
	}

	c.CRM.BaseURL = strings.TrimSpace(os.Getenv("CRM_BASE_URL"))
	{
		d, err := optionalDuration("CRM_TIMEOUT")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.CRM.Timeout = d
	}
	{
		f, err := optionalFloat("CRM_RATE_PER_SEC")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.CRM.RatePerSecond = f
	}
	{
		n, err := optionalInt("CRM_BURST")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.CRM.Burst = n
	}

	{
		n, err := optionalInt("REPORT_CONCURRENCY")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Reports.Concurrency = n
	}
	c.Reports.Timezone = strings.TrimSpace(os.Getenv("REPORT_TIMEZONE"))
	c.Reports.MeetingTagPrefix = os.Getenv("MEETING_TAG_PREFIX")

	{
		a, err := readAuth()
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Auth = a
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadAuth reads only the report token settings. It is used by tools that
// issue tokens without the rest of the service configuration.
func LoadAuth() (AuthConfig, error) {
	a, err := readAuth()
	if err != nil {
		return AuthConfig{}, err
	}
	if a.JWTSecret == "" {
		return AuthConfig{}, errors.New("REPORTS_JWT_SECRET is required")
	}
	if a.TokenTTL <= 0 {
		a.TokenTTL = defaultTokenTTL
	}
	return a, nil
}

func readAuth() (AuthConfig, error) {
	a := AuthConfig{
		JWTSecret:   os.Getenv("REPORTS_JWT_SECRET"),
		JWTIssuer:   strings.TrimSpace(os.Getenv("JWT_ISSUER")),
		JWTAudience: strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
	}
	d, err := optionalDuration("JWT_TOKEN_TTL")
	a.TokenTTL = d
	return a, err
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		c.App.Env = "production"
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port == 0 {
		c.App.Port = defaultPort
	}
	if c.App.Port < 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	} else if c.IsProduction() && strings.HasPrefix(c.DB.URL, "sqlite") {
		errs = append(errs, errors.New("DATABASE_URL must point at postgres in production"))
	}

	if c.Redis.DedupTTL <= 0 {
		c.Redis.DedupTTL = defaultDedupTTL
	}

	if c.CRM.BaseURL == "" {
		c.CRM.BaseURL = defaultCRMBaseURL
	}
	c.CRM.BaseURL = strings.TrimRight(c.CRM.BaseURL, "/")
	if !strings.HasPrefix(c.CRM.BaseURL, "http://") && !strings.HasPrefix(c.CRM.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("CRM_BASE_URL must be an http(s) url, got %q", c.CRM.BaseURL))
	}
	if c.CRM.Timeout <= 0 {
		c.CRM.Timeout = defaultCRMTimeout
	}
	if c.CRM.RatePerSecond == 0 {
		c.CRM.RatePerSecond = defaultCRMRate
	}
	if c.CRM.RatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("CRM_RATE_PER_SEC must be positive, got %v", c.CRM.RatePerSecond))
	}
	if c.CRM.Burst <= 0 {
		c.CRM.Burst = defaultCRMBurst
	}

	if c.Reports.Concurrency <= 0 {
		c.Reports.Concurrency = defaultReportWorkers
	}
	if c.Reports.Timezone == "" {
		c.Reports.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(c.Reports.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("REPORT_TIMEZONE is not a known zone: %q", c.Reports.Timezone))
	}
	if c.Reports.MeetingTagPrefix == "" {
		c.Reports.MeetingTagPrefix = defaultMeetingTagPrefix
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("REPORTS_JWT_SECRET must be at least 16 bytes"))
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = defaultTokenTTL
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// ReportLocation returns the zone report buckets are computed in.
// Validate has already rejected unknown zones.
func (c Config) ReportLocation() *time.Location {
	loc, err := time.LoadLocation(c.Reports.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalFloat(key string) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
