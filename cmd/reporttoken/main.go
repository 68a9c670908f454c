package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"openphone-relay/internal/auth"
	"openphone-relay/internal/config"
	"openphone-relay/pkg/logger"

	"github.com/joho/godotenv"
)

// reporttoken prints a signed report access token to stdout.
//
//	reporttoken -tenant acme -subject ops@example.com
//	reporttoken -tenant '*'
func main() {
	var (
		tenantID = flag.String("tenant", "", "Tenant id the token grants, or * for all tenants")
		subject  = flag.String("subject", "", "Who the token is issued to (informational)")
		ttl      = flag.Duration("ttl", 0, "Token lifetime; defaults to JWT_TOKEN_TTL")
	)
	flag.Parse()

	_ = godotenv.Load()
	log := logger.New(os.Getenv("APP_ENV"))
	slog.SetDefault(log)

	if *tenantID == "" {
		fmt.Fprintln(os.Stderr, "-tenant is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadAuth()
	if err != nil {
		log.Error("auth config invalid", "err", err)
		os.Exit(1)
	}
	if *ttl > 0 {
		cfg.TokenTTL = *ttl
	}

	m, err := auth.NewManager(cfg)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	tok, err := m.Issue(time.Now(), *subject, *tenantID)
	if err != nil {
		log.Error("token issuance failed", "err", err)
		os.Exit(1)
	}
	log.Debug("report token issued", "tenant_id", *tenantID, "ttl", cfg.TokenTTL.String())
	fmt.Println(tok)
}
