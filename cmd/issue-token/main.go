// Command issue-token mints a signed JWT for local testing. Identities are
// owned by the external auth provider; this only signs what it is told.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/attempt-service/internal/config"
	"github.com/stemsi/attempt-service/internal/logger"
	"github.com/stemsi/attempt-service/internal/model"
	"github.com/stemsi/attempt-service/internal/service"
)

func main() {
	userID := flag.Int("user", 0, "user id to embed in the token")
	role := flag.String("role", string(model.RoleStudent), "role: student, lecturer or admin")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to JWT_EXPIRY_HOURS)")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -user must be a positive id")
		flag.PrintDefaults()
		os.Exit(2)
	}

	expiry := cfg.JWTExpiry
	if *ttl > 0 {
		expiry = *ttl
	}

	token, err := service.NewAuthService(cfg.JWTSecret, expiry).GenerateToken(*userID, model.Role(*role))
	if err != nil {
		log.Fatal().Err(err).Str("role", *role).Msg("Failed to issue token")
	}

	log.Info().
		Int("user_id", *userID).
		Str("role", *role).
		Time("expires_at", time.Now().Add(expiry)).
		Msg("Token issued")
	fmt.Println(token)
}
