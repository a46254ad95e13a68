// Command issuetoken signs a staff access token for gate scanners and the
// admin console.  It reads JWT_SECRET from the environment or .env.
//
//	issuetoken -sub gate-3 -role VALIDATOR -ttl 720
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/hotel-reservation/internal/config"
	"github.com/iliyamo/hotel-reservation/internal/middleware"
	"github.com/iliyamo/hotel-reservation/internal/model"
	"github.com/iliyamo/hotel-reservation/internal/utils"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	sub := flag.String("sub", "", "staff identifier recorded as validator (required)")
	role := flag.String("role", middleware.RoleValidator, "VALIDATOR or ADMIN")
	ttl := flag.Int("ttl", 0, "lifetime in minutes (default ACCESS_TOKEN_TTL_MIN)")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		log.Fatal().Err(err).Msg("load .env")
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal().Msg("JWT_SECRET is not set")
	}
	if *sub == "" {
		flag.Usage()
		os.Exit(2)
	}
	if len(*sub) > model.MaxStaffIDLen {
		log.Fatal().Int("max", model.MaxStaffIDLen).Msg("-sub is too long")
	}
	if *role != middleware.RoleValidator && *role != middleware.RoleAdmin {
		log.Fatal().Str("role", *role).Msg("role must be VALIDATOR or ADMIN")
	}
	if *ttl <= 0 {
		*ttl = config.AccessTTLMinutes()
	}

	tok, err := utils.NewAccessToken(secret, *sub, *role, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("sign token")
	}
	log.Info().Str("sub", *sub).Str("role", *role).Time("expires", tok.Exp).Msg("token issued")
	fmt.Println(tok.Token)
}
