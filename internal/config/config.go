package config // package config loads application configuration from environment variables

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/hotel-reservation/internal/model"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Database settings are only required when the
// MySQL store is selected.
type Config struct {
	Env              string // application environment (e.g. "dev", "prod")
	Port             string // HTTP port to listen on
	StoreDriver      string // "mysql" or "memory"
	DBUser           string // database username
	DBPass           string // database password (optional)
	DBHost           string // database host address
	DBPort           string // database port number
	DBName           string // database name
	JWTSecret        string // secret used to verify staff bearer tokens
	AccessTTLMin     int    // staff token time-to-live in minutes
	TicketCodeSecret string // key for ticket number derivation
	WebhookSecret    string // shared secret expected in X-Webhook-Secret
	GateRequireAuth  bool   // validation endpoints demand a staff token
	RabbitURL        string // AMQP URL; empty disables notifications
	PublicBaseURL    string // prefix of guest access links
	LogLevel         string // zerolog level name
	LogFormat        string // "json" or "console"

	Reservation ReservationConfig
	RoomTypes   []model.RoomType   // seeded on startup from ROOM_TYPES
	TicketTypes []model.TicketType // seeded on startup from TICKET_TYPES
}

// ReservationConfig carries the tunables of the reservation, issuance and
// validation services.
type ReservationConfig struct {
	HoldTTL               time.Duration // how long a pending ticket purchase holds its quantity
	HoldSweepInterval     time.Duration // how often expired holds are released
	ValidationGrace       time.Duration // tickets stay valid this long after the event date
	MaxTicketsPerPurchase int
	CodeMaxAttempts       int           // collision retries per ticket code
	RetryAttempts         int           // attempts for transient store errors
	RetryBase             time.Duration // first backoff delay, doubled per attempt
}

// LoadDotEnv loads a .env file from the working directory when one exists.
// Variables already present in the environment win.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	cfg := Config{
		Env:              envStr("APP_ENV", "dev"),
		Port:             envStr("APP_PORT", "8080"),
		StoreDriver:      strings.ToLower(envStr("STORE_DRIVER", DriverMySQL)),
		JWTSecret:        must("JWT_SECRET"),
		AccessTTLMin:     AccessTTLMinutes(),
		TicketCodeSecret: must("TICKET_CODE_SECRET"),
		WebhookSecret:    must("WEBHOOK_SECRET"),
		GateRequireAuth:  envBool("GATE_REQUIRE_AUTH", true),
		RabbitURL:        os.Getenv("RABBITMQ_URL"),
		PublicBaseURL:    strings.TrimRight(envStr("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		LogLevel:         envStr("LOG_LEVEL", "info"),
		LogFormat:        envStr("LOG_FORMAT", "json"),
		Reservation:      LoadReservationConfig(),
	}
	switch cfg.StoreDriver {
	case DriverMySQL:
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS") // empty allowed
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = envStr("DB_PORT", "3306")
		cfg.DBName = must("DB_NAME")
	case DriverMemory:
	default:
		log.Fatal().Str("driver", cfg.StoreDriver).Msg("unknown STORE_DRIVER")
	}

	var err error
	if cfg.RoomTypes, err = ParseRoomTypes(os.Getenv("ROOM_TYPES")); err != nil {
		log.Fatal().Err(err).Msg("invalid ROOM_TYPES")
	}
	if cfg.TicketTypes, err = ParseTicketTypes(os.Getenv("TICKET_TYPES")); err != nil {
		log.Fatal().Err(err).Msg("invalid TICKET_TYPES")
	}
	return cfg
}

// AccessTTLMinutes returns ACCESS_TOKEN_TTL_MIN, 720 by default.
func AccessTTLMinutes() int { return envInt("ACCESS_TOKEN_TTL_MIN", 720) }

// LoadReservationConfig reads the service tunables, falling back to
// defaults for anything unset or unparsable.
func LoadReservationConfig() ReservationConfig {
	rc := ReservationConfig{
		HoldTTL:               envDur("TICKET_HOLD_TTL", 15*time.Minute),
		HoldSweepInterval:     envDur("HOLD_SWEEP_INTERVAL", time.Minute),
		ValidationGrace:       envDur("VALIDATION_GRACE", 6*time.Hour),
		MaxTicketsPerPurchase: envInt("MAX_TICKETS_PER_PURCHASE", 20),
		CodeMaxAttempts:       envInt("CODE_MAX_ATTEMPTS", 5),
		RetryAttempts:         envInt("STORE_RETRY_ATTEMPTS", 3),
		RetryBase:             envDur("STORE_RETRY_BASE", 50*time.Millisecond),
	}
	if rc.MaxTicketsPerPurchase < 1 {
		rc.MaxTicketsPerPurchase = 1
	}
	if rc.CodeMaxAttempts < 1 {
		rc.CodeMaxAttempts = 1
	}
	if rc.RetryAttempts < 1 {
		rc.RetryAttempts = 1
	}
	if rc.HoldSweepInterval <= 0 {
		rc.HoldSweepInterval = time.Minute
	}
	return rc
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatal().Str("key", key).Msg("missing required env var")
	}
	return v
}
