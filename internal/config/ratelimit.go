package config

import "time"

// RateLimitConfig configures the Redis token bucket placed in front of the
// reservation and validation endpoints.  A burst of Capacity requests is
// allowed, then RefillTokens are added every RefillInterval.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string // ip, user, route, ip_user, ip_route, user_route, ip_user_route
	Prefix         string
	Debug          bool
}

func LoadRateLimitConfig() RateLimitConfig {
	rc := RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       envInt("RATE_LIMIT_CAPACITY", 30),
		RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:    envStr("RATE_LIMIT_KEY_STRATEGY", "ip_user_route"),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "hotel:rl"),
		Debug:          envBool("RATE_LIMIT_DEBUG", false),
	}
	if rc.Capacity < 1 {
		rc.Capacity = 1
	}
	if rc.RefillTokens < 1 {
		rc.RefillTokens = 1
	}
	if rc.RefillInterval <= 0 {
		rc.RefillInterval = time.Second
	}
	// the bucket must outlive a full refill cycle or it resets early
	if minTTL := 5 * rc.RefillInterval; rc.TTL < minTTL {
		rc.TTL = minTTL
	}
	return rc
}
