package config

import (
	"os"
	"strconv"
	"time"
)

// RateLimitConfig parameterises one Redis token bucket.  A bucket holds
// Capacity tokens and gains RefillTokens every RefillInterval.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string
	Prefix         string
	Message        string // body message of the 429 response
	Debug          bool
}

// APIRateLimitDefaults allows 100 requests per 15 minutes per user or IP.
var APIRateLimitDefaults = RateLimitConfig{
	Enabled:        true,
	Capacity:       100,
	RefillTokens:   100,
	RefillInterval: 15 * time.Minute,
	KeyStrategy:    "ip_user",
	Prefix:         "rl:api",
	Message:        "Too many requests, please try again later",
}

// AuthRateLimitDefaults allows 5 credential attempts per 15 minutes per IP
// and route.
var AuthRateLimitDefaults = RateLimitConfig{
	Enabled:        true,
	Capacity:       5,
	RefillTokens:   5,
	RefillInterval: 15 * time.Minute,
	KeyStrategy:    "ip_route",
	Prefix:         "rl:auth",
	Message:        "Too many authentication attempts, please try again later",
}

// LoadRateLimitConfig reads <prefix>_ENABLED, <prefix>_CAPACITY and friends
// on top of def.
func LoadRateLimitConfig(prefix string, def RateLimitConfig) RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled:        envBool(prefix+"_ENABLED", def.Enabled),
		Capacity:       envInt(prefix+"_CAPACITY", def.Capacity),
		RefillTokens:   envInt(prefix+"_REFILL_TOKENS", def.RefillTokens),
		RefillInterval: envDur(prefix+"_REFILL_INTERVAL", def.RefillInterval),
		TTL:            envDur(prefix+"_TTL", def.TTL),
		KeyStrategy:    envStr(prefix+"_KEY_STRATEGY", def.KeyStrategy),
		Prefix:         envStr(prefix+"_PREFIX", def.Prefix),
		Message:        def.Message,
		Debug:          envBool(prefix+"_DEBUG", def.Debug),
	}
	if b := envInt(prefix+"_BURST", -1); b > 0 {
		cfg.Capacity = b
	}
	if every := envDur(prefix+"_REFILL_EVERY", 0); every > 0 {
		cfg.RefillTokens = 1
		cfg.RefillInterval = every
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.RefillTokens < 1 {
		cfg.RefillTokens = 1
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}
	if minTTL := 2 * cfg.RefillInterval; cfg.TTL < minTTL {
		cfg.TTL = minTTL
	}
	return cfg
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	if dur, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return dur
	}
	return d
}
