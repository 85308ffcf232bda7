package config // package config loads application configuration from environment variables

import (
	"log"  // log is used to report configuration errors and halt execution
	"os"   // os provides access to environment variables
	"time" // token lifetimes are durations

	"github.com/rashiddalii/moodlog-server/internal/repository"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverMySQL  = "mysql"
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Only APP_PORT is required; everything else has a
// default suitable for local development.
type Config struct {
	Env  string // application environment (development/test/production)
	Port string // HTTP port to listen on

	StoreDriver string // mysql | mongo | memory
	DBUser      string // database username
	DBPass      string // database password (optional)
	DBHost      string // database host address
	DBPort      string // database port number
	DBName      string // database name
	DBMigrate   bool   // apply embedded migrations on startup

	MongoURI      string // MongoDB connection string
	MongoDatabase string // MongoDB database name

	JWTSecret        string        // signs access tokens; empty disables issuance
	JWTRefreshSecret string        // signs refresh tokens; empty disables issuance
	AccessTTL        time.Duration // access token lifetime
	RefreshTTL       time.Duration // refresh token lifetime
	BcryptCost       int           // bcrypt cost for password hashing
	MaxSessions      int           // refresh tokens kept per user

	FrontendURL    string // allowed CORS origin
	MaxRequestSize string // request body limit in echo notation, e.g. "10M"

	LogLevel  string // debug | info | warn | error
	LogFormat string // json | text

	EventsEnabled bool   // publish account.created to RabbitMQ
	RabbitMQURL   string // broker URL

	RateLimit     RateLimitConfig // general /api bucket
	AuthRateLimit RateLimitConfig // credential endpoints bucket
}

// Load reads configuration values from environment variables and returns a
// Config.  A missing APP_PORT exits the program with a fatal log message.
func Load() Config {
	return Config{
		Env:  envStr("APP_ENV", "development"),
		Port: must("APP_PORT"),

		StoreDriver: envStr("STORE_DRIVER", DriverMySQL),
		DBUser:      envStr("DB_USER", "root"),
		DBPass:      os.Getenv("DB_PASS"), // empty allowed
		DBHost:      envStr("DB_HOST", "127.0.0.1"),
		DBPort:      envStr("DB_PORT", "3306"),
		DBName:      envStr("DB_NAME", "moodlog"),
		DBMigrate:   envBool("DB_MIGRATE", true),

		MongoURI:      envStr("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase: envStr("MONGODB_DATABASE", "moodlog"),

		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTRefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),
		AccessTTL:        envDur("ACCESS_TOKEN_TTL", 7*24*time.Hour),
		RefreshTTL:       envDur("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		BcryptCost:       envInt("BCRYPT_COST", 12),
		MaxSessions:      envInt("MAX_SESSIONS", repository.DefaultMaxSessions),

		FrontendURL:    envStr("FRONTEND_URL", "http://localhost:3000"),
		MaxRequestSize: envStr("MAX_REQUEST_SIZE", "10M"),

		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogFormat: envStr("LOG_FORMAT", "json"),

		EventsEnabled: envBool("EVENTS_ENABLED", false),
		RabbitMQURL:   envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),

		RateLimit:     LoadRateLimitConfig("RATE_LIMIT", APIRateLimitDefaults),
		AuthRateLimit: LoadRateLimitConfig("AUTH_RATE_LIMIT", AuthRateLimitDefaults),
	}
}

// MissingSecrets lists the unset signing secrets.  The server still starts
// without them; token issuance then fails with TOKEN_GENERATION_ERROR.
func (c Config) MissingSecrets() []string {
	var missing []string
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.JWTRefreshSecret == "" {
		missing = append(missing, "JWT_REFRESH_SECRET")
	}
	return missing
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
