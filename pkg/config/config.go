package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DDL policies applied to the schema at startup, mirroring the classic
// ddl-auto knob: create, create-drop, update, validate, none.
var validDDLPolicies = map[string]bool{
	"create":      true,
	"create-drop": true,
	"update":      true,
	"validate":    true,
	"none":        true,
}

// Ledger holds configuration for the ledger service (ledgerd).
type Ledger struct {
	Port string
	Env  string

	// Database configuration
	DatabaseURL string
	DBUser      string
	DBPassword  string
	DDLPolicy   string

	// Bounded internal retry for transient storage failures
	TxMaxAttempts int
}

// Transfer holds configuration for the transfer service (transferd).
type Transfer struct {
	Port string
	Env  string

	// Database configuration
	DatabaseURL string
	DBUser      string
	DBPassword  string
	DDLPolicy   string

	// Downstream ledger service
	LedgerBaseURL string

	// Optional Redis cache for terminal transfer records
	RedisURL      string
	RedisPassword string

	// CORS
	AllowedOrigins []string

	// Worker pool and batch fan-out
	Workers    int
	QueueSize  int
	BatchLimit int

	// Resilient ledger client: retry
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration

	// Resilient ledger client: circuit breaker
	BreakerFailureRate  float64
	BreakerWindow       time.Duration
	BreakerMinRequests  int
	BreakerOpenDuration time.Duration
	BreakerProbes       int

	// Recovery sweep for orphaned PENDING records
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

// LoadLedger loads ledgerd configuration from environment variables
func LoadLedger() (*Ledger, error) {
	cfg := &Ledger{
		Port:          getEnv("PORT", "8081"),
		Env:           getEnv("ENV", "development"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		DBUser:        getEnv("DB_USER", ""),
		DBPassword:    getEnv("DB_PASSWORD", ""),
		DDLPolicy:     getEnv("DDL_POLICY", "update"),
		TxMaxAttempts: getEnvAsInt("TX_MAX_ATTEMPTS", 3),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required ledgerd configuration is present
func (c *Ledger) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if !validDDLPolicies[c.DDLPolicy] {
		return fmt.Errorf("DDL_POLICY must be one of create, create-drop, update, validate, none; got %q", c.DDLPolicy)
	}
	if c.TxMaxAttempts < 1 {
		return fmt.Errorf("TX_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// LoadTransfer loads transferd configuration from environment variables
func LoadTransfer() (*Transfer, error) {
	cfg := &Transfer{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		DBUser:        getEnv("DB_USER", ""),
		DBPassword:    getEnv("DB_PASSWORD", ""),
		DDLPolicy:     getEnv("DDL_POLICY", "update"),
		LedgerBaseURL: getEnv("LEDGER_BASE_URL", "http://localhost:8081"),
		RedisURL:      getEnv("REDIS_URL", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"*"}),

		Workers:    getEnvAsInt("WORKER_POOL_SIZE", 10),
		QueueSize:  getEnvAsInt("WORKER_QUEUE_SIZE", 256),
		BatchLimit: getEnvAsInt("BATCH_LIMIT", 20),

		RetryMaxAttempts:    getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialBackoff: getEnvAsDuration("RETRY_INITIAL_BACKOFF", 100*time.Millisecond),
		RetryMaxBackoff:     getEnvAsDuration("RETRY_MAX_BACKOFF", 2*time.Second),

		BreakerFailureRate:  getEnvAsFloat("BREAKER_FAILURE_RATE", 0.5),
		BreakerWindow:       getEnvAsDuration("BREAKER_WINDOW", 10*time.Second),
		BreakerMinRequests:  getEnvAsInt("BREAKER_MIN_REQUESTS", 5),
		BreakerOpenDuration: getEnvAsDuration("BREAKER_OPEN_DURATION", 15*time.Second),
		BreakerProbes:       getEnvAsInt("BREAKER_PROBES", 1),

		StaleAfter:    getEnvAsDuration("RECOVERY_STALE_AFTER", 5*time.Minute),
		SweepInterval: getEnvAsDuration("RECOVERY_SWEEP_INTERVAL", time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required transferd configuration is present
func (c *Transfer) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if !validDDLPolicies[c.DDLPolicy] {
		return fmt.Errorf("DDL_POLICY must be one of create, create-drop, update, validate, none; got %q", c.DDLPolicy)
	}
	if c.LedgerBaseURL == "" {
		return fmt.Errorf("LEDGER_BASE_URL is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKER_POOL_SIZE must be at least 1")
	}
	if c.BatchLimit < 1 {
		return fmt.Errorf("BATCH_LIMIT must be at least 1")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.BreakerFailureRate <= 0 || c.BreakerFailureRate > 1 {
		return fmt.Errorf("BREAKER_FAILURE_RATE must be in (0, 1]")
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Transfer) IsProduction() bool {
	return c.Env == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsSlice gets a comma-separated environment variable as a slice
func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
