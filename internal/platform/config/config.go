package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration for the assessment service.
type Server struct {
	Addr        string
	DatabaseURL string
	StorageDir  string
	Redis       Redis
	Mail        Mail
	Reconciler  Reconciler
}

// Redis configures the optional aggregate-stats cache.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Mail configures the outbound delivery API used for email verification probes.
type Mail struct {
	APIURL    string
	APIKey    string
	FromEmail string
}

// Reconciler holds the timing knobs of the reconciliation loop. Both values
// are policy, not correctness: the file verifier tolerates early invocation
// and the poller only runs while verifications are outstanding.
type Reconciler struct {
	VerifySettleDelay time.Duration
	PollInterval      time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("COMPLIANCE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	storageDir := os.Getenv("EVIDENCE_STORAGE_DIR")
	if storageDir == "" {
		storageDir = "./evidence"
	}

	return Server{
		Addr:        addr,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StorageDir:  storageDir,
		Redis: Redis{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Mail: Mail{
			APIURL:    os.Getenv("MAIL_API_URL"),
			APIKey:    os.Getenv("MAIL_API_KEY"),
			FromEmail: os.Getenv("MAIL_FROM_EMAIL"),
		},
		Reconciler: Reconciler{
			VerifySettleDelay: envDuration("VERIFY_SETTLE_DELAY", 2*time.Second),
			PollInterval:      envDuration("VERIFICATION_POLL_INTERVAL", 10*time.Second),
		},
	}
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}
