package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MaxKeyVersion bounds the IAM_JWK_EIP712_V<n> scan.
const MaxKeyVersion = 64

// Config is the full service configuration, assembled from the environment.
type Config struct {
	Server       Server
	Keys         Keys
	Scorer       Scorer
	Auth         Auth
	Signer       Signer
	OPRF         OPRF
	Redis        RedisConfig
	Database     Database
	Kafka        Kafka
	Verification Verification
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string
	Environment    string
	LogLevel       string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

// EIP712Key is one IAM_JWK_EIP712_V<n> entry as found in the environment.
// Contiguity and start-time ordering are enforced by the key manager.
type EIP712Key struct {
	Version   int
	Key       string
	StartTime string
}

type Keys struct {
	Ed25519JWK    string
	EIP712        []EIP712Key
	NumConcurrent int
}

// Scorer is the scoring backend hosting the ban registry.
type Scorer struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Auth configures scorer access tokens on the verify endpoint. Without a
// secret only challenge credentials are accepted.
type Auth struct {
	JWTSecret string
	JWTIssuer string
}

// Signer is the remote signing oracle used for EIP-712 proofs.
type Signer struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

type OPRF struct {
	RelayURL    string
	ClientKey   string
	LocalSecret string
	CacheTTL    time.Duration
	Timeout     time.Duration
}

func (o OPRF) Enabled() bool {
	return o.RelayURL != ""
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Database backs the audit outbox. Without a URL audit events are dropped.
type Database struct {
	URL          string
	MaxOpenConns int
	AutoMigrate  bool
	AuditBuffer  int
}

type Kafka struct {
	Brokers          string
	AuditTopic       string
	AuditMaxAttempts int
}

type Verification struct {
	CatalogPath            string
	MaxConcurrentPlatforms int
	CredentialTTL          time.Duration
}

// FromEnv builds a Config from process environment variables.
func FromEnv() (Config, error) {
	return Load(os.Getenv)
}

// Load builds a Config from the given lookup so tests can supply a map.
func Load(getenv func(string) string) (Config, error) {
	env := reader{getenv: getenv}

	cfg := Config{
		Server: Server{
			Addr:           env.str("IAM_ADDR", ":8080"),
			Environment:    env.str("IAM_ENVIRONMENT", "development"),
			LogLevel:       env.str("IAM_LOG_LEVEL", "info"),
			RequestTimeout: env.duration("IAM_REQUEST_TIMEOUT", 60*time.Second),
			MaxBodyBytes:   int64(env.integer("IAM_MAX_BODY_BYTES", 1<<20)),
		},
		Keys: Keys{
			Ed25519JWK:    env.str("IAM_JWK", ""),
			EIP712:        eip712Keys(getenv),
			NumConcurrent: env.integer("IAM_JWK_EIP712_NUM_CONCURRENT", 1),
		},
		Scorer: Scorer{
			Endpoint: strings.TrimRight(env.str("SCORER_ENDPOINT", ""), "/"),
			APIKey:   env.str("SCORER_API_KEY", ""),
			Timeout:  env.duration("SCORER_TIMEOUT", 10*time.Second),
		},
		Auth: Auth{
			JWTSecret: env.str("SCORER_JWT_SECRET", ""),
			JWTIssuer: env.str("SCORER_JWT_ISSUER", ""),
		},
		Signer: Signer{
			URL:     strings.TrimRight(env.str("SIGNER_URL", ""), "/"),
			APIKey:  env.str("SIGNER_API_KEY", ""),
			Timeout: env.duration("SIGNER_TIMEOUT", 5*time.Second),
		},
		OPRF: OPRF{
			RelayURL:    strings.TrimRight(env.str("OPRF_RELAY_URL", ""), "/"),
			ClientKey:   env.str("OPRF_CLIENT_KEY", ""),
			LocalSecret: env.str("OPRF_LOCAL_SECRET", ""),
			CacheTTL:    env.duration("OPRF_CACHE_TTL", 24*time.Hour),
			Timeout:     env.duration("OPRF_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL:          env.str("REDIS_URL", ""),
			PoolSize:     env.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: env.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  env.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  env.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: env.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Database: Database{
			URL:          env.str("DATABASE_URL", ""),
			MaxOpenConns: env.integer("DATABASE_MAX_OPEN_CONNS", 10),
			AutoMigrate:  env.boolean("DATABASE_AUTO_MIGRATE", true),
			AuditBuffer:  env.integer("AUDIT_BUFFER_SIZE", 256),
		},
		Kafka: Kafka{
			Brokers:          env.str("KAFKA_BROKERS", ""),
			AuditTopic:       env.str("KAFKA_AUDIT_TOPIC", "iam.audit-events"),
			AuditMaxAttempts: env.integer("KAFKA_AUDIT_MAX_ATTEMPTS", 10),
		},
		Verification: Verification{
			CatalogPath:            env.str("PROVIDER_CATALOG", "providers.yaml"),
			MaxConcurrentPlatforms: env.integer("MAX_CONCURRENT_PLATFORMS", 0),
			CredentialTTL:          env.duration("CREDENTIAL_TTL", 30*24*time.Hour),
		},
	}

	if env.err != nil {
		return Config{}, env.err
	}
	return cfg, cfg.Validate()
}

// Validate reports every missing or inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Keys.Ed25519JWK == "" {
		errs = append(errs, errors.New("IAM_JWK is required"))
	}
	if c.Scorer.Endpoint == "" {
		errs = append(errs, errors.New("SCORER_ENDPOINT is required"))
	}
	if c.Scorer.APIKey == "" {
		errs = append(errs, errors.New("SCORER_API_KEY is required"))
	}
	if len(c.Keys.EIP712) > 0 && c.Signer.URL == "" {
		errs = append(errs, errors.New("SIGNER_URL is required when EIP-712 keys are configured"))
	}
	if c.Keys.NumConcurrent < 1 {
		errs = append(errs, errors.New("IAM_JWK_EIP712_NUM_CONCURRENT must be at least 1"))
	}
	if c.OPRF.Enabled() && (c.OPRF.ClientKey == "" || c.OPRF.LocalSecret == "") {
		errs = append(errs, errors.New("OPRF_CLIENT_KEY and OPRF_LOCAL_SECRET are required with OPRF_RELAY_URL"))
	}
	return errors.Join(errs...)
}

func eip712Keys(getenv func(string) string) []EIP712Key {
	var keys []EIP712Key
	for v := 1; v <= MaxKeyVersion; v++ {
		name := fmt.Sprintf("IAM_JWK_EIP712_V%d", v)
		key := getenv(name)
		if key == "" {
			continue
		}
		keys = append(keys, EIP712Key{
			Version:   v,
			Key:       key,
			StartTime: getenv(name + "_START_TIME"),
		})
	}
	return keys
}

type reader struct {
	getenv func(string) string
	err    error
}

func (r *reader) str(name, def string) string {
	if v := strings.TrimSpace(r.getenv(name)); v != "" {
		return v
	}
	return def
}

func (r *reader) integer(name string, def int) int {
	raw := strings.TrimSpace(r.getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.err = errors.Join(r.err, fmt.Errorf("%s: %w", name, err))
		return def
	}
	return n
}

func (r *reader) boolean(name string, def bool) bool {
	raw := strings.TrimSpace(r.getenv(name))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		r.err = errors.Join(r.err, fmt.Errorf("%s: %w", name, err))
		return def
	}
	return b
}

func (r *reader) duration(name string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(r.getenv(name))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.err = errors.Join(r.err, fmt.Errorf("%s: %w", name, err))
		return def
	}
	return d
}
