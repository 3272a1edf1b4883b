// Package config loads service configuration: a YAML file with sane
// defaults, then environment overrides. Secrets never live here; they are
// referenced by name and resolved through the secret store.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Server   Server   `yaml:"server"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Chain    Chain    `yaml:"chain"`
	Auth     Auth     `yaml:"auth"`
	Content  Content  `yaml:"content"`
	Sessions Sessions `yaml:"sessions"`
	Workflow Workflow `yaml:"workflow"`
	Seasons  Seasons  `yaml:"seasons"`
	Jobs     Jobs     `yaml:"jobs"`
	Secrets  Secrets  `yaml:"secrets"`
}

type Server struct {
	Addr            string        `yaml:"addr" env:"SERVER_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

type Postgres struct {
	DSN              string        `yaml:"dsn" env:"POSTGRES_DSN"`
	MaxOpenConns     int           `yaml:"max_open_conns" env:"POSTGRES_MAX_OPEN_CONNS"`
	MaxIdleConns     int           `yaml:"max_idle_conns" env:"POSTGRES_MAX_IDLE_CONNS"`
	ConnMaxLifetime  time.Duration `yaml:"conn_max_lifetime" env:"POSTGRES_CONN_MAX_LIFETIME"`
	StatementTimeout time.Duration `yaml:"statement_timeout" env:"POSTGRES_STATEMENT_TIMEOUT"`
}

type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	PoolSize int    `yaml:"pool_size" env:"REDIS_POOL_SIZE"`
}

type Chain struct {
	RPCURL        string        `yaml:"rpc_url" env:"CHAIN_RPC_URL"`
	Timeout       time.Duration `yaml:"timeout" env:"CHAIN_TIMEOUT"`
	PolicyID      string        `yaml:"policy_id" env:"CHAIN_POLICY_ID"`
	SigningKeyRef string        `yaml:"signing_key_ref" env:"CHAIN_SIGNING_KEY_REF"`
}

type Auth struct {
	// TokenSecretName is the secret-store entry holding the HMAC key used
	// to verify bearer tokens.
	TokenSecretName string `yaml:"token_secret_name" env:"AUTH_TOKEN_SECRET_NAME"`
}

type Content struct {
	BlobDir   string `yaml:"blob_dir" env:"CONTENT_BLOB_DIR"`
	PinURL    string `yaml:"pin_url" env:"CONTENT_PIN_URL"`
	PinAPIKey string `yaml:"pin_api_key" env:"CONTENT_PIN_API_KEY"`
}

// Sessions tunes the session engine. Zero values fall back to the engine's
// own defaults.
type Sessions struct {
	DailyLimitConnected int           `yaml:"daily_limit_connected" env:"SESSIONS_DAILY_LIMIT_CONNECTED"`
	DailyLimitGuest     int           `yaml:"daily_limit_guest" env:"SESSIONS_DAILY_LIMIT_GUEST"`
	Cooldown            time.Duration `yaml:"cooldown" env:"SESSIONS_COOLDOWN"`
	LockTTL             time.Duration `yaml:"lock_ttl" env:"SESSIONS_LOCK_TTL"`
	HotStateTTL         time.Duration `yaml:"hot_state_ttl" env:"SESSIONS_HOT_STATE_TTL"`
}

// Workflow tunes the mint/forge engine. Zero values fall back to the
// engine's own defaults.
type Workflow struct {
	RetryInitial time.Duration `yaml:"retry_initial" env:"WORKFLOW_RETRY_INITIAL"`
	RetryMax     time.Duration `yaml:"retry_max" env:"WORKFLOW_RETRY_MAX"`
	MaxAttempts  uint64        `yaml:"max_attempts" env:"WORKFLOW_MAX_ATTEMPTS"`
	StaleAfter   time.Duration `yaml:"stale_after" env:"WORKFLOW_STALE_AFTER"`
	ScanInterval time.Duration `yaml:"scan_interval" env:"WORKFLOW_SCAN_INTERVAL"`
}

type Seasons struct {
	// Schedule is a cron expression; empty uses the quarterly default.
	Schedule string `yaml:"schedule" env:"SEASONS_SCHEDULE"`
}

type Jobs struct {
	SweeperInterval   time.Duration `yaml:"sweeper_interval" env:"JOBS_SWEEPER_INTERVAL"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval" env:"JOBS_RECONCILE_INTERVAL"`
}

type Secrets struct {
	Dir string `yaml:"dir" env:"SECRETS_DIR"`
}

// Default returns the configuration used when neither file nor environment
// says otherwise.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: Postgres{
			DSN:              "postgres://localhost:5432/trivianft?sslmode=disable",
			MaxOpenConns:     20,
			MaxIdleConns:     10,
			ConnMaxLifetime:  30 * time.Minute,
			StatementTimeout: 5 * time.Second,
		},
		Redis: Redis{
			Addr:     "localhost:6379",
			PoolSize: 20,
		},
		Chain: Chain{
			RPCURL:        "http://localhost:9090/rpc",
			Timeout:       15 * time.Second,
			SigningKeyRef: "keys/policy-mint",
		},
		Auth: Auth{
			TokenSecretName: "auth/token-hmac",
		},
		Content: Content{
			BlobDir: "./blobs",
		},
		Jobs: Jobs{
			SweeperInterval:   time.Minute,
			ReconcileInterval: 30 * time.Second,
		},
		Secrets: Secrets{
			Dir: "./secrets",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults + environment only
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return Config{}, fmt.Errorf("apply environment overrides: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Chain.PolicyID == "" {
		return fmt.Errorf("chain.policy_id is required")
	}
	return nil
}
