package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `json:"server"`
	Database    DatabaseConfig    `json:"database"`
	Security    SecurityConfig    `json:"security"`
	Logging     LoggingConfig     `json:"logging"`
	Ledger      LedgerConfig      `json:"ledger"`
	Escrow      EscrowConfig      `json:"escrow"`
	Marketplace MarketplaceConfig `json:"marketplace"`
	Resolver    ResolverConfig    `json:"resolver"`
	Reconciler  ReconcilerConfig  `json:"reconciler"`
}

// Duration is a time.Duration written as a string ("4s", "1m30s") in JSON
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	ReadTimeout  Duration `json:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout"`
	IdleTimeout  Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration. The mirror and the
// resolution audit log are only used when Enabled is set.
type DatabaseConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	User           string   `json:"user"`
	Password       string   `json:"password"`
	DBName         string   `json:"db_name"`
	SSLMode        string   `json:"ssl_mode"`
	MaxConnections int      `json:"max_connections"`
	MaxIdleConns   int      `json:"max_idle_conns"`
	MaxLifetime    Duration `json:"max_lifetime"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret   string   `json:"jwt_secret"`
	TokenIssuer string   `json:"token_issuer"`
	TokenTTL    Duration `json:"token_ttl"`
	// DevTokens enables POST /auth/token, which signs a token for any
	// existing account. Never enable it outside local networks.
	DevTokens bool `json:"dev_tokens"`
}

// LoggingConfig
type LoggingConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// AccountConfig is an account created when the ledger starts
type AccountConfig struct {
	Name    string `json:"name"`
	Balance string `json:"balance"`
}

// LedgerConfig describes the in-process ledger and its funded accounts
type LedgerConfig struct {
	Network         string          `json:"network"`
	RecordLag       Duration        `json:"record_lag"`
	FirstAccountNum uint64          `json:"first_account_num"`
	OperatorBalance string          `json:"operator_balance"`
	Accounts        []AccountConfig `json:"accounts"`
}

// EscrowConfig. Verifier is an account id or the name of a ledger account.
type EscrowConfig struct {
	Verifier           string `json:"verifier"`
	MinimumFee         string `json:"minimum_fee"`
	RejectionFeePolicy string `json:"rejection_fee_policy"`
}

// MarketplaceConfig. FeeRecipient is an account id or the name of a ledger
// account; empty means the operator.
type MarketplaceConfig struct {
	FeeBasisPoints  int64  `json:"fee_basis_points"`
	FeeRecipient    string `json:"fee_recipient"`
	PaymentMatch    string `json:"payment_match"`
	AllowWithdrawal bool   `json:"allow_withdrawal"`
}

// ResolverConfig bounds record resolution
type ResolverConfig struct {
	MaxAttempts int      `json:"max_attempts"`
	Delay       Duration `json:"delay"`
	Timeout     Duration `json:"timeout"`
}

// ReconcilerConfig schedules the unconfirmed submission reconciler
type ReconcilerConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
}

// Default returns the configuration used when no file or environment
// overrides are present
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  Duration{15 * time.Second},
			WriteTimeout: Duration{90 * time.Second},
			IdleTimeout:  Duration{60 * time.Second},
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "carbonscribe_settlement",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    Duration{5 * time.Minute},
		},
		Security: SecurityConfig{
			TokenIssuer: "settlement-api",
			TokenTTL:    Duration{time.Hour},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Development: true,
		},
		Ledger: LedgerConfig{
			Network:         "local",
			RecordLag:       Duration{6 * time.Second},
			FirstAccountNum: 1001,
			OperatorBalance: "10000",
			Accounts: []AccountConfig{
				{Name: "verifier", Balance: "1000"},
				{Name: "proposer", Balance: "1000"},
				{Name: "buyer", Balance: "1000"},
			},
		},
		Escrow: EscrowConfig{
			Verifier:           "verifier",
			MinimumFee:         "1",
			RejectionFeePolicy: "refund",
		},
		Marketplace: MarketplaceConfig{
			PaymentMatch:    "exact",
			AllowWithdrawal: true,
		},
		Resolver: ResolverConfig{
			MaxAttempts: 7,
			Delay:       Duration{4 * time.Second},
			Timeout:     Duration{2 * time.Minute},
		},
		Reconciler: ReconcilerConfig{
			Enabled:  true,
			Schedule: "@every 1m",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	if err := overrideWithEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func overrideWithEnv(config *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = n
		}
		return nil
	}
	boolean := func(key string, dst *bool) error {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = b
		}
		return nil
	}
	duration := func(key string, dst *Duration) error {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			dst.Duration = d
		}
		return nil
	}

	str("SERVER_HOST", &config.Server.Host)
	str("DATABASE_HOST", &config.Database.Host)
	str("DATABASE_USER", &config.Database.User)
	str("DATABASE_PASSWORD", &config.Database.Password)
	str("DATABASE_DBNAME", &config.Database.DBName)
	str("JWT_SECRET", &config.Security.JWTSecret)
	str("LOG_LEVEL", &config.Logging.Level)
	str("LEDGER_NETWORK", &config.Ledger.Network)
	str("ESCROW_VERIFIER", &config.Escrow.Verifier)
	str("ESCROW_MINIMUM_FEE", &config.Escrow.MinimumFee)
	str("ESCROW_REJECTION_FEE_POLICY", &config.Escrow.RejectionFeePolicy)
	str("MARKETPLACE_FEE_RECIPIENT", &config.Marketplace.FeeRecipient)
	str("MARKETPLACE_PAYMENT_MATCH", &config.Marketplace.PaymentMatch)
	str("RECONCILER_SCHEDULE", &config.Reconciler.Schedule)

	var fee int
	hasFee := os.Getenv("MARKETPLACE_FEE_BPS") != ""
	for _, err := range []error{
		integer("SERVER_PORT", &config.Server.Port),
		integer("DATABASE_PORT", &config.Database.Port),
		integer("RESOLVER_MAX_ATTEMPTS", &config.Resolver.MaxAttempts),
		integer("MARKETPLACE_FEE_BPS", &fee),
		boolean("DATABASE_ENABLED", &config.Database.Enabled),
		boolean("DEV_TOKENS", &config.Security.DevTokens),
		boolean("MARKETPLACE_ALLOW_WITHDRAWAL", &config.Marketplace.AllowWithdrawal),
		boolean("RECONCILER_ENABLED", &config.Reconciler.Enabled),
		duration("LEDGER_RECORD_LAG", &config.Ledger.RecordLag),
		duration("RESOLVER_DELAY", &config.Resolver.Delay),
		duration("RESOLVER_TIMEOUT", &config.Resolver.Timeout),
	} {
		if err != nil {
			return err
		}
	}
	if hasFee {
		config.Marketplace.FeeBasisPoints = int64(fee)
	}
	return nil
}

// Validate checks values that would otherwise fail later at bootstrap
func (c *Config) Validate() error {
	if c.Resolver.MaxAttempts < 1 {
		return fmt.Errorf("resolver.max_attempts must be at least 1, got %d", c.Resolver.MaxAttempts)
	}
	if c.Resolver.Delay.Duration < 0 {
		return fmt.Errorf("resolver.delay must not be negative")
	}
	switch c.Escrow.RejectionFeePolicy {
	case "", "refund", "forfeit":
	default:
		return fmt.Errorf("escrow.rejection_fee_policy must be refund or forfeit, got %q", c.Escrow.RejectionFeePolicy)
	}
	switch c.Marketplace.PaymentMatch {
	case "", "exact", "minimum":
	default:
		return fmt.Errorf("marketplace.payment_match must be exact or minimum, got %q", c.Marketplace.PaymentMatch)
	}
	if c.Marketplace.FeeBasisPoints < 0 || c.Marketplace.FeeBasisPoints > 10000 {
		return fmt.Errorf("marketplace.fee_basis_points must be within [0, 10000], got %d", c.Marketplace.FeeBasisPoints)
	}
	return nil
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
