package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration that reads "5m"-style strings from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds all application configuration
type Config struct {
	Engine      EngineConfig      `toml:"engine"`
	Matching    MatchingConfig    `toml:"matching"`
	Ledger      LedgerConfig      `toml:"ledger"`
	Marketplace MarketplaceConfig `toml:"marketplace"`
	Treasury    TreasuryConfig    `toml:"treasury"`
	Server      ServerConfig      `toml:"server"`
	Auth        AuthConfig        `toml:"auth"`
	Notify      NotifyConfig      `toml:"notify"`
	Health      HealthConfig      `toml:"health"`
	Agents      AgentsConfig      `toml:"agents"`
}

// EngineConfig controls the bidding cycle scheduler
type EngineConfig struct {
	Interval        Duration `toml:"interval"`
	MaxBidsPerCycle int      `toml:"max_bids_per_cycle"`
	MinMatchScore   int      `toml:"min_match_score"`
	SubmitDelay     Duration `toml:"submit_delay"`
	RequestTimeout  Duration `toml:"request_timeout"`
	IncludeFailed   bool     `toml:"include_failed"`
	Autostart       bool     `toml:"autostart"`
}

// MatchingConfig holds the scoring weights
type MatchingConfig struct {
	KeywordWeight int    `toml:"keyword_weight"`
	CategoryBonus int    `toml:"category_bonus"`
	MaxScore      int    `toml:"max_score"`
	DefaultRole   string `toml:"default_role"`
}

// LedgerConfig selects the bid ledger store
type LedgerConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
	Retain int    `toml:"retain"`
}

type MarketplaceConfig struct {
	BaseURL string `toml:"base_url"`
}

type TreasuryConfig struct {
	ThresholdRatio float64  `toml:"threshold_ratio"`
	BalanceURL     string   `toml:"balance_url"`
	Address        string   `toml:"address"`
	OversightTTL   Duration `toml:"oversight_ttl"`
}

type ServerConfig struct {
	Port           int      `toml:"port"`
	Host           string   `toml:"host"`
	AllowedOrigins []string `toml:"allowed_origins"`
	FeedbackSecret string   `toml:"feedback_secret"`
}

type AuthConfig struct {
	JWTSecret            string   `toml:"jwt_secret"`
	OperatorUser         string   `toml:"operator_user"`
	OperatorPasswordHash string   `toml:"operator_password_hash"`
	TokenTTL             Duration `toml:"token_ttl"`
}

type NotifyConfig struct {
	SlackWebhook string `toml:"slack_webhook"`
}

type HealthConfig struct {
	Interval     Duration `toml:"interval"`
	HeartbeatURL string   `toml:"heartbeat_url"`
}

type AgentsConfig struct {
	ProfilesPath string `toml:"profiles_path"`
}

// DefaultJWTSecret signs operator tokens when neither the config file nor
// JWT_SECRET sets one. Only suitable for local development.
const DefaultJWTSecret = "supersecretmvp"

// InsecureJWTSecret reports whether tokens are signed with the built-in secret.
func (c *Config) InsecureJWTSecret() bool {
	return c.Auth.JWTSecret == "" || c.Auth.JWTSecret == DefaultJWTSecret
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Interval:        Duration{5 * time.Minute},
			MaxBidsPerCycle: 5,
			MinMatchScore:   15,
			SubmitDelay:     Duration{500 * time.Millisecond},
			RequestTimeout:  Duration{15 * time.Second},
			IncludeFailed:   true,
			Autostart:       true,
		},
		Matching: MatchingConfig{
			KeywordWeight: 12,
			CategoryBonus: 15,
			MaxScore:      100,
			DefaultRole:   "research",
		},
		Ledger: LedgerConfig{
			Driver: "sqlite",
			DSN:    "bidengine.db",
			Retain: 500,
		},
		Marketplace: MarketplaceConfig{
			BaseURL: "http://localhost:4000/api",
		},
		Treasury: TreasuryConfig{
			ThresholdRatio: 0.05,
			OversightTTL:   Duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Auth: AuthConfig{
			JWTSecret:    DefaultJWTSecret,
			OperatorUser: "operator",
			TokenTTL:     Duration{24 * time.Hour},
		},
		Health: HealthConfig{
			Interval: Duration{30 * time.Minute},
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults,
// then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %q: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, err
		}
	}

	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("DATABASE_URL"); v != "" {
		c.Ledger.Driver = "postgres"
		c.Ledger.DSN = v
	}
	if v := getenv("LEDGER_DRIVER"); v != "" {
		c.Ledger.Driver = strings.ToLower(v)
	}
	if v := getenv("LEDGER_DSN"); v != "" {
		c.Ledger.DSN = v
	}
	if v := getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := getenv("OPERATOR_PASSWORD_HASH"); v != "" {
		c.Auth.OperatorPasswordHash = v
	}
	if v := getenv("MARKETPLACE_URL"); v != "" {
		c.Marketplace.BaseURL = v
	}
	if v := getenv("SLACK_WEBHOOK_URL"); v != "" {
		c.Notify.SlackWebhook = v
	}
	if v := getenv("FEEDBACK_SECRET"); v != "" {
		c.Server.FeedbackSecret = v
	}
	if v := getenv("TREASURY_BALANCE_URL"); v != "" {
		c.Treasury.BalanceURL = v
	}
	if v := getenv("TREASURY_ADDRESS"); v != "" {
		c.Treasury.Address = v
	}
	if v := getenv("AGENT_PROFILES"); v != "" {
		c.Agents.ProfilesPath = v
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.Interval.Duration < time.Second {
		return fmt.Errorf("engine.interval must be at least 1s, got %s", c.Engine.Interval)
	}
	if c.Engine.MaxBidsPerCycle <= 0 {
		return fmt.Errorf("engine.max_bids_per_cycle must be > 0")
	}
	if c.Engine.MinMatchScore < 0 {
		return fmt.Errorf("engine.min_match_score must be >= 0")
	}
	if c.Matching.KeywordWeight <= 0 || c.Matching.MaxScore <= 0 {
		return fmt.Errorf("matching weights must be > 0")
	}
	if c.Treasury.ThresholdRatio <= 0 || c.Treasury.ThresholdRatio > 1 {
		return fmt.Errorf("treasury.threshold_ratio must be in (0,1], got %v", c.Treasury.ThresholdRatio)
	}
	switch c.Ledger.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("ledger.driver must be sqlite or postgres, got %q", c.Ledger.Driver)
	}
	if c.Ledger.DSN == "" {
		return fmt.Errorf("ledger.dsn is required")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
