package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"DebtAllocator/internal/auth"
	"DebtAllocator/internal/ledger"
	"DebtAllocator/internal/model"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Amount is a decimal that accepts both quoted and bare YAML scalars.
type Amount struct {
	decimal.Decimal
}

func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	if node.Value == "" {
		a.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(node.Value, "_", ""))
	if err != nil {
		return fmt.Errorf("line %d: invalid amount %q: %w", node.Line, node.Value, err)
	}
	a.Decimal = d
	return nil
}

// NewAmount is a convenience for building configs in code.
func NewAmount(v int64) Amount { return Amount{decimal.NewFromInt(v)} }

// StrategyConfig describes one managed strategy and the APR model that
// prices it. Only the fields of its kind are read.
type StrategyConfig struct {
	ID          string `yaml:"id"`
	Kind        string `yaml:"kind"`
	MaxDebt     Amount `yaml:"max_debt"`
	InitialDebt Amount `yaml:"initial_debt"`

	// linear
	Base  Amount `yaml:"base"`
	Slope Amount `yaml:"slope"`

	// lending
	Borrowed         Amount `yaml:"borrowed"`
	OtherSupply      Amount `yaml:"other_supply"`
	BaseRate         Amount `yaml:"base_rate"`
	Slope1           Amount `yaml:"slope1"`
	Slope2           Amount `yaml:"slope2"`
	KinkBPS          uint16 `yaml:"kink_bps"`
	ReserveFactorBPS uint16 `yaml:"reserve_factor_bps"`

	// remote
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`

	ManagementFee  uint16 `yaml:"management_fee"`
	PerformanceFee uint16 `yaml:"performance_fee"`
}

// Grant assigns roles to an address.
type Grant struct {
	Address string   `yaml:"address"`
	Roles   []string `yaml:"roles"`
}

// Config holds all application configuration.
type Config struct {
	Vault struct {
		StateFile      string `yaml:"state_file"`
		MinimumIdle    Amount `yaml:"minimum_idle"`
		InitialDeposit Amount `yaml:"initial_deposit"`
		CapPolicy      string `yaml:"cap_policy"`
	} `yaml:"vault"`
	Strategies []StrategyConfig `yaml:"strategies"`
	Engine     struct {
		StrictCaps bool `yaml:"strict_caps"`
	} `yaml:"engine"`
	Schedule struct {
		RebalanceCron string `yaml:"rebalance_cron"`
		ReportCron    string `yaml:"report_cron"`
	} `yaml:"schedule"`
	Auth struct {
		JWTSecret string  `yaml:"jwt_secret"`
		Issuer    string  `yaml:"issuer"`
		Keeper    string  `yaml:"keeper"`
		Grants    []Grant `yaml:"grants"`
	} `yaml:"auth"`
	Fees struct {
		Manager              string `yaml:"manager"`
		StateFile            string `yaml:"state_file"`
		Refunds              bool   `yaml:"refunds"`
		Reserve              Amount `yaml:"reserve"`
		ManagementThreshold  uint16 `yaml:"management_threshold"`
		PerformanceThreshold uint16 `yaml:"performance_threshold"`
	} `yaml:"fees"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Registry struct {
		Dir string `yaml:"dir"`
	} `yaml:"registry"`
	Server struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Log struct {
		Level      string `yaml:"level"`
		Pretty     bool   `yaml:"pretty"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load reads .env, then the YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&cfg.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setString(&cfg.Proxy, "HTTPS_PROXY")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Auth.Keeper, "KEEPER_ADDRESS")
	setString(&cfg.Fees.Manager, "FEE_MANAGER")
	setString(&cfg.Schedule.RebalanceCron, "CRON_REBALANCE")
	setString(&cfg.Schedule.ReportCron, "CRON_REPORT")
	setString(&cfg.Database.SQLitePath, "SQLITE_PATH")
	setString(&cfg.Registry.Dir, "REGISTRY_DIR")
	setString(&cfg.Vault.StateFile, "VAULT_STATE_FILE")
	setString(&cfg.Fees.StateFile, "FEES_STATE_FILE")
	setString(&cfg.Vault.CapPolicy, "CAP_POLICY")
	setString(&cfg.Server.Addr, "LISTEN_ADDR")
	setString(&cfg.Log.Level, "LOG_LEVEL")

	if v := os.Getenv("MINIMUM_IDLE"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			cfg.Vault.MinimumIdle = Amount{d}
		}
	}
	if v := os.Getenv("STRICT_CAPS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Engine.StrictCaps = b
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Vault.StateFile == "" {
		cfg.Vault.StateFile = "data/vault_state.json"
	}
	if cfg.Fees.StateFile == "" {
		cfg.Fees.StateFile = "data/fees_state.json"
	}
	if cfg.Vault.CapPolicy == "" {
		cfg.Vault.CapPolicy = string(ledger.CapReject)
	}
	if cfg.Schedule.RebalanceCron == "" {
		cfg.Schedule.RebalanceCron = "0 0 * * * *"
	}
	if cfg.Schedule.ReportCron == "" {
		cfg.Schedule.ReportCron = "0 0 0 * * *"
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "debt-allocator"
	}
	if cfg.Fees.ManagementThreshold == 0 {
		cfg.Fees.ManagementThreshold = 1_000
	}
	if cfg.Fees.PerformanceThreshold == 0 {
		cfg.Fees.PerformanceThreshold = 1_000
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/debt_allocator.db"
	}
	if cfg.Registry.Dir == "" {
		cfg.Registry.Dir = "data/registry"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	for i := range cfg.Strategies {
		if cfg.Strategies[i].Kind == "" {
			cfg.Strategies[i].Kind = string(model.KindLinear)
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks that all required fields are set and well formed.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Auth.Keeper != "" {
		if _, err := model.ParseStrategyID(c.Auth.Keeper); err != nil {
			return fmt.Errorf("auth.keeper: %w", err)
		}
	}
	for i, g := range c.Auth.Grants {
		if _, err := model.ParseStrategyID(g.Address); err != nil {
			return fmt.Errorf("auth.grants[%d]: %w", i, err)
		}
		if _, err := auth.ParseRoles(g.Roles); err != nil {
			return fmt.Errorf("auth.grants[%d]: %w", i, err)
		}
	}
	if c.Fees.Manager != "" {
		if _, err := model.ParseStrategyID(c.Fees.Manager); err != nil {
			return fmt.Errorf("fees.manager: %w", err)
		}
	}
	if _, err := ledger.ParseCapPolicy(c.Vault.CapPolicy); err != nil {
		return fmt.Errorf("vault.cap_policy: %w", err)
	}
	if c.Vault.MinimumIdle.IsNegative() {
		return fmt.Errorf("vault.minimum_idle must not be negative")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}

	seen := make(map[model.StrategyID]bool, len(c.Strategies))
	for i, s := range c.Strategies {
		id, err := model.ParseStrategyID(s.ID)
		if err != nil {
			return fmt.Errorf("strategies[%d]: %w", i, err)
		}
		if seen[id] {
			return fmt.Errorf("strategies[%d]: duplicate id %s", i, id.Hex())
		}
		seen[id] = true
		if s.MaxDebt.IsNegative() || s.InitialDebt.IsNegative() {
			return fmt.Errorf("strategies[%d]: amounts must not be negative", i)
		}
		switch model.StrategyKind(s.Kind) {
		case model.KindLinear:
		case model.KindLending:
			if s.KinkBPS == 0 || s.KinkBPS >= 10_000 {
				return fmt.Errorf("strategies[%d]: kink_bps must be in (0, 10000)", i)
			}
			if s.ReserveFactorBPS > 10_000 {
				return fmt.Errorf("strategies[%d]: reserve_factor_bps must be <= 10000", i)
			}
		case model.KindRemote:
			if s.URL == "" {
				return fmt.Errorf("strategies[%d]: url is required for remote strategies", i)
			}
		default:
			return fmt.Errorf("strategies[%d]: unknown kind %q", i, s.Kind)
		}
	}
	return nil
}

// TelegramEnabled reports whether notifications should be sent.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}
