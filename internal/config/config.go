// Package config holds the deltanear service configuration: built-in
// defaults, an optional TOML file, a .env file and DELTANEAR_* overrides.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bpolania/DeltaNEAR-sub000/internal/settlement"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Auction  AuctionConfig  `toml:"auction"`
	Registry RegistryConfig `toml:"registry"`
	Gate     GateConfig     `toml:"gate"`
	Store    StoreConfig    `toml:"store"`
	Redis    RedisConfig    `toml:"redis"`
	Catalog  CatalogConfig  `toml:"catalog"`
	Log      LogConfig      `toml:"log"`
	Signer   SignerConfig   `toml:"signer"`
	Fees     FeesConfig     `toml:"fees"`
}

type ServerConfig struct {
	HTTPAddr    string   `toml:"http_addr"`
	CORSOrigins []string `toml:"cors_origins"`
}

type AuctionConfig struct {
	QuoteWindow       Duration `toml:"quote_window"`
	ExclusivityWindow Duration `toml:"exclusivity_window"`
	Retention         Duration `toml:"retention"`
	Shards            int      `toml:"shards"`
}

type RegistryConfig struct {
	SweepInterval    Duration `toml:"sweep_interval"`
	HeartbeatTimeout Duration `toml:"heartbeat_timeout"`
	Shards           int      `toml:"shards"`
}

type GateConfig struct {
	ClockSkew      Duration `toml:"clock_skew"`
	ValidityWindow Duration `toml:"validity_window"`
}

// StoreConfig locates persistent state. Empty paths keep that state in memory.
type StoreConfig struct {
	SQLitePath string `toml:"sqlite_path"`
	NoncePath  string `toml:"nonce_path"`
}

type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Channel  string `toml:"channel"`
}

// CatalogConfig points at a CUE venue catalog. No path disables catalog checks.
type CatalogConfig struct {
	Path string `toml:"path"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// SignerConfig selects acceptance verification. Keys maps signer_id to a
// 0x-prefixed address and is only read in secp256k1 mode.
type SignerConfig struct {
	Mode string            `toml:"mode"`
	Keys map[string]string `toml:"keys"`
}

// FeesConfig is the protocol fee taken at settlement. A fees block in the
// catalog replaces it.
type FeesConfig struct {
	ProtocolFeeBps  int64  `toml:"protocol_fee_bps"`
	SolverRebateBps int64  `toml:"solver_rebate_bps"`
	MinFeeUSDC      string `toml:"min_fee_usdc"`
	MaxFeeBps       int64  `toml:"max_fee_bps"`
	Treasury        string `toml:"treasury"`
}

// Schedule converts f for settlement.
func (f FeesConfig) Schedule() (settlement.FeeSchedule, error) {
	min := decimal.Zero
	if f.MinFeeUSDC != "" {
		var err error
		if min, err = decimal.NewFromString(f.MinFeeUSDC); err != nil {
			return settlement.FeeSchedule{}, fmt.Errorf("min_fee_usdc %q is not a decimal", f.MinFeeUSDC)
		}
	}
	s := settlement.FeeSchedule{
		ProtocolFeeBps:  f.ProtocolFeeBps,
		SolverRebateBps: f.SolverRebateBps,
		MinFee:          min,
		MaxFeeBps:       f.MaxFeeBps,
		Treasury:        f.Treasury,
	}
	return s, s.Validate()
}

// Signer modes.
const (
	SignerOpaque    = "opaque"
	SignerSecp256k1 = "secp256k1"
)

// Duration decodes TOML strings such as "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Server: ServerConfig{HTTPAddr: ":8080", CORSOrigins: []string{"*"}},
		Auction: AuctionConfig{
			QuoteWindow:       Duration{5 * time.Second},
			ExclusivityWindow: Duration{10 * time.Second},
			Retention:         Duration{10 * time.Minute},
			Shards:            32,
		},
		Registry: RegistryConfig{
			SweepInterval:    Duration{10 * time.Second},
			HeartbeatTimeout: Duration{30 * time.Second},
			Shards:           16,
		},
		Gate: GateConfig{
			ClockSkew:      Duration{30 * time.Second},
			ValidityWindow: Duration{300 * time.Second},
		},
		Redis:  RedisConfig{Addr: "localhost:6379", Channel: "deltanear:events"},
		Log:    LogConfig{Level: "info", Format: "text"},
		Signer: SignerConfig{Mode: SignerOpaque},
		Fees:   FeesConfig{MinFeeUSDC: "0"},
	}
}

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPAddr == "" {
		errs = append(errs, "server: http_addr must not be empty")
	}
	positive := []struct {
		name string
		d    Duration
	}{
		{"auction: quote_window", c.Auction.QuoteWindow},
		{"auction: exclusivity_window", c.Auction.ExclusivityWindow},
		{"auction: retention", c.Auction.Retention},
		{"registry: sweep_interval", c.Registry.SweepInterval},
		{"registry: heartbeat_timeout", c.Registry.HeartbeatTimeout},
		{"gate: clock_skew", c.Gate.ClockSkew},
		{"gate: validity_window", c.Gate.ValidityWindow},
	}
	for _, p := range positive {
		if p.d.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive, got %s", p.name, p.d.Duration))
		}
	}
	if c.Auction.Shards <= 0 {
		errs = append(errs, "auction: shards must be positive")
	}
	if c.Registry.Shards <= 0 {
		errs = append(errs, "registry: shards must be positive")
	}
	if c.Registry.HeartbeatTimeout.Duration < c.Registry.SweepInterval.Duration {
		errs = append(errs, "registry: heartbeat_timeout must not be shorter than sweep_interval")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr is required when enabled")
		}
		if c.Redis.Channel == "" {
			errs = append(errs, "redis: channel is required when enabled")
		}
	}

	if !slices.Contains(validLogLevels, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fmt.Sprintf("log: unknown level %q (valid: %s)", c.Log.Level, strings.Join(validLogLevels, ", ")))
	}
	if !slices.Contains(validLogFormats, strings.ToLower(c.Log.Format)) {
		errs = append(errs, fmt.Sprintf("log: unknown format %q (valid: %s)", c.Log.Format, strings.Join(validLogFormats, ", ")))
	}

	switch c.Signer.Mode {
	case SignerOpaque:
	case SignerSecp256k1:
		if len(c.Signer.Keys) == 0 {
			errs = append(errs, "signer: keys are required in secp256k1 mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("signer: unknown mode %q (valid: opaque, secp256k1)", c.Signer.Mode))
	}

	if _, err := c.Fees.Schedule(); err != nil {
		errs = append(errs, "fees: "+err.Error())
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}
