package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix namespaces environment overrides.
const EnvPrefix = "DELTANEAR_"

// Load merges the TOML file at path (skipped when path is empty) over the
// defaults, then applies DELTANEAR_* variables, including any from a .env
// file in the working directory. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// A missing .env is normal.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Server.HTTPAddr, "SERVER_HTTP_ADDR")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")

	setDuration(&cfg.Auction.QuoteWindow, "AUCTION_QUOTE_WINDOW")
	setDuration(&cfg.Auction.ExclusivityWindow, "AUCTION_EXCLUSIVITY_WINDOW")
	setDuration(&cfg.Auction.Retention, "AUCTION_RETENTION")
	setInt(&cfg.Auction.Shards, "AUCTION_SHARDS")

	setDuration(&cfg.Registry.SweepInterval, "REGISTRY_SWEEP_INTERVAL")
	setDuration(&cfg.Registry.HeartbeatTimeout, "REGISTRY_HEARTBEAT_TIMEOUT")
	setInt(&cfg.Registry.Shards, "REGISTRY_SHARDS")

	setDuration(&cfg.Gate.ClockSkew, "GATE_CLOCK_SKEW")
	setDuration(&cfg.Gate.ValidityWindow, "GATE_VALIDITY_WINDOW")

	setStr(&cfg.Store.SQLitePath, "STORE_SQLITE_PATH")
	setStr(&cfg.Store.NoncePath, "STORE_NONCE_PATH")

	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setStr(&cfg.Redis.Channel, "REDIS_CHANNEL")

	setStr(&cfg.Catalog.Path, "CATALOG_PATH")

	setStr(&cfg.Log.Level, "LOG_LEVEL")
	setStr(&cfg.Log.Format, "LOG_FORMAT")

	setStr(&cfg.Signer.Mode, "SIGNER_MODE")

	setInt64(&cfg.Fees.ProtocolFeeBps, "FEES_PROTOCOL_FEE_BPS")
	setInt64(&cfg.Fees.SolverRebateBps, "FEES_SOLVER_REBATE_BPS")
	setStr(&cfg.Fees.MinFeeUSDC, "FEES_MIN_FEE_USDC")
	setInt64(&cfg.Fees.MaxFeeBps, "FEES_MAX_FEE_BPS")
	setStr(&cfg.Fees.Treasury, "FEES_TREASURY")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}
