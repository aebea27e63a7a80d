// Package params defines the process configuration for the autopilot and
// driver binaries, loaded from environment variables (and an optional .env
// file) rather than a config file format.
package params

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RevertProtectionPolicy is the public-mempool-wide posture toward
// potentially reverting settlements.
type RevertProtectionPolicy string

const (
	RevertProtectionEnabled  RevertProtectionPolicy = "enabled"
	RevertProtectionDisabled RevertProtectionPolicy = "disabled"
)

// PublicMempool submits through an ordinary public transaction pool.
type PublicMempool struct {
	RevertProtection        RevertProtectionPolicy
	MaxAdditionalTip        *big.Int
	AdditionalTipPercentage float64
}

// PrivateMempool submits through a private order-flow relay (e.g. an
// MEV-protected RPC endpoint).
type PrivateMempool struct {
	URL                     string
	MaxAdditionalTip        *big.Int
	AdditionalTipPercentage float64
	UseSoftCancellations    bool
}

// MempoolConfig is a tagged union: exactly one of Public or Private is set.
type MempoolConfig struct {
	Public  *PublicMempool
	Private *PrivateMempool
}

// MayRevert reports whether this mempool accepts settlements that might
// revert on-chain.
func (m MempoolConfig) MayRevert() bool {
	return m.Public != nil && m.Public.RevertProtection == RevertProtectionDisabled
}

// AppDataConfig bounds the size of order app-data payloads.
type AppDataConfig struct {
	SizeLimit int
}

// Config is the full set of runtime knobs for one autopilot or driver
// process.
type Config struct {
	SolveDeadline                time.Duration
	SubmissionDeadlineBlocks     uint64
	AdditionalDeadlineForRewards uint64
	MaxWinners                   int
	ScoreCap                     *big.Rat
	GasPriceCap                  *big.Int
	Mempools                     []MempoolConfig
	NetworkBlockInterval         time.Duration
	AppData                      AppDataConfig
	MaxReorgBlockCount           int
}

// RevertProtection is derived, not configured directly: it is enabled iff
// at least one private mempool is configured.
func (c Config) RevertProtection() RevertProtectionPolicy {
	for _, m := range c.Mempools {
		if m.Private != nil {
			return RevertProtectionEnabled
		}
	}
	return RevertProtectionDisabled
}

// Default returns the conservative defaults used when no environment
// overrides are present.
func Default() Config {
	return Config{
		SolveDeadline:                15 * time.Second,
		SubmissionDeadlineBlocks:     24,
		AdditionalDeadlineForRewards: 6,
		MaxWinners:                   1,
		ScoreCap:                     big.NewRat(1, 1),
		GasPriceCap:                  new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e9)), // 1000 gwei
		Mempools: []MempoolConfig{
			{Public: &PublicMempool{
				RevertProtection:        RevertProtectionEnabled,
				MaxAdditionalTip:        big.NewInt(3e9),
				AdditionalTipPercentage: 0.05,
			}},
		},
		NetworkBlockInterval: 12 * time.Second,
		AppData:              AppDataConfig{SizeLimit: 8192},
		MaxReorgBlockCount:   64,
	}
}

// LoadFromEnv loads configuration from an optional .env file and then
// environment variables, falling back to Default() for anything unset.
// Priority: ENV > .env file > defaults. No TOML or YAML config file is
// parsed.
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("SOLVE_DEADLINE_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("SOLVE_DEADLINE_MS: %w", err)
		}
		cfg.SolveDeadline = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv("SUBMISSION_DEADLINE_BLOCKS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("SUBMISSION_DEADLINE_BLOCKS: %w", err)
		}
		cfg.SubmissionDeadlineBlocks = n
	}

	if v := os.Getenv("ADDITIONAL_DEADLINE_FOR_REWARDS_BLOCKS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("ADDITIONAL_DEADLINE_FOR_REWARDS_BLOCKS: %w", err)
		}
		cfg.AdditionalDeadlineForRewards = n
	}

	if v := os.Getenv("MAX_WINNERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("MAX_WINNERS: %w", err)
		}
		if n < 1 {
			return Config{}, fmt.Errorf("MAX_WINNERS must be >= 1, got %d", n)
		}
		cfg.MaxWinners = n
	}

	if v := os.Getenv("GAS_PRICE_CAP_WEI"); v != "" {
		n, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return Config{}, fmt.Errorf("GAS_PRICE_CAP_WEI: invalid integer %q", v)
		}
		cfg.GasPriceCap = n
	}

	if v := os.Getenv("NETWORK_BLOCK_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("NETWORK_BLOCK_INTERVAL_MS: %w", err)
		}
		cfg.NetworkBlockInterval = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv("APP_DATA_SIZE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("APP_DATA_SIZE_LIMIT: %w", err)
		}
		cfg.AppData.SizeLimit = n
	}

	if v := os.Getenv("MAX_REORG_BLOCK_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("MAX_REORG_BLOCK_COUNT: %w", err)
		}
		cfg.MaxReorgBlockCount = n
	}

	if v := os.Getenv("PRIVATE_MEMPOOL_URLS"); v != "" {
		cfg.Mempools = append(cfg.Mempools, privateMempoolsFromEnv(v)...)
	}

	return cfg, nil
}

// privateMempoolsFromEnv builds one PrivateMempool per comma-separated URL,
// using the additional-tip defaults; per-mempool tip overrides are not
// exposed as env vars and must be set programmatically by callers that need
// them.
func privateMempoolsFromEnv(urls string) []MempoolConfig {
	var out []MempoolConfig
	for _, raw := range strings.Split(urls, ",") {
		url := strings.TrimSpace(raw)
		if url == "" {
			continue
		}
		out = append(out, MempoolConfig{Private: &PrivateMempool{
			URL:                     url,
			MaxAdditionalTip:        big.NewInt(3e9),
			AdditionalTipPercentage: 0.05,
			UseSoftCancellations:    true,
		}})
	}
	return out
}
