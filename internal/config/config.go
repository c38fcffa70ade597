package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"poolscope/internal/fixedpoint"
	"poolscope/internal/pool"
)

// Config holds ledger settings shared by every command.
type Config struct {
	StateFile string
	PGDSN     string
	PoolName  string
	FeeBps    uint32
	Tiers     pool.TierTable
	Journal   string
	LogLevel  string
}

// ServeConfig adds the HTTP listener settings.
type ServeConfig struct {
	Config
	Listen          string
	ShutdownTimeout time.Duration
}

// ReconcileConfig adds the chain settings used to compare reserves.
type ReconcileConfig struct {
	Config
	RPCURL       string
	PoolAddress  string
	Token0       string
	Token1       string
	Tolerance    string
	MaxRetries   int
	RetryBackoff time.Duration
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return Config{}, err
	}
	return fromViper(v)
}

// LoadServe is Load plus the listener settings.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return ServeConfig{}, err
	}
	base, err := fromViper(v)
	if err != nil {
		return ServeConfig{}, err
	}
	return ServeConfig{
		Config:          base,
		Listen:          v.GetString("listen"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
	}, nil
}

// LoadReconcile is Load plus the chain settings.
func LoadReconcile(cfgFile string, flags *pflag.FlagSet) (ReconcileConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return ReconcileConfig{}, err
	}
	base, err := fromViper(v)
	if err != nil {
		return ReconcileConfig{}, err
	}
	cfg := ReconcileConfig{
		Config:       base,
		RPCURL:       v.GetString("rpc"),
		PoolAddress:  v.GetString("pool-address"),
		Token0:       v.GetString("token0"),
		Token1:       v.GetString("token1"),
		Tolerance:    v.GetString("tolerance"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
	}
	if _, err := fixedpoint.Parse(cfg.Tolerance); err != nil {
		return ReconcileConfig{}, fmt.Errorf("tolerance: %w", err)
	}
	return cfg, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("POOL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("state-file", "./data/pool_state.json")
	v.SetDefault("pool-name", "main")
	v.SetDefault("fee-bps", 0)
	v.SetDefault("tiers", "14=0.05,31=0.12,90=0.40,180=0.85,365=1.80")
	v.SetDefault("log-level", "info")
	v.SetDefault("listen", ":8080")
	v.SetDefault("shutdown-timeout", 10*time.Second)
	v.SetDefault("tolerance", "0")
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func fromViper(v *viper.Viper) (Config, error) {
	fee := v.GetInt("fee-bps")
	if fee < 0 || fee >= pool.BpsDenominator {
		return Config{}, fmt.Errorf("fee-bps must be in [0, %d), got %d", pool.BpsDenominator, fee)
	}
	tiers, err := pool.ParseTiers(v.GetString("tiers"))
	if err != nil {
		return Config{}, fmt.Errorf("tiers: %w", err)
	}

	return Config{
		StateFile: v.GetString("state-file"),
		PGDSN:     v.GetString("pg-dsn"),
		PoolName:  v.GetString("pool-name"),
		FeeBps:    uint32(fee),
		Tiers:     tiers,
		Journal:   v.GetString("journal"),
		LogLevel:  v.GetString("log-level"),
	}, nil
}
