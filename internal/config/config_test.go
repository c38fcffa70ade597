package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StateFile != "./data/pool_state.json" {
		t.Fatalf("state file: %s", cfg.StateFile)
	}
	if cfg.FeeBps != 0 {
		t.Fatalf("fee: %d", cfg.FeeBps)
	}
	if got := cfg.Tiers.String(); got != "14d=0.05,31d=0.12,90d=0.4,180d=0.85,365d=1.8" {
		t.Fatalf("tiers: %s", got)
	}
	if cfg.LogLevel != "info" || cfg.PoolName != "main" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("POOL_FEE_BPS", "30")
	t.Setenv("POOL_STATE_FILE", "/tmp/from-env.json")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Uint32("fee-bps", 0, "")
	flags.String("state-file", "", "")
	if err := flags.Parse([]string{"--state-file", "/tmp/from-flag.json"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.FeeBps != 30 {
		t.Fatalf("expected env fee, got %d", cfg.FeeBps)
	}
	if cfg.StateFile != "/tmp/from-flag.json" {
		t.Fatalf("expected flag state file, got %s", cfg.StateFile)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	chdir(t, t.TempDir())

	t.Setenv("POOL_FEE_BPS", "10000")
	if _, err := Load("", nil); err == nil {
		t.Fatalf("expected fee error")
	}

	t.Setenv("POOL_FEE_BPS", "0")
	t.Setenv("POOL_TIERS", "14=abc")
	if _, err := Load("", nil); err == nil {
		t.Fatalf("expected tiers error")
	}
}

func TestLoadReconcileFromFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "pool.yaml")
	body := []byte("rpc: http://localhost:8545\npool-address: \"0x00000000000000000000000000000000000000aa\"\nmax-retries: 2\nretry-backoff: 1s\ntolerance: \"0.5\"\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadReconcile(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "http://localhost:8545" {
		t.Fatalf("rpc: %s", cfg.RPCURL)
	}
	if cfg.MaxRetries != 2 || cfg.RetryBackoff != time.Second {
		t.Fatalf("retry: %d %s", cfg.MaxRetries, cfg.RetryBackoff)
	}
	if cfg.Tolerance != "0.5" {
		t.Fatalf("tolerance: %s", cfg.Tolerance)
	}

	t.Setenv("POOL_TOLERANCE", "-1")
	if _, err := LoadReconcile(path, nil); err == nil {
		t.Fatalf("expected tolerance error")
	}
}

func TestLoadServeDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadServe("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":8080" || cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected serve config: %+v", cfg)
	}
}

// chdir keeps viper from picking up a config.* file in the package directory.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
