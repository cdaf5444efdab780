package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithLookuper(envconfig.MapLookuper(map[string]string{}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Analysis.TickSize != 0.1 {
		t.Fatalf("tick size = %v", cfg.Analysis.TickSize)
	}
	if cfg.Analysis.AbsorptionThreshold != 400 || cfg.Analysis.AbsorptionBucketDecimals != 1 {
		t.Fatalf("absorption defaults = %d/%d", cfg.Analysis.AbsorptionThreshold, cfg.Analysis.AbsorptionBucketDecimals)
	}
	if cfg.Analysis.ExecuteThreshold != 0.70 || cfg.Analysis.WaitThreshold != 0.50 {
		t.Fatalf("thresholds = %v/%v", cfg.Analysis.ExecuteThreshold, cfg.Analysis.WaitThreshold)
	}
	if cfg.Memory.MergeTolerance != 2 || cfg.Memory.RetentionDays != 10 || cfg.Memory.MaxRecords != 100 {
		t.Fatalf("memory defaults = %+v", cfg.Memory)
	}
	if cfg.TickStore.RetentionDays != 15 || cfg.TickStore.RingCapacity != 10000 {
		t.Fatalf("tick store defaults = %+v", cfg.TickStore)
	}
	if cfg.News.WindowMinutes != 10 {
		t.Fatalf("news window = %d", cfg.News.WindowMinutes)
	}
	if cfg.Exchange.StaleTimeout != 5*time.Second {
		t.Fatalf("stale timeout = %s", cfg.Exchange.StaleTimeout)
	}
	if cfg.Exchange.OANDA.StreamURL != "https://stream-fxpractice.oanda.com" {
		t.Fatalf("oanda stream url = %s", cfg.Exchange.OANDA.StreamURL)
	}
	if cfg.Exchange.Binance.Symbol != "PAXGUSDT" {
		t.Fatalf("binance symbol = %s", cfg.Exchange.Binance.Symbol)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadWithLookuper(envconfig.MapLookuper(map[string]string{
		"SERVER_PORT":                "9000",
		"ANALYSIS_TICK_SIZE":         "0.25",
		"FILTER_PRESET":              "strict",
		"EXCHANGE_BINANCE_SYMBOL":    "PAXGUSDC",
		"EXCHANGE_OANDA_ENVIRONMENT": "live",
		"SESSION_LONDON":             "07:00-12:00",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Analysis.TickSize != 0.25 || cfg.Filters.Preset != "strict" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Exchange.Binance.Symbol != "PAXGUSDC" {
		t.Fatalf("binance symbol = %s", cfg.Exchange.Binance.Symbol)
	}
	if cfg.Exchange.OANDA.StreamURL != "https://stream-fxtrade.oanda.com" {
		t.Fatalf("oanda stream url = %s", cfg.Exchange.OANDA.StreamURL)
	}
	if cfg.GetServerAddr() != "0.0.0.0:9000" {
		t.Fatalf("server addr = %s", cfg.GetServerAddr())
	}
}

func TestValidateRejectsImpossibleThresholds(t *testing.T) {
	cases := map[string]map[string]string{
		"confidence above one":   {"ANALYSIS_CONFIDENCE_THRESHOLD": "1.2"},
		"wait above execute":     {"ANALYSIS_WAIT_THRESHOLD": "0.8"},
		"zero tick size":         {"ANALYSIS_TICK_SIZE": "0"},
		"tolerance below bucket": {"ANALYSIS_ABSORPTION_BUCKET_DECIMALS": "0", "MEMORY_MERGE_TOLERANCE": "1"},
		"sweep lookback":         {"ANALYSIS_SWEEP_TOLERANCE_BARS": "2"},
		"unknown preset":         {"FILTER_PRESET": "aggressive"},
		"bad session window":     {"SESSION_ASIA": "06:00-00:00"},
		"unknown driver":         {"TICKSTORE_DRIVER": "postgres"},
		"unknown feed":           {"EXCHANGE_FEED": "fix"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadWithLookuper(envconfig.MapLookuper(env))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errors.Is(err, models.ErrConfigInvalid) {
				t.Fatalf("error %v is not CONFIG_INVALID", err)
			}
		})
	}
}

func TestParseWindow(t *testing.T) {
	start, end, err := ParseWindow("13:30-16:00")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if start != 13*time.Hour+30*time.Minute || end != 16*time.Hour {
		t.Fatalf("window = %s..%s", start, end)
	}
	if _, _, err := ParseWindow("13:30"); err == nil {
		t.Fatalf("expected error for missing end")
	}
}

func TestLoadDotEnvSystemWins(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("IMO_DOTENV_A=file\nIMO_DOTENV_B=file\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(wd)

	t.Setenv("IMO_DOTENV_A", "system")
	os.Unsetenv("IMO_DOTENV_B")
	defer os.Unsetenv("IMO_DOTENV_B")

	path, err := LoadDotEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if path != ".env" {
		t.Fatalf("loaded from %q", path)
	}
	if os.Getenv("IMO_DOTENV_A") != "system" {
		t.Fatalf("system value overwritten")
	}
	if os.Getenv("IMO_DOTENV_B") != "file" {
		t.Fatalf("file value not loaded")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Analysis.AbsorptionThreshold != 400 || cfg.Memory.MaxRecords != 100 {
		t.Fatalf("defaults = %+v", cfg.Analysis)
	}
}

func TestAddresses(t *testing.T) {
	cfg := Defaults()
	cfg.MySQL.Password = "secret"
	if got := cfg.GetMySQLDSN(); got != "imo:secret@tcp(localhost:3306)/imo?parseTime=true&multiStatements=true" {
		t.Fatalf("dsn = %s", got)
	}
	if got := cfg.GetRedisAddr(); got != "localhost:6379" {
		t.Fatalf("redis addr = %s", got)
	}
}
