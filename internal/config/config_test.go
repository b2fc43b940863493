package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Logging.Level != "info" {
		t.Fatalf("logging.level = %q", cfg.Logging.Level)
	}
	if cfg.Campaign.MaxWorkers != 1 {
		t.Fatalf("campaign.maxWorkers = %d", cfg.Campaign.MaxWorkers)
	}
	if cfg.Campaign.MaxRetries != 3 {
		t.Fatalf("campaign.maxRetries = %d", cfg.Campaign.MaxRetries)
	}
	if got := cfg.Campaign.IgnoredTaskIDs; len(got) != 1 || got[0] != 6 {
		t.Fatalf("campaign.ignoredTaskIds = %v", got)
	}
	if cfg.Twitter.MinFollowers != 10 {
		t.Fatalf("twitter.minFollowers = %d", cfg.Twitter.MinFollowers)
	}
	if cfg.Discord.GuildID == 0 || cfg.Discord.VerifyReaction == "" {
		t.Fatal("discord defaults missing")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
platform:
  baseURL: http://127.0.0.1:9090
  globalQPS: 2
campaign:
  maxWorkers: 4
  accountDelaySec: [3, 1]
  ignoredTaskIds: []
twitter:
  minFollowers: 25
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Platform.BaseURL != "http://127.0.0.1:9090" {
		t.Fatalf("baseURL = %q", cfg.Platform.BaseURL)
	}
	if cfg.Campaign.MaxWorkers != 4 {
		t.Fatalf("maxWorkers = %d", cfg.Campaign.MaxWorkers)
	}
	// An inverted delay range collapses to [min, min].
	if cfg.Campaign.AccountDelaySec != [2]int{3, 3} {
		t.Fatalf("accountDelaySec = %v", cfg.Campaign.AccountDelaySec)
	}
	// Explicit empty list stays empty, only nil gets the default.
	if len(cfg.Campaign.IgnoredTaskIDs) != 0 {
		t.Fatalf("ignoredTaskIds = %v", cfg.Campaign.IgnoredTaskIDs)
	}
	if cfg.Twitter.MinFollowers != 25 {
		t.Fatalf("minFollowers = %d", cfg.Twitter.MinFollowers)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Campaign.AccountDelaySec = [2]int{-1, 5}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for negative delay")
	}

	cfg = Default()
	cfg.Notify.Enabled = true
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for notify without smtp settings")
	}
}
