package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Storage  StorageConfig  `yaml:"storage"`
	Platform PlatformConfig `yaml:"platform"`
	Campaign CampaignConfig `yaml:"campaign"`
	Twitter  TwitterConfig  `yaml:"twitter"`
	Discord  DiscordConfig  `yaml:"discord"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Notify   NotifyConfig   `yaml:"notify"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlitePath"`
}

type PlatformConfig struct {
	BaseURL   string  `yaml:"baseURL"`
	TimeoutMs int     `yaml:"timeoutMs"`
	UserAgent string  `yaml:"userAgent"`
	GlobalQPS float64 `yaml:"globalQPS"`
	Burst     int     `yaml:"burst"`
}

func (c PlatformConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

type CampaignConfig struct {
	// MaxWorkers <= 1 runs accounts sequentially.
	MaxWorkers    int `yaml:"maxWorkers"`
	MaxRetries    int `yaml:"maxRetries"`
	RetryDelaySec int `yaml:"retryDelaySec"`
	// AccountDelaySec is the [min, max] range the pacing delay is drawn
	// from when an account's run interacted with the platform.
	AccountDelaySec [2]int `yaml:"accountDelaySec"`
	// IgnoredTaskIDs are remote tasks never submitted.
	IgnoredTaskIDs []int64 `yaml:"ignoredTaskIds"`
}

func (c CampaignConfig) RetryDelay() time.Duration {
	if c.RetryDelaySec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.RetryDelaySec) * time.Second
}

type TwitterConfig struct {
	MinFollowers   int    `yaml:"minFollowers"`
	CapsolverKey   string `yaml:"capsolverApiKey"`
	UnlockAttempts int    `yaml:"unlockAttempts"`
}

type DiscordConfig struct {
	GuildInviteCode string `yaml:"guildInviteCode"`
	GuildID         int64  `yaml:"guildId"`
	VerifyChannelID int64  `yaml:"verifyChannelId"`
	VerifyMessageID int64  `yaml:"verifyMessageId"`
	VerifyReaction  string `yaml:"verifyReaction"`
}

type ProxyConfig struct {
	Global string `yaml:"global"`
}

type MonitorConfig struct {
	// Addr empty disables the monitor surface entirely.
	Addr         string   `yaml:"addr"`
	AllowOrigins []string `yaml:"allowOrigins"`
}

type NotifyConfig struct {
	Enabled          bool   `yaml:"enabled"`
	SMTPHost         string `yaml:"smtpHost"`
	SMTPPort         int    `yaml:"smtpPort"`
	SMTPUser         string `yaml:"smtpUser"`
	SMTPPassword     string `yaml:"smtpPassword"`
	From             string `yaml:"from"`
	To               string `yaml:"to"`
	SummaryWindowSec int    `yaml:"summaryWindowSec"`
}

func (c NotifyConfig) SummaryWindow() time.Duration {
	if c.SummaryWindowSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.SummaryWindowSec) * time.Second
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./data/mintforest.db"
	}
	if c.Platform.BaseURL == "" {
		c.Platform.BaseURL = "https://www.mintchain.io"
	}
	if c.Platform.GlobalQPS <= 0 {
		c.Platform.GlobalQPS = 5
	}
	if c.Platform.Burst <= 0 {
		c.Platform.Burst = 10
	}
	if c.Campaign.MaxWorkers <= 0 {
		c.Campaign.MaxWorkers = 1
	}
	if c.Campaign.MaxRetries <= 0 {
		c.Campaign.MaxRetries = 3
	}
	if c.Campaign.AccountDelaySec[1] < c.Campaign.AccountDelaySec[0] {
		c.Campaign.AccountDelaySec[1] = c.Campaign.AccountDelaySec[0]
	}
	if c.Campaign.IgnoredTaskIDs == nil {
		c.Campaign.IgnoredTaskIDs = []int64{6}
	}
	if c.Twitter.MinFollowers <= 0 {
		c.Twitter.MinFollowers = 10
	}
	if c.Twitter.UnlockAttempts <= 0 {
		c.Twitter.UnlockAttempts = 5
	}
	if c.Discord.GuildInviteCode == "" {
		c.Discord.GuildInviteCode = "mint-blockchain"
	}
	if c.Discord.GuildID == 0 {
		c.Discord.GuildID = 1172040134355587092
	}
	if c.Discord.VerifyChannelID == 0 {
		c.Discord.VerifyChannelID = 1181968185206001726
	}
	if c.Discord.VerifyMessageID == 0 {
		c.Discord.VerifyMessageID = 1181968186879516744
	}
	if c.Discord.VerifyReaction == "" {
		c.Discord.VerifyReaction = "✅"
	}
	if c.Notify.SMTPPort <= 0 {
		c.Notify.SMTPPort = 465
	}
}

func (c Config) validate() error {
	if c.Platform.BaseURL == "" {
		return errors.New("platform.baseURL is required")
	}
	if c.Campaign.AccountDelaySec[0] < 0 {
		return errors.New("campaign.accountDelaySec must not be negative")
	}
	if c.Notify.Enabled {
		if c.Notify.SMTPHost == "" || c.Notify.From == "" || c.Notify.To == "" {
			return fmt.Errorf("notify requires smtpHost, from and to")
		}
	}
	return nil
}
