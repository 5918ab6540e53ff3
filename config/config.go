package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/agnosto/toot-scraper/utils"
)

const (
	DefaultSite     = "https://iscurrently.live"
	DefaultDatabase = "toots.db"

	// Mastodon caps statuses pages at 40.
	MaxPageSize = 40
)

// Environment overrides, read after .env is loaded.
const (
	EnvSite        = "TOOT_SCRAPER_SITE"
	EnvAccessToken = "TOOT_SCRAPER_ACCESS_TOKEN"
)

type Config struct {
	Account       AccountConfig       `toml:"account"`
	Options       OptionsConfig       `toml:"options"`
	Notifications NotificationsConfig `toml:"notifications"`
	Accounts      []FollowedAccount   `toml:"accounts"`
}

type AccountConfig struct {
	Site         string `toml:"site"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	AccessToken  string `toml:"access_token"`
}

type OptionsConfig struct {
	SaveLocation          string   `toml:"save_location"`
	DatabaseName          string   `toml:"database_name"`
	Lang                  string   `toml:"lang"`
	InstanceBlacklist     []string `toml:"instance_blacklist"`
	PageSize              int      `toml:"page_size"`
	PageTimeoutSeconds    int      `toml:"page_timeout_seconds"`
	RequestIntervalMs     int      `toml:"request_interval_ms"`
	CompactAfterRun       bool     `toml:"compact_after_run"`
	AbortOnFirstPageError bool     `toml:"abort_on_first_page_error"`
	MetricsTextfile       string   `toml:"metrics_textfile"`
}

type NotificationsConfig struct {
	Enabled           bool   `toml:"enabled"`
	SystemNotify      bool   `toml:"system_notify"`
	NotifyOnRateLimit bool   `toml:"notify_on_rate_limit"`
	DiscordWebhook    string `toml:"discord_webhook"`
	TelegramBotToken  string `toml:"telegram_bot_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
}

// FollowedAccount pins an account to download instead of asking the
// instance for the bot's following list.
type FollowedAccount struct {
	ID   string `toml:"id"`
	Acct string `toml:"acct"`
}

func GetConfigPath() string {
	currentDirConfig := "config.toml"
	if _, err := os.Stat(currentDirConfig); err == nil {
		return currentDirConfig
	}
	return filepath.Join(GetConfigDir(), "config.toml")
}

func GetConfigDir() string {
	var configDir string
	var err error

	if runtime.GOOS == "darwin" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatal(err)
		}
		configDir = filepath.Join(homeDir, ".config")
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			log.Fatal(err)
		}
	}

	return filepath.Join(configDir, "toot-scraper")
}

func CreateDefaultConfig() *Config {
	return &Config{
		Account: AccountConfig{
			Site: DefaultSite,
		},
		Options: OptionsConfig{
			SaveLocation:       ".",
			DatabaseName:       DefaultDatabase,
			Lang:               "",
			InstanceBlacklist:  []string{"bofa.lol", "witches.town", "knzk.me"},
			PageSize:           20,
			PageTimeoutSeconds: 15,
			RequestIntervalMs:  1000,
			CompactAfterRun:    true,
		},
		Notifications: NotificationsConfig{
			Enabled:           false,
			SystemNotify:      true,
			NotifyOnRateLimit: true,
		},
	}
}

// LoadConfig decodes the file on top of the defaults, so keys missing from
// an older file keep their default value.
func LoadConfig(configPath string) (*Config, error) {
	cfg := CreateDefaultConfig()
	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", configPath, err)
	}

	applyEnvOverrides(cfg)

	if err := ValidateConfig(cfg, configPath); err != nil {
		return nil, err
	}

	cfg.Account.Site = strings.TrimRight(cfg.Account.Site, "/")
	cfg.Options.SaveLocation = filepath.ToSlash(cfg.Options.SaveLocation)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// A missing .env is the common case.
	_ = godotenv.Load()

	if v := os.Getenv(EnvSite); v != "" {
		cfg.Account.Site = v
	}
	if v := os.Getenv(EnvAccessToken); v != "" {
		cfg.Account.AccessToken = v
	}
}

func ValidateConfig(cfg *Config, configPath string) error {
	site := cfg.Account.Site
	if !strings.HasPrefix(site, "https://") && !strings.HasPrefix(site, "http://") {
		return fmt.Errorf("site must begin with 'https://' or 'http://'. Value '%s' is invalid - try 'https://%s' instead", site, site)
	}
	if _, err := url.Parse(site); err != nil {
		return fmt.Errorf("site %q in %v is not a valid URL: %w", site, configPath, err)
	}
	if cfg.Options.SaveLocation == "" {
		return fmt.Errorf("save_location is empty in %v", configPath)
	}
	if cfg.Options.DatabaseName == "" {
		return fmt.Errorf("database_name is empty in %v", configPath)
	}
	if cfg.Options.PageSize < 1 || cfg.Options.PageSize > MaxPageSize {
		return fmt.Errorf("page_size must be between 1 and %d in %v, got %d", MaxPageSize, configPath, cfg.Options.PageSize)
	}
	if cfg.Options.PageTimeoutSeconds <= 0 {
		return fmt.Errorf("page_timeout_seconds must be positive in %v", configPath)
	}
	if cfg.Options.RequestIntervalMs < 0 {
		return fmt.Errorf("request_interval_ms cannot be negative in %v", configPath)
	}
	for i, acc := range cfg.Accounts {
		if acc.ID == "" || acc.Acct == "" {
			return fmt.Errorf("accounts[%d] in %v needs both id and acct", i, configPath)
		}
	}
	return nil
}

// HasCredentials reports whether the app is registered and logged in.
func (c *Config) HasCredentials() bool {
	return c.Account.ClientID != "" && c.Account.ClientSecret != "" && c.Account.AccessToken != ""
}

// SiteHost is the instance name of the bot's own site, used for local handles.
func (c *Config) SiteHost() string {
	return utils.HostOf(c.Account.Site)
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.Options.SaveLocation, c.Options.DatabaseName)
}

func (c *Config) PageTimeout() time.Duration {
	return time.Duration(c.Options.PageTimeoutSeconds) * time.Second
}

func (c *Config) RequestInterval() time.Duration {
	return time.Duration(c.Options.RequestIntervalMs) * time.Millisecond
}

func SaveConfig(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), os.ModePerm); err != nil {
		return err
	}

	file, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := toml.NewEncoder(file)
	return encoder.Encode(cfg)
}
