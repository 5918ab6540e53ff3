package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// VerifyConfigOnStartup makes sure a config file exists and carries every
// key known to this version.
func VerifyConfigOnStartup(configPath string) {
	if err := EnsureConfigExists(configPath); err != nil {
		log.Printf("Error ensuring config exists: %v", err)
		return
	}
	if err := EnsureConfigUpdated(configPath); err != nil {
		log.Printf("Error updating config: %v", err)
	}
}

// EnsureConfigExists writes a default config when none is present.
func EnsureConfigExists(configPath string) error {
	if _, err := os.Stat(filepath.Dir(configPath)); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(configPath), os.ModePerm); err != nil {
			return err
		}
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := SaveConfig(CreateDefaultConfig(), configPath); err != nil {
			return fmt.Errorf("failed to create default config: %w", err)
		}
	}
	return nil
}

// upgradeKeys lists every key written by the current version. Files
// created by older releases are rewritten when any of them is missing.
var upgradeKeys = [][]string{
	{"account", "site"},
	{"account", "client_id"},
	{"account", "client_secret"},
	{"account", "access_token"},
	{"options", "save_location"},
	{"options", "database_name"},
	{"options", "lang"},
	{"options", "instance_blacklist"},
	{"options", "page_size"},
	{"options", "page_timeout_seconds"},
	{"options", "request_interval_ms"},
	{"options", "compact_after_run"},
	{"options", "abort_on_first_page_error"},
	{"options", "metrics_textfile"},
	{"notifications", "enabled"},
	{"notifications", "system_notify"},
	{"notifications", "notify_on_rate_limit"},
	{"notifications", "discord_webhook"},
	{"notifications", "telegram_bot_token"},
	{"notifications", "telegram_chat_id"},
}

// EnsureConfigUpdated adds keys introduced by newer versions, keeping every
// value already present in the file.
func EnsureConfigUpdated(configPath string) error {
	cfg := CreateDefaultConfig()
	md, err := toml.DecodeFile(configPath, cfg)
	if err != nil {
		return err
	}

	missing := MissingKeys(md)
	if len(missing) == 0 {
		return nil
	}

	log.Printf("Adding %d new settings to %s", len(missing), configPath)
	return SaveConfig(cfg, configPath)
}

// MissingKeys returns the dotted names of known keys not defined in md.
func MissingKeys(md toml.MetaData) []string {
	var missing []string
	for _, key := range upgradeKeys {
		if !md.IsDefined(key...) {
			missing = append(missing, key[0]+"."+key[1])
		}
	}
	return missing
}
