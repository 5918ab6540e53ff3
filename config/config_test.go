package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	t.Setenv(EnvSite, "")
	t.Setenv(EnvAccessToken, "")
	path := writeFile(t, t.TempDir(), `
[account]
site = "https://example.social/"

[options]
lang = "en"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.social", cfg.Account.Site)
	assert.Equal(t, "en", cfg.Options.Lang)
	assert.Equal(t, 20, cfg.Options.PageSize)
	assert.Equal(t, DefaultDatabase, cfg.Options.DatabaseName)
	assert.Equal(t, []string{"bofa.lol", "witches.town", "knzk.me"}, cfg.Options.InstanceBlacklist)
	assert.Equal(t, "example.social", cfg.SiteHost())
}

func TestLoadConfigRejectsSiteWithoutScheme(t *testing.T) {
	t.Setenv(EnvSite, "")
	path := writeFile(t, t.TempDir(), `
[account]
site = "example.social"
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "try 'https://example.social' instead")
}

func TestValidateConfigPageSize(t *testing.T) {
	cfg := CreateDefaultConfig()
	cfg.Options.PageSize = MaxPageSize + 1
	require.Error(t, ValidateConfig(cfg, "config.toml"))

	cfg.Options.PageSize = MaxPageSize
	require.NoError(t, ValidateConfig(cfg, "config.toml"))
}

func TestValidateConfigAccounts(t *testing.T) {
	cfg := CreateDefaultConfig()
	cfg.Accounts = []FollowedAccount{{ID: "1"}}
	require.Error(t, ValidateConfig(cfg, "config.toml"))
}

func TestEnvOverridesAccessToken(t *testing.T) {
	t.Setenv(EnvSite, "")
	t.Setenv(EnvAccessToken, "from-env")
	path := writeFile(t, t.TempDir(), `
[account]
access_token = "from-file"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Account.AccessToken)
}

func TestEnsureConfigExistsWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	require.NoError(t, EnsureConfigExists(path))

	var raw map[string]any
	_, err := toml.DecodeFile(path, &raw)
	require.NoError(t, err)
	assert.Contains(t, raw, "options")
}

func TestEnsureConfigUpdatedAddsMissingKeys(t *testing.T) {
	path := writeFile(t, t.TempDir(), `
[account]
site = "https://example.social"
access_token = "keep-me"
`)

	require.NoError(t, EnsureConfigUpdated(path))

	cfg := CreateDefaultConfig()
	md, err := toml.DecodeFile(path, cfg)
	require.NoError(t, err)
	assert.Empty(t, MissingKeys(md))
	assert.Equal(t, "keep-me", cfg.Account.AccessToken)
	assert.Equal(t, "https://example.social", cfg.Account.Site)
}
