package core

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/agnosto/toot-scraper/auth"
	"github.com/agnosto/toot-scraper/config"
	"github.com/agnosto/toot-scraper/logger"
)

// Account is a followed account whose toots get downloaded. Acct is
// name@instance for remote accounts and a bare name for local ones.
type Account struct {
	ID   string
	Acct string
}

// InstanceOf returns the lowercased instance an account lives on: whatever
// follows the last @ in acct, or siteHost for local accounts.
func InstanceOf(acct, siteHost string) string {
	if i := strings.LastIndex(acct, "@"); i >= 0 && i < len(acct)-1 {
		return strings.ToLower(acct[i+1:])
	}
	return strings.ToLower(siteHost)
}

func IsBlacklisted(instance string, blacklist []string) bool {
	for _, blocked := range blacklist {
		if strings.EqualFold(strings.TrimSpace(blocked), instance) {
			return true
		}
	}
	return false
}

// ResolveAccounts returns the accounts pinned in the config, or else every
// account the bot follows. The bot's credentials are verified either way
// so a revoked token fails before any download starts.
func ResolveAccounts(ctx context.Context, cfg *config.Config, httpClient *http.Client) ([]Account, error) {
	me, err := auth.VerifyCredentials(ctx, httpClient, cfg.Account.Site)
	if err != nil {
		return nil, err
	}
	logger.Logger.Infof("Logged in as %s", me.Acct)

	if len(cfg.Accounts) > 0 {
		accounts := make([]Account, 0, len(cfg.Accounts))
		for _, acc := range cfg.Accounts {
			accounts = append(accounts, Account{ID: acc.ID, Acct: acc.Acct})
		}
		return dedupe(accounts), nil
	}

	following, err := auth.GetFollowing(ctx, httpClient, cfg.Account.Site, me.ID, cfg.RequestInterval())
	if err != nil {
		return nil, fmt.Errorf("error getting followed accounts: %w", err)
	}

	accounts := make([]Account, 0, len(following))
	for _, f := range following {
		accounts = append(accounts, Account{ID: f.ID, Acct: f.Acct})
	}
	return dedupe(accounts), nil
}

// FilterAccounts keeps the accounts whose id or acct equals want. An empty
// want keeps everything.
func FilterAccounts(accounts []Account, want string) []Account {
	if want == "" {
		return accounts
	}
	want = strings.TrimPrefix(want, "@")

	var kept []Account
	for _, acc := range accounts {
		if acc.ID == want || strings.EqualFold(acc.Acct, want) {
			kept = append(kept, acc)
		}
	}
	return kept
}

func dedupe(accounts []Account) []Account {
	seen := make(map[string]bool, len(accounts))
	unique := accounts[:0]
	for _, acc := range accounts {
		if seen[acc.ID] {
			continue
		}
		seen[acc.ID] = true
		unique = append(unique, acc)
	}
	return unique
}
