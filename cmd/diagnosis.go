package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/agnosto/toot-scraper/auth"
	"github.com/agnosto/toot-scraper/config"
	"github.com/agnosto/toot-scraper/core"
	"github.com/agnosto/toot-scraper/db"
	"github.com/agnosto/toot-scraper/db/service"
	"github.com/agnosto/toot-scraper/logger"
	"github.com/agnosto/toot-scraper/posts"
	"github.com/agnosto/toot-scraper/ui"
)

const redacted = "[REDACTED]"

var userPathPattern = regexp.MustCompile(`(?i)(C:\\Users\\[^\\]+|/home/[^/]+|/Users/[^/]+)`)

type DiagnosisSuite struct {
	flags      DiagnosisFlags
	cfg        *config.Config
	cfgErr     error
	configPath string
	report     *strings.Builder
	out        io.Writer
	httpClient *http.Client
	me         *auth.Account
	accounts   []core.Account
	dbStatus   db.SchemaStatus
	now        func() time.Time
}

// NewDiagnosisSuite checks the setup described by cfg. cfgErr is the error
// loading it failed with, if any; a broken config is reported, not fatal.
func NewDiagnosisSuite(flags DiagnosisFlags, configPath string, cfg *config.Config, cfgErr error) *DiagnosisSuite {
	ds := &DiagnosisSuite{
		flags:      flags,
		cfg:        cfg,
		cfgErr:     cfgErr,
		configPath: configPath,
		report:     &strings.Builder{},
		out:        os.Stdout,
		now:        time.Now,
	}
	if cfg != nil {
		ds.httpClient = auth.NewHTTPClient(context.Background(), cfg)
	}
	return ds
}

// Run executes every check and saves the report. It returns false when a
// check failed.
func (ds *DiagnosisSuite) Run(ctx context.Context) bool {
	ds.log(ui.Title("Starting diagnosis suite..."))
	ds.log(fmt.Sprintf("Verbosity Level: %d", ds.flags.Level))
	ds.log("----------------------------------")

	ok := ds.testConfig()
	if ok {
		ok = ds.testDatabase() && ok
		if ds.testAuthentication(ctx) {
			ok = ds.testAccounts(ctx) && ok
			if ds.flags.Account != "" {
				ok = ds.testAccount(ctx) && ok
			}
		} else {
			ok = false
		}
	}

	ds.log("----------------------------------")
	ds.log("Diagnosis suite finished.")

	ds.saveReport()
	return ok
}

func (ds *DiagnosisSuite) log(message string) {
	fmt.Fprintln(ds.out, message)
	ds.report.WriteString(message + "\n")
}

func (ds *DiagnosisSuite) check(ok bool, name, detail string) bool {
	ds.log(" - " + ui.Check(ok, name, detail))
	return ok
}

func (ds *DiagnosisSuite) sanitizePath(path string) string {
	return userPathPattern.ReplaceAllString(path, "[REDACTED_USER_PATH]")
}

func (ds *DiagnosisSuite) testConfig() bool {
	ds.log("\n[1] Testing Configuration")
	ds.log(fmt.Sprintf(" - Config path: %s", ds.sanitizePath(ds.configPath)))
	if ds.cfg == nil {
		detail := "run the app once without flags to generate one"
		if ds.cfgErr != nil {
			detail = ds.cfgErr.Error()
		}
		return ds.check(false, "Config could not be loaded", detail)
	}
	ds.check(true, "Config loaded", "")

	redactedCfg := *ds.cfg
	redactedCfg.Account.ClientSecret = redacted
	redactedCfg.Account.AccessToken = redacted
	redactedCfg.Options.SaveLocation = ds.sanitizePath(redactedCfg.Options.SaveLocation)
	redactedCfg.Notifications.DiscordWebhook = redacted
	redactedCfg.Notifications.TelegramBotToken = redacted
	redactedCfg.Notifications.TelegramChatID = redacted

	if ds.flags.Level > 1 {
		ds.log(fmt.Sprintf(" - Loaded config (redacted): %+v", redactedCfg))
	}

	return ds.check(ds.cfg.HasCredentials(), "App registered and logged in", "")
}

func (ds *DiagnosisSuite) testDatabase() bool {
	ds.log("\n[2] Testing Database")
	path := ds.cfg.DatabasePath()
	ds.log(fmt.Sprintf(" - Database path: %s", ds.sanitizePath(path)))

	status, err := db.Inspect(path)
	if err != nil {
		return ds.check(false, "Database could not be read", err.Error())
	}
	if !status.Exists {
		ds.log(" - INFO: No database yet, it is created on the first run.")
		return true
	}
	ds.dbStatus = status

	latest := db.LatestSchemaVersion()
	if status.Pending() {
		ds.check(false, "Schema up to date", fmt.Sprintf("migration pending (v%d → v%d)", status.Version, latest))
		if status.Legacy {
			ds.log(" - INFO: The toots table predates sortid and is converted on the next run.")
		}
	} else {
		ds.check(true, "Schema up to date", fmt.Sprintf("version %d", status.Version))
	}

	return ds.check(true, "Database readable", fmt.Sprintf("%s toots, %s", humanize.Comma(status.Toots), humanize.Bytes(uint64(status.Size))))
}

func (ds *DiagnosisSuite) testAuthentication(ctx context.Context) bool {
	ds.log("\n[3] Testing Authentication")
	if !ds.cfg.HasCredentials() {
		ds.log(" - SKIP: No access token in config.")
		return false
	}

	me, err := auth.VerifyCredentials(ctx, ds.httpClient, ds.cfg.Account.Site)
	if errors.Is(err, auth.ErrUnauthorized) {
		return ds.check(false, "Access token rejected", "delete the credentials in config.toml and run again")
	}
	if err != nil {
		return ds.check(false, "Could not reach instance", err.Error())
	}
	ds.me = me
	return ds.check(true, "Logged in", "@"+me.Acct)
}

func (ds *DiagnosisSuite) testAccounts(ctx context.Context) bool {
	ds.log("\n[4] Testing Account List")
	if len(ds.cfg.Accounts) > 0 {
		for _, acc := range ds.cfg.Accounts {
			ds.accounts = append(ds.accounts, core.Account{ID: acc.ID, Acct: acc.Acct})
		}
		ds.check(true, "Accounts pinned in config", fmt.Sprintf("%d accounts", len(ds.accounts)))
	} else {
		following, err := auth.GetFollowing(ctx, ds.httpClient, ds.cfg.Account.Site, ds.me.ID, ds.cfg.RequestInterval())
		if err != nil {
			return ds.check(false, "Could not get following list", err.Error())
		}
		for _, f := range following {
			ds.accounts = append(ds.accounts, core.Account{ID: f.ID, Acct: f.Acct})
		}
		ds.check(true, "Following list fetched", fmt.Sprintf("%d accounts", len(ds.accounts)))
	}

	blacklisted := 0
	for _, acc := range ds.accounts {
		if core.IsBlacklisted(core.InstanceOf(acc.Acct, ds.cfg.SiteHost()), ds.cfg.Options.InstanceBlacklist) {
			blacklisted++
		}
	}
	if blacklisted > 0 {
		ds.log(fmt.Sprintf(" - INFO: %d accounts are on blacklisted instances and will be skipped.", blacklisted))
	}

	if ds.flags.Level > 2 {
		for _, acc := range ds.accounts {
			ds.log(fmt.Sprintf("   - %s", acc.Acct))
		}
	}
	return true
}

func (ds *DiagnosisSuite) testAccount(ctx context.Context) bool {
	ds.log(fmt.Sprintf("\n[5] Testing Account: %s", ds.flags.Account))
	matches := core.FilterAccounts(ds.accounts, ds.flags.Account)
	if len(matches) == 0 {
		return ds.check(false, "Account not in the account list", ds.flags.Account)
	}
	account := matches[0]

	floor, err := ds.resumePoint(account)
	if err != nil {
		return ds.check(false, "Resume point unreadable", err.Error())
	}

	client := posts.NewClient(ds.httpClient, ds.cfg.Account.Site, ds.cfg.Options.PageSize, 0)
	page, err := client.FetchPage(ctx, account.ID, floor)
	if err != nil {
		switch {
		case posts.IsRateLimited(err):
			ds.log(" - " + ui.RateLimited("Rate limited, this is normal: try again later"))
			return true
		case posts.IsTimeout(err):
			return ds.check(false, "First page timed out", "raise page_timeout_seconds if this persists")
		case posts.IsExhausted(err):
			return ds.check(false, "Account timeline not found", "the account may have moved or been deleted")
		}
		return ds.check(false, "First page failed", err.Error())
	}
	return ds.check(true, "First page fetched", fmt.Sprintf("%d new toots", len(page)))
}

// resumePoint reads the floor a run would start account from. Databases
// that are missing or awaiting migration start from the beginning.
func (ds *DiagnosisSuite) resumePoint(account core.Account) (string, error) {
	if !ds.dbStatus.Exists || ds.dbStatus.Pending() {
		ds.log(" - INFO: No usable resume point, a run starts from the beginning")
		return "0", nil
	}

	database, err := db.OpenReadOnly(ds.cfg.DatabasePath())
	if err != nil {
		return "", err
	}
	store := service.NewPostStore(database)
	defer store.Close()

	floor, ok, err := store.LastSeenID(account.ID)
	if err != nil {
		return "", err
	}
	if !ok {
		floor = "0"
	}
	stored, err := store.CountByAccount(account.ID)
	if err != nil {
		return "", err
	}
	ds.log(fmt.Sprintf(" - INFO: %s toots stored, resuming after %s", humanize.Comma(stored), floor))
	return floor, nil
}

func (ds *DiagnosisSuite) saveReport() {
	outputFile := ds.flags.OutputFile
	if outputFile == "" {
		dir := "."
		if ds.cfg != nil {
			dir = logger.LogDir(ds.cfg)
		}
		outputFile = filepath.Join(dir, fmt.Sprintf("diagnosis-report-%s.txt", ds.now().Format("2006-01-02_15-04-05")))
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		fmt.Fprintf(ds.out, "\nCould not save report to %s: %v\n", outputFile, err)
		return
	}
	if err := os.WriteFile(outputFile, []byte(ds.report.String()), 0644); err != nil {
		fmt.Fprintf(ds.out, "\nCould not save report to %s: %v\n", outputFile, err)
		return
	}
	fmt.Fprintf(ds.out, "\nDiagnosis report saved to %s\n", outputFile)
}
