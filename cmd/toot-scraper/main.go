package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/agnosto/toot-scraper/auth"
	"github.com/agnosto/toot-scraper/cmd"
	"github.com/agnosto/toot-scraper/config"
	"github.com/agnosto/toot-scraper/core"
	"github.com/agnosto/toot-scraper/db"
	"github.com/agnosto/toot-scraper/db/service"
	"github.com/agnosto/toot-scraper/download"
	"github.com/agnosto/toot-scraper/headers"
	"github.com/agnosto/toot-scraper/logger"
	"github.com/agnosto/toot-scraper/metrics"
	"github.com/agnosto/toot-scraper/notifications"
	"github.com/agnosto/toot-scraper/posts"
	"github.com/agnosto/toot-scraper/ui"
)

const version = "v1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	flags := cmd.ParseFlags(os.Args[1:])

	if flags.Version {
		fmt.Printf("toot-scraper version %s\n", version)
		return 0
	}
	headers.UserAgent = fmt.Sprintf("toot-scraper/%s (+https://github.com/agnosto/toot-scraper)", version)

	configPath := flags.ConfigPath
	if configPath == "" {
		configPath = config.GetConfigPath()
	}
	config.VerifyConfigOnStartup(configPath)
	cfg, err := config.LoadConfig(configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.RunDiagnosis {
		// A broken config is part of what diagnosis reports on.
		if cfg != nil {
			if err := logger.InitLogger(cfg); err != nil {
				fmt.Fprintln(os.Stderr, ui.Failure(err.Error()))
			}
		}
		if !cmd.NewDiagnosisSuite(flags.DiagnosisFlags, configPath, cfg, err).Run(ctx) {
			return 1
		}
		return 0
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, ui.Failure(err.Error()))
		return 1
	}

	if flags.Setup || !cfg.HasCredentials() {
		cfg, err = ui.RunConfigWizard(ctx, configPath, cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, ui.Failure(err.Error()))
			return 1
		}
	}

	if err := logger.InitLogger(cfg); err != nil {
		fmt.Fprintln(os.Stderr, ui.Failure(err.Error()))
		return 1
	}
	logger.Logger.Infof("Starting toot-scraper version %s", version)

	if flags.NoCompact {
		cfg.Options.CompactAfterRun = false
	}

	database, err := db.NewDatabase(cfg.DatabasePath())
	if err != nil {
		logger.Logger.WithError(err).Error("Failed to open database")
		fmt.Fprintln(os.Stderr, ui.Failure(err.Error()))
		return 1
	}
	store := service.NewPostStore(database)
	defer store.Close()

	httpClient := auth.NewHTTPClient(ctx, cfg)
	accounts, err := core.ResolveAccounts(ctx, cfg, httpClient)
	if errors.Is(err, auth.ErrUnauthorized) {
		fmt.Fprintln(os.Stderr, ui.Failure("The access token is invalid. Run again with --setup, or delete the credentials in "+configPath+"."))
		return 1
	}
	if err != nil {
		logger.Logger.WithError(err).Error("Failed to get accounts")
		fmt.Fprintln(os.Stderr, ui.Failure(err.Error()))
		return 1
	}

	accounts = core.FilterAccounts(accounts, flags.Account)
	if flags.Account != "" && len(accounts) == 0 {
		fmt.Fprintln(os.Stderr, ui.Failure("Account "+flags.Account+" is not followed by the bot."))
		return 1
	}

	fetcher := posts.NewClient(httpClient, cfg.Account.Site, cfg.Options.PageSize, cfg.RequestInterval())
	downloader := download.NewDownloader(store, fetcher, download.OptionsFromConfig(cfg, os.Stdout))

	fmt.Println(ui.Title(fmt.Sprintf("Downloading toots of %d accounts from %s", len(accounts), cfg.Account.Site)))
	summary, err := downloader.Run(ctx, accounts)
	writeMetrics(cfg)

	var fatal *download.FatalError
	switch {
	case errors.Is(err, context.Canceled):
		fmt.Println(ui.RateLimited("Interrupted - saving progress"))
		return 1
	case errors.As(err, &fatal):
		logger.Logger.WithError(err).Error("Run aborted")
		fmt.Fprintln(os.Stderr, ui.Failure(err.Error()))
		return 1
	case err != nil:
		logger.Logger.WithError(err).Error("Run failed")
		fmt.Fprintln(os.Stderr, ui.Failure(err.Error()))
		return 1
	}

	printSummary(summary, store, database)

	notifier := notifications.NewNotificationService(cfg)
	notifier.NotifyRateLimited(ctx, summary.RateLimited())
	notifier.NotifyRunComplete(ctx, notifications.RunReport{
		Accounts:    len(summary.Results),
		Stored:      summary.Stored(),
		Failed:      summary.Count(download.OutcomeFailed),
		RateLimited: summary.RateLimited(),
		Duration:    summary.Duration(),
	})
	return 0
}

func printSummary(summary download.RunSummary, store *service.PostStore, database *db.Database) {
	fmt.Println()
	fmt.Println(ui.Success(fmt.Sprintf("Stored %s new toots in %s.",
		humanize.Comma(int64(summary.Stored())), summary.Duration().Round(time.Second))))

	if n := summary.Count(download.OutcomeSkipped); n > 0 {
		fmt.Println(ui.Muted(fmt.Sprintf("%d accounts skipped (blacklisted instance).", n)))
	}
	if accts := summary.RateLimited(); len(accts) > 0 {
		fmt.Println(ui.RateLimited(fmt.Sprintf("%d accounts were rate limited. This is normal, run again later to continue.", len(accts))))
	}
	if n := summary.Count(download.OutcomeFailed); n > 0 {
		fmt.Println(ui.Failure(fmt.Sprintf("%d accounts failed with unexpected errors, check the log.", n)))
	}

	total, err := store.Count()
	if err != nil {
		logger.Logger.WithError(err).Warn("Failed to count toots")
		return
	}
	if size, err := database.FileSize(); err == nil {
		fmt.Println(ui.Muted(fmt.Sprintf("Archive holds %s toots, %s on disk.", humanize.Comma(total), humanize.Bytes(uint64(size)))))
	}
}

func writeMetrics(cfg *config.Config) {
	if cfg.Options.MetricsTextfile == "" {
		return
	}
	if err := metrics.WriteTextfile(cfg.Options.MetricsTextfile); err != nil {
		logger.Logger.WithError(err).Warn("Failed to write metrics")
	}
}
