package download

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/agnosto/toot-scraper/core"
	"github.com/agnosto/toot-scraper/logger"
	"github.com/agnosto/toot-scraper/metrics"
	"github.com/agnosto/toot-scraper/ui"
)

type RunSummary struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Results  []AccountResult
}

// Stored is the number of toots written during the run.
func (s RunSummary) Stored() int {
	total := 0
	for _, r := range s.Results {
		total += r.Stored
	}
	return total
}

func (s RunSummary) Count(outcome Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == outcome {
			n++
		}
	}
	return n
}

// RateLimited lists the accounts the run had to leave for later.
func (s RunSummary) RateLimited() []string {
	var accts []string
	for _, r := range s.Results {
		if r.Outcome == OutcomeRateLimited {
			accts = append(accts, r.Account.Acct)
		}
	}
	return accts
}

func (s RunSummary) Duration() time.Duration {
	return s.Finished.Sub(s.Started)
}

// Run syncs accounts one after another. A failing account never stops the
// run; only a *FatalError or a cancelled ctx does, and both still commit
// what was downloaded.
func (d *Downloader) Run(ctx context.Context, accounts []core.Account) (RunSummary, error) {
	d.runID = uuid.NewString()
	summary := RunSummary{RunID: d.runID, Started: d.now()}
	log := logger.Logger.WithField("run", d.runID)
	log.Infof("Starting run over %d accounts", len(accounts))

	for i, account := range accounts {
		if err := ctx.Err(); err != nil {
			return d.stop(summary, err)
		}

		d.println(fmt.Sprintf("[%d/%d] %s", i+1, len(accounts), ui.AccountName(account.Acct)))
		result, err := d.syncSafely(ctx, account)
		summary.Results = append(summary.Results, result)
		d.report(result)

		if err != nil {
			var fatal *FatalError
			if errors.As(err, &fatal) {
				return d.stop(summary, err)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return d.stop(summary, ctxErr)
			}
			log.WithError(err).WithField("account", account.Acct).Error("Account sync failed")
		}
	}

	if err := d.store.Commit(); err != nil {
		summary.Finished = d.now()
		return summary, fmt.Errorf("failed to commit: %w", err)
	}
	if d.opts.CompactAfterRun {
		if err := d.store.Compact(); err != nil {
			log.WithError(err).Warn("Failed to compact store")
		}
	}

	summary.Finished = d.now()
	metrics.LastRunTimestamp.Set(float64(summary.Finished.Unix()))
	metrics.LastRunDuration.Set(summary.Duration().Seconds())
	log.Infof("Run finished: %d toots stored", summary.Stored())
	return summary, nil
}

// syncSafely turns a panic inside one account's sync into a failed result.
func (d *Downloader) syncSafely(ctx context.Context, account core.Account) (result AccountResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Logger.WithField("account", account.Acct).Errorf("Panic during sync: %v\n%s", r, debug.Stack())
			result = AccountResult{Account: account, Outcome: OutcomeFailed, Err: fmt.Errorf("panic: %v", r)}
			err = nil
		}
	}()
	result, err = d.SyncAccount(ctx, account)
	if err != nil && result.Outcome == OutcomeDone && ctx.Err() == nil {
		result.Outcome = OutcomeFailed
	}
	return result, err
}

func (d *Downloader) stop(summary RunSummary, err error) (RunSummary, error) {
	if commitErr := d.store.Commit(); commitErr != nil {
		logger.Logger.WithError(commitErr).Error("Failed to commit")
	}
	summary.Finished = d.now()
	return summary, err
}

func (d *Downloader) report(r AccountResult) {
	counts := fmt.Sprintf("%s new toots, %s pages", humanize.Comma(int64(r.Stored)), humanize.Comma(int64(r.Pages)))

	switch {
	case r.Outcome == OutcomeSkipped:
		d.println(ui.Muted("  skipped, instance is blacklisted"))
	case r.Outcome == OutcomeRateLimited:
		msg := "  rate limited, this is normal: try again later"
		if r.RetryAfter > 0 {
			msg += " (in " + r.RetryAfter.Round(time.Second).String() + ")"
		}
		d.println(ui.RateLimited(msg + "; " + counts))
	case r.Outcome == OutcomeFailed:
		d.println(ui.Failure(fmt.Sprintf("  unexpected error, investigate: %v", r.Err)))
	case r.Err != nil:
		d.println(ui.RateLimited(fmt.Sprintf("  stopped early (%v); %s", r.Err, counts)))
	default:
		d.println(ui.Success("  " + counts))
	}
}
