package download

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/agnosto/toot-scraper/core"
	"github.com/agnosto/toot-scraper/db/models"
	"github.com/agnosto/toot-scraper/logger"
	"github.com/agnosto/toot-scraper/metrics"
	"github.com/agnosto/toot-scraper/posts"
)

// Floor used for accounts with nothing stored yet.
const initialFloor = "0"

type Outcome string

const (
	OutcomeDone        Outcome = "done"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeFailed      Outcome = "failed"
)

// AccountResult is how one account's sync ended. Err is set when the sync
// stopped early, even if the outcome is still OutcomeDone.
type AccountResult struct {
	Account    core.Account
	Outcome    Outcome
	Pages      int
	Stored     int
	Skipped    int
	CaughtUp   bool
	RetryAfter time.Duration
	Err        error
}

// FatalError aborts the whole run. It is only returned for a failed first
// page when the downloader is told to treat that as systemic.
type FatalError struct {
	Account core.Account
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("aborting run: first page of %s failed: %v", e.Account.Acct, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

type recordOutcome int

const (
	recordStored recordOutcome = iota
	recordReblog
	recordSeen
	recordLanguage
)

// SyncAccount downloads every toot of account newer than the last one
// stored, committing after each page. It returns an error only when ctx is
// cancelled or the failure is a *FatalError; every other failure is
// reported through the result.
func (d *Downloader) SyncAccount(ctx context.Context, account core.Account) (AccountResult, error) {
	result := AccountResult{Account: account, Outcome: OutcomeDone}
	log := logger.Logger.WithFields(logrus.Fields{"account": account.Acct, "run": d.runID})

	floor, ok, err := d.store.LastSeenID(account.ID)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = fmt.Errorf("failed to read resume point: %w", err)
		log.WithError(err).Error("Failed to read resume point")
		return d.finish(result), nil
	}
	if !ok {
		floor = initialFloor
	}

	instance := core.InstanceOf(account.Acct, d.opts.SiteHost)
	if core.IsBlacklisted(instance, d.opts.Blacklist) {
		log.Infof("Skipping account on blacklisted instance %s", instance)
		result.Outcome = OutcomeSkipped
		return d.finish(result), nil
	}

	bar := d.newPageBar(account.Acct)
	defer bar.Finish()

	for first := true; ; first = false {
		if err := ctx.Err(); err != nil {
			return d.cancelled(result, err, log)
		}

		log.WithField("floor", floor).Debug("Fetching page")
		timer := prometheus.NewTimer(metrics.PageFetchDuration)
		page, err := d.fetcher.FetchPage(ctx, account.ID, floor)
		timer.ObserveDuration()

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return d.cancelled(result, ctxErr, log)
			}
			return d.fetchFailed(result, err, first, log)
		}
		if len(page) == 0 {
			break
		}

		result.Pages++
		metrics.PagesFetched.Inc()
		bar.Add(1)

		caughtUp, pageErr := d.processPage(ctx, account, page, &result, log)
		if pageErr != nil {
			return d.cancelled(result, pageErr, log)
		}
		if err := d.store.Commit(); err != nil {
			result.Outcome = OutcomeFailed
			result.Err = fmt.Errorf("failed to commit page: %w", err)
			log.WithError(err).Error("Failed to commit page")
			return d.finish(result), nil
		}
		if caughtUp {
			result.CaughtUp = true
			log.Debug("Caught up with stored toots")
			break
		}

		// The server's page order decides the next floor, whatever it is.
		floor = page[0].ID
	}

	if err := d.store.Commit(); err != nil {
		result.Outcome = OutcomeFailed
		result.Err = fmt.Errorf("failed to commit: %w", err)
		log.WithError(err).Error("Failed to commit")
	}
	return d.finish(result), nil
}

// processPage stores the new toots of one page. It reports whether any
// toot was already stored, and only returns an error when ctx is done.
func (d *Downloader) processPage(ctx context.Context, account core.Account, page []posts.Status, result *AccountResult, log *logrus.Entry) (bool, error) {
	caughtUp := false
	for _, status := range page {
		if err := ctx.Err(); err != nil {
			return caughtUp, err
		}

		outcome, err := d.acceptStatus(account, status)
		if err != nil {
			result.Skipped++
			metrics.TootsSkipped.WithLabelValues("error").Inc()
			log.WithError(err).WithField("uri", status.URI).Warn("Dropping toot")
			continue
		}

		switch outcome {
		case recordStored:
			result.Stored++
			metrics.TootsStored.Inc()
		case recordSeen:
			caughtUp = true
		case recordReblog:
			result.Skipped++
			metrics.TootsSkipped.WithLabelValues("reblog").Inc()
		case recordLanguage:
			result.Skipped++
			metrics.TootsSkipped.WithLabelValues("language").Inc()
		}
	}
	return caughtUp, nil
}

// acceptStatus decides what happens to one fetched status and stores it
// when it is new. Already stored toots are left untouched.
func (d *Downloader) acceptStatus(account core.Account, status posts.Status) (recordOutcome, error) {
	if status.IsReblog() {
		return recordReblog, nil
	}
	if status.URI == "" {
		return 0, errors.New("status has no uri")
	}

	exists, err := d.store.Exists(status.URI)
	if err != nil {
		return 0, fmt.Errorf("failed to look up toot: %w", err)
	}
	if exists {
		return recordSeen, nil
	}

	if d.opts.Lang != "" && status.HasLanguage() && !strings.EqualFold(*status.Language, d.opts.Lang) {
		return recordLanguage, nil
	}

	text, err := d.extract(status.Content)
	if err != nil {
		return 0, err
	}

	toot := &models.Toot{
		RemoteID:          status.ID,
		HasContentWarning: status.HasContentWarning(),
		AccountID:         account.ID,
		URI:               status.URI,
		Content:           text,
	}
	if err := d.store.Upsert(toot); err != nil {
		return 0, fmt.Errorf("failed to store toot: %w", err)
	}
	return recordStored, nil
}

func (d *Downloader) fetchFailed(result AccountResult, err error, first bool, log *logrus.Entry) (AccountResult, error) {
	kind, _ := posts.KindOf(err)
	metrics.FetchErrors.WithLabelValues(kind.String()).Inc()

	fatal := false
	switch kind {
	case posts.KindExhausted:
		log.Debug("No more pages")
	case posts.KindRateLimited:
		result.Outcome = OutcomeRateLimited
		result.Err = err
		var fe *posts.FetchError
		if errors.As(err, &fe) {
			result.RetryAfter = fe.RetryAfter
		}
		log.WithError(err).Warn("Rate limited")
	case posts.KindTimeout:
		result.Err = err
		log.WithError(err).Warn("Page fetch timed out")
	default:
		result.Err = err
		if !first {
			log.WithError(err).Warn("Later page failed")
			break
		}
		log.WithError(err).Error("First page failed, likely systemic")
		result.Outcome = OutcomeFailed
		fatal = d.opts.AbortOnFirstPageError
	}

	if commitErr := d.store.Commit(); commitErr != nil {
		log.WithError(commitErr).Error("Failed to commit")
	}
	if fatal {
		return d.finish(result), &FatalError{Account: result.Account, Err: err}
	}
	return d.finish(result), nil
}

func (d *Downloader) cancelled(result AccountResult, err error, log *logrus.Entry) (AccountResult, error) {
	if commitErr := d.store.Commit(); commitErr != nil {
		log.WithError(commitErr).Error("Failed to commit after cancellation")
	}
	log.Info("Sync cancelled")
	result.Err = err
	return result, err
}

func (d *Downloader) finish(result AccountResult) AccountResult {
	metrics.AccountOutcomes.WithLabelValues(string(result.Outcome)).Inc()
	logger.Logger.WithFields(logrus.Fields{
		"account": result.Account.Acct,
		"run":     d.runID,
		"outcome": result.Outcome,
		"pages":   result.Pages,
		"stored":  result.Stored,
	}).Info("Account finished")
	return result
}
