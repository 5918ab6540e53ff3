package download

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/agnosto/toot-scraper/config"
	"github.com/agnosto/toot-scraper/db/models"
	"github.com/agnosto/toot-scraper/posts"
)

// PostStore is the part of the post store the downloader writes through.
type PostStore interface {
	LastSeenID(accountID string) (string, bool, error)
	Exists(uri string) (bool, error)
	Upsert(toot *models.Toot) error
	Commit() error
	Compact() error
}

// PageFetcher returns one page of an account's statuses newer than minID.
type PageFetcher interface {
	FetchPage(ctx context.Context, accountID, minID string) ([]posts.Status, error)
}

type Options struct {
	// Lang keeps only toots in this language. Toots without a language
	// are always kept.
	Lang string

	// Blacklist holds instances whose accounts are never fetched.
	Blacklist []string

	// SiteHost is the instance of accounts without an @instance suffix.
	SiteHost string

	// AbortOnFirstPageError stops the whole run when an account's first
	// page fails for a reason other than rate limiting or a timeout.
	AbortOnFirstPageError bool

	CompactAfterRun bool

	// Out receives progress and status lines. Nil discards them.
	Out io.Writer
}

func OptionsFromConfig(cfg *config.Config, out io.Writer) Options {
	return Options{
		Lang:                  cfg.Options.Lang,
		Blacklist:             cfg.Options.InstanceBlacklist,
		SiteHost:              cfg.SiteHost(),
		AbortOnFirstPageError: cfg.Options.AbortOnFirstPageError,
		CompactAfterRun:       cfg.Options.CompactAfterRun,
		Out:                   out,
	}
}

type Downloader struct {
	store   PostStore
	fetcher PageFetcher
	opts    Options
	extract func(content string) (string, error)
	runID   string
	now     func() time.Time
}

func NewDownloader(store PostStore, fetcher PageFetcher, opts Options) *Downloader {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Downloader{
		store:   store,
		fetcher: fetcher,
		opts:    opts,
		extract: posts.ExtractToot,
		now:     time.Now,
	}
}

// newPageBar draws one spinner tick per fetched page.
func (d *Downloader) newPageBar(acct string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(d.opts.Out),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%s[reset]", acct)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func (d *Downloader) println(s string) {
	fmt.Fprintln(d.opts.Out, s)
}
