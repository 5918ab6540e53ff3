package download

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agnosto/toot-scraper/core"
	"github.com/agnosto/toot-scraper/db/models"
	"github.com/agnosto/toot-scraper/posts"
)

var (
	alice = core.Account{ID: "1", Acct: "alice@one.example"}
	bob   = core.Account{ID: "2", Acct: "bob"}
)

func newTestDownloader(store PostStore, fetcher PageFetcher, opts Options) *Downloader {
	if opts.SiteHost == "" {
		opts.SiteHost = "home.example"
	}
	return NewDownloader(store, fetcher, opts)
}

func storedIDs(t *testing.T, store *recordingStore, uris ...string) []string {
	t.Helper()
	var ids []string
	for _, uri := range uris {
		rows, err := store.FindByURI(uri)
		require.NoError(t, err)
		for _, r := range rows {
			ids = append(ids, r.RemoteID)
		}
	}
	return ids
}

func TestSyncFreshAccountStartsFromZero(t *testing.T) {
	var log events
	store := newStore(t, &log)
	fetcher := &scriptedFetcher{scripts: map[string][]scriptStep{
		alice.ID: {{page: statuses("12", "11", "10")}},
	}}

	result, err := newTestDownloader(store, fetcher, Options{}).SyncAccount(context.Background(), alice)
	require.NoError(t, err)

	assert.Equal(t, []string{"0", "12"}, fetcher.callsFor(alice.ID))
	assert.Equal(t, OutcomeDone, result.Outcome)
	assert.Equal(t, 3, result.Stored)
	assert.Equal(t, 1, result.Pages)
	assert.NoError(t, result.Err)

	count, err := store.CountByAccount(alice.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestSyncResumesFromLastStoredToot(t *testing.T) {
	var log events
	store := newStore(t, &log)
	// Stored in this order, so "7" is the resume point even though "9" is larger.
	for _, id := range []string{"9", "8", "7"} {
		require.NoError(t, store.Upsert(&models.Toot{RemoteID: id, AccountID: alice.ID, URI: "https://one.example/" + id}))
	}
	require.NoError(t, store.Commit())

	fetcher := &scriptedFetcher{scripts: map[string][]scriptStep{}}
	_, err := newTestDownloader(store, fetcher, Options{}).SyncAccount(context.Background(), alice)
	require.NoError(t, err)

	assert.Equal(t, []string{"7"}, fetcher.callsFor(alice.ID))
}

func TestSyncAdvancesFloorToFirstOfPage(t *testing.T) {
	var log events
	store := newStore(t, &log)
	fetcher := &scriptedFetcher{scripts: map[string][]scriptStep{
		alice.ID: {
			{page: statuses("50", "49", "48")},
			{page: statuses("52", "53", "51")},
			{page: statuses("60")},
		},
	}}

	_, err := newTestDownloader(store, fetcher, Options{}).SyncAccount(context.Background(), alice)
	require.NoError(t, err)

	// The first element is the next floor whatever the page order.
	assert.Equal(t, []string{"0", "50", "52", "60"}, fetcher.callsFor(alice.ID))
}

func TestSyncIdempotentRerun(t *testing.T) {
	var log events
	store := newStore(t, &log)
	fetcher := &timelineFetcher{
		statuses: map[string][]posts.Status{alice.ID: statuses("1", "2", "3", "4", "5", "6")},
		pageSize: 4,
	}
	d := newTestDownloader(store, fetcher, Options{})

	first, err := d.SyncAccount(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, 6, first.Stored)

	before, err := store.Count()
	require.NoError(t, err)
	fetcher.calls = nil

	second, err := d.SyncAccount(context.Background(), alice)
	require.NoError(t, err)
	assert.Zero(t, second.Stored)
	assert.True(t, second.CaughtUp)
	assert.Len(t, fetcher.calls, 1, "catch-up is detected on the first page")

	after, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSyncNewTootsAfterCatchUp(t *testing.T) {
	var log events
	store := newStore(t, &log)
	fetcher := &timelineFetcher{
		statuses: map[string][]posts.Status{alice.ID: statuses("1", "2", "3")},
		pageSize: 40,
	}
	d := newTestDownloader(store, fetcher, Options{})

	_, err := d.SyncAccount(context.Background(), alice)
	require.NoError(t, err)

	fetcher.statuses[alice.ID] = append(fetcher.statuses[alice.ID], statuses("4", "5")...)
	result, err := d.SyncAccount(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stored)

	count, err := store.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)
}

func TestSyncCaughtUpFinishesPage(t *testing.T) {
	var log events
	store := newStore(t, &log)
	require.NoError(t, store.Upsert(&models.Toot{RemoteID: "20", AccountID: alice.ID, URI: "https://remote.example/statuses/20", Content: "old"}))

	fetcher := &scriptedFetcher{scripts: map[string][]scriptStep{
		alice.ID: {
			{page: statuses("21", "20", "19")},
			{page: statuses("30")},
		},
	}}

	result, err := newTestDownloader(store, fetcher, Options{}).SyncAccount(context.Background(), alice)
	require.NoError(t, err)

	assert.True(t, result.CaughtUp)
	assert.Equal(t, 2, result.Stored)
	assert.Len(t, fetcher.calls, 1, "no page after catching up")
	assert.ElementsMatch(t, []string{"21", "19"}, storedIDs(t, store, "https://remote.example/statuses/21", "https://remote.example/statuses/19"))

	// The already stored toot is not rewritten.
	rows, err := store.FindByURI("https://remote.example/statuses/20")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "old", rows[0].Content)
}

func TestSyncSkipsReblogs(t *testing.T) {
	var log events
	store := newStore(t, &log)
	boost := status("11", "https://remote.example/statuses/11")
	boost.Reblog = &posts.Status{ID: "99", URI: "https://elsewhere.example/99"}
	fetcher := &scriptedFetcher{scripts: map[string][]scriptStep{
		alice.ID: {{page: []posts.Status{status("12", "https://remote.example/statuses/12"), boost}}},
	}}

	result, err := newTestDownloader(store, fetcher, Options{}).SyncAccount(context.Background(), alice)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Stored)
	assert.Equal(t, 1, result.Skipped)
	for _, uri := range []string{"https://remote.example/statuses/11", "https://elsewhere.example/99"} {
		exists, err := store.Exists(uri)
		require.NoError(t, err)
		assert.False(t, exists, uri)
	}
}

func TestSyncLanguageFilter(t *testing.T) {
	var log events
	store := newStore(t, &log)
	page := statuses("3", "2", "1")
	page[0] = lang(page[0], "fr")
	page[1] = lang(page[1], "en")
	fetcher := &scriptedFetcher{scripts: map[string][]scriptStep{alice.ID: {{page: page}}}}

	result, err := newTestDownloader(store, fetcher, Options{Lang: "en"}).SyncAccount(context.Background(), alice)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Stored)
	ids := storedIDs(t, store, page[0].URI, page[1].URI, page[2].URI)
	assert.ElementsMatch(t, []string{"2", "1"}, ids, "french dropped, missing language kept")
}

func TestSyncLanguageFilterKeepsEmptyLanguage(t *testing.T) {
	var log events
	store := newStore(t, &log)
	page := statuses("2", "1")
	page[0] = lang(page[0], "")
	fetcher := &scriptedFetcher{scripts: map[string][]scriptStep{alice.ID: {{page: page}}}}

	result, err := newTestDownloader(store, fetcher, Options{Lang: "en"}).SyncAccount(context.Background(), alice)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Stored)
	assert.Zero(t, result.Skipped)
}

func TestSyncStoresExtractedContent(t *testing.T) {
	var log events
	store := newStore(t, &log)
	s := status("5", "https://remote.example/statuses/5")
	s.Content = `<p>hi <span class="h-card"><a href="https://x/@bob" class="u-url mention">@<span>bob</span></a></span></p>`
	s.SpoilerText = "spoilers"
	fetcher := &scriptedFetcher{scripts: map[string][]scriptStep{alice.ID: {{page: []posts.Status{s}}}}}

	_, err := newTestDownloader(store, fetcher, Options{}).SyncAccount(context.Background(), alice)
	require.NoError(t, err)

	rows, err := store.FindByURI(s.URI)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "hi @\u200Bbob", rows[0].Content)
	assert.True(t, rows[0].HasContentWarning)
	assert.Equal(t, alice.ID, rows[0].AccountID)
}

func TestSyncDropsFailedRecordsOnly(t *testing.T) {
	var log events
	store := newStore(t, &log)
	store.failUpsert["https://remote.example/statuses/2"] = true
	page := statuses("3", "2", "1")
	page = append(page, posts.Status{ID: "0"})
	fetcher := &scriptedFetcher{scripts: map[string][]scriptStep{alice.ID: {{page: page}}}}

	d := newTestDownloader(store, fetcher, Options{})
	d.extract = func(content string) (string, error) {
		if content == "<p>toot 1</p>" {
			return "", errors.New("bad html")
		}
		return content, nil
	}

	result, err := d.SyncAccount(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, result.Outcome)
	assert.Equal(t, 1, result.Stored)
	assert.Equal(t, 3, result.Skipped)

	count, err := store.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestSyncBlacklistedInstanceMakesNoRequests(t *testing.T) {
	var log events
	store := newStore(t, &log)
	fetcher := &scriptedFetcher{scripts: map[string][]scriptStep{}}
	mallory := core.Account{ID: "3", Acct: "alice@BOFA.lol"}

	d := newTestDownloader(store, fetcher, Options{Blacklist: []string{"bofa.lol", "witches.town", "knzk.me"}})
	result, err := d.SyncAccount(context.Background(), mallory)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Empty(t, fetcher.calls)
}

func TestSyncLocalAccountUsesSiteHost(t *testing.T) {
	var log events
	store := newStore(t, &log)
	fetcher := &scriptedFetcher{scripts: map[string][]scriptStep{}}

	d := newTestDownloader(store, fetcher, Options{SiteHost: "knzk.me", Blacklist: []string{"knzk.me"}})
	result, err := d.SyncAccount(context.Background(), bob)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Empty(t, fetcher.calls)
}

func TestSyncRateLimitedCommitsProgress(t *testing.T) {
	var log events
	store := newStore(t, &log)
	fetcher := &scriptedFetcher{log: &log, scripts: map[string][]scriptStep{
		alice.ID: {
			{page: statuses("3", "2", "1")},
			{err: &posts.FetchError{Kind: posts.KindRateLimited, StatusCode: 429, RetryAfter: time.Minute}},
		},
	}}

	result, err := newTestDownloader(store, fetcher, Options{}).SyncAccount(context.Background(), alice)
	require.NoError(t, err)

	assert.Equal(t, OutcomeRateLimited, result.Outcome)
	assert.Equal(t, time.Minute, result.RetryAfter)
	assert.Equal(t, 3, result.Stored)
	assert.Equal(t, events{
		"fetch 1 0",
		"upsert 3", "upsert 2", "upsert 1",
		"commit",
		"fetch 1 3",
		"commit",
	}, log)
}

func TestSyncFirstPageTimeoutIsDone(t *testing.T) {
	var log events
	store := newStore(t, &log)
	fetcher := &scriptedFetcher{scripts: map[string][]scriptStep{
		alice.ID: {{err: &posts.FetchError{Kind: posts.KindTimeout}}},
	}}

	result, err := newTestDownloader(store, fetcher, Options{}).SyncAccount(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, result.Outcome)
	assert.True(t, posts.IsTimeout(result.Err))
}

func TestSyncExhaustedIsDone(t *testing.T) {
	var log events
	store := newStore(t, &log)
	fetcher := &scriptedFetcher{scripts: map[string][]scriptStep{
		alice.ID: {
			{page: statuses("2", "1")},
			{err: &posts.FetchError{Kind: posts.KindExhausted, StatusCode: 404}},
		},
	}}

	result, err := newTestDownloader(store, fetcher, Options{}).SyncAccount(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, result.Outcome)
	assert.NoError(t, result.Err)
	assert.Equal(t, 2, result.Stored)
}

func TestSyncLaterPageFailureKeepsProgress(t *testing.T) {
	var log events
	store := newStore(t, &log)
	fetcher := &scriptedFetcher{scripts: map[string][]scriptStep{
		alice.ID: {
			{page: statuses("2", "1")},
			{err: &posts.FetchError{Kind: posts.KindOther, StatusCode: 502}},
		},
	}}

	result, err := newTestDownloader(store, fetcher, Options{AbortOnFirstPageError: true}).SyncAccount(context.Background(), alice)
	require.NoError(t, err, "only the first page can abort the run")
	assert.Equal(t, OutcomeDone, result.Outcome)
	assert.Error(t, result.Err)
	assert.Equal(t, 2, result.Stored)
}

func TestSyncFirstPageFailure(t *testing.T) {
	failing := func() *scriptedFetcher {
		return &scriptedFetcher{scripts: map[string][]scriptStep{
			alice.ID: {{err: &posts.FetchError{Kind: posts.KindOther, StatusCode: 500}}},
		}}
	}

	t.Run("fails the account by default", func(t *testing.T) {
		var log events
		result, err := newTestDownloader(newStore(t, &log), failing(), Options{}).SyncAccount(context.Background(), alice)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, result.Outcome)
		assert.Error(t, result.Err)
	})

	t.Run("aborts when configured", func(t *testing.T) {
		var log events
		result, err := newTestDownloader(newStore(t, &log), failing(), Options{AbortOnFirstPageError: true}).SyncAccount(context.Background(), alice)
		var fatal *FatalError
		require.ErrorAs(t, err, &fatal)
		assert.Equal(t, alice, fatal.Account)
		assert.Equal(t, OutcomeFailed, result.Outcome)
	})
}

func TestSyncCancelledCommitsPage(t *testing.T) {
	var log events
	store := newStore(t, &log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &scriptedFetcher{log: &log, scripts: map[string][]scriptStep{
		alice.ID: {
			{page: statuses("2", "1")},
			{page: statuses("4", "3"), hook: cancel},
		},
	}}

	result, err := newTestDownloader(store, fetcher, Options{}).SyncAccount(ctx, alice)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, result.Stored)

	assert.Equal(t, events{
		"fetch 1 0",
		"upsert 2", "upsert 1",
		"commit",
		"fetch 1 2",
		"commit",
	}, log, "records of the cancelled page are not processed")

	count, err := store.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}
