package download

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agnosto/toot-scraper/db"
	"github.com/agnosto/toot-scraper/db/models"
	"github.com/agnosto/toot-scraper/db/service"
	"github.com/agnosto/toot-scraper/posts"
)

// events is shared by the fakes so tests can check what happened in which order.
type events []string

func (e *events) add(format string, args ...interface{}) {
	*e = append(*e, fmt.Sprintf(format, args...))
}

// recordingStore is a real store that also logs writes and commits.
type recordingStore struct {
	*service.PostStore
	log        *events
	failUpsert map[string]bool
	compacted  int
}

func (s *recordingStore) Upsert(t *models.Toot) error {
	if s.failUpsert[t.URI] {
		return fmt.Errorf("disk full")
	}
	s.log.add("upsert %s", t.RemoteID)
	return s.PostStore.Upsert(t)
}

func (s *recordingStore) Commit() error {
	s.log.add("commit")
	return s.PostStore.Commit()
}

func (s *recordingStore) Compact() error {
	s.compacted++
	return s.PostStore.Compact()
}

func newStore(t *testing.T, log *events) *recordingStore {
	t.Helper()
	database, err := db.NewDatabase(filepath.Join(t.TempDir(), "toots.db"))
	require.NoError(t, err)
	store := service.NewPostStore(database)
	t.Cleanup(func() { store.Close() })
	return &recordingStore{PostStore: store, log: log, failUpsert: map[string]bool{}}
}

type fetchCall struct {
	AccountID string
	MinID     string
}

type scriptStep struct {
	page  []posts.Status
	err   error
	panic bool
	hook  func()
}

// scriptedFetcher serves a fixed sequence of responses per account. Once an
// account's script runs out it returns empty pages.
type scriptedFetcher struct {
	scripts map[string][]scriptStep
	calls   []fetchCall
	log     *events
}

func (f *scriptedFetcher) FetchPage(ctx context.Context, accountID, minID string) ([]posts.Status, error) {
	f.calls = append(f.calls, fetchCall{accountID, minID})
	if f.log != nil {
		f.log.add("fetch %s %s", accountID, minID)
	}
	steps := f.scripts[accountID]
	if len(steps) == 0 {
		return nil, nil
	}
	step := steps[0]
	f.scripts[accountID] = steps[1:]
	if step.hook != nil {
		step.hook()
	}
	if step.panic {
		panic("boom")
	}
	return step.page, step.err
}

func (f *scriptedFetcher) callsFor(accountID string) []string {
	var minIDs []string
	for _, c := range f.calls {
		if c.AccountID == accountID {
			minIDs = append(minIDs, c.MinID)
		}
	}
	return minIDs
}

// timelineFetcher behaves like the statuses endpoint: min_id returns the
// pageSize statuses right after minID, newest first.
type timelineFetcher struct {
	statuses map[string][]posts.Status
	pageSize int
	calls    []fetchCall
}

func (f *timelineFetcher) FetchPage(ctx context.Context, accountID, minID string) ([]posts.Status, error) {
	f.calls = append(f.calls, fetchCall{accountID, minID})
	floor, _ := strconv.Atoi(minID)

	all := append([]posts.Status(nil), f.statuses[accountID]...)
	sort.Slice(all, func(i, j int) bool { return num(all[i].ID) < num(all[j].ID) })

	var page []posts.Status
	for _, s := range all {
		if num(s.ID) > floor && len(page) < f.pageSize {
			page = append(page, s)
		}
	}
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

func num(id string) int {
	n, _ := strconv.Atoi(id)
	return n
}

func status(id, uri string) posts.Status {
	return posts.Status{ID: id, URI: uri, Content: "<p>toot " + id + "</p>"}
}

func statuses(ids ...string) []posts.Status {
	page := make([]posts.Status, 0, len(ids))
	for _, id := range ids {
		page = append(page, status(id, "https://remote.example/statuses/"+id))
	}
	return page
}

func lang(s posts.Status, l string) posts.Status {
	s.Language = &l
	return s
}
