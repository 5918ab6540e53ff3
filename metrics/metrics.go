package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PagesFetched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "toot_scraper_pages_fetched_total",
			Help: "Total number of timeline pages fetched",
		},
	)

	PageFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "toot_scraper_page_fetch_duration_seconds",
			Help:    "Duration of timeline page fetches",
			Buckets: prometheus.DefBuckets,
		},
	)

	FetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toot_scraper_fetch_errors_total",
			Help: "Total number of failed page fetches",
		},
		[]string{"kind"},
	)

	TootsStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "toot_scraper_toots_stored_total",
			Help: "Total number of toots written to the store",
		},
	)

	TootsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toot_scraper_toots_skipped_total",
			Help: "Total number of fetched toots not written to the store",
		},
		[]string{"reason"},
	)

	AccountOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toot_scraper_account_outcomes_total",
			Help: "Total number of account syncs by outcome",
		},
		[]string{"outcome"},
	)

	LastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "toot_scraper_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		},
	)

	LastRunDuration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "toot_scraper_last_run_duration_seconds",
			Help: "Duration of the last run",
		},
	)
)

// Registry holds only this tool's collectors so the textfile stays small.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		PagesFetched,
		PageFetchDuration,
		FetchErrors,
		TootsStored,
		TootsSkipped,
		AccountOutcomes,
		LastRunTimestamp,
		LastRunDuration,
	)
}

// WriteTextfile writes the current values in the node_exporter textfile
// format. The file is replaced atomically.
func WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
