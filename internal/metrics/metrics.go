// Package metrics exposes Prometheus counters for the ingest loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsReceived counts every event read off the firehose, matched or not.
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trendsift_firehose_events_total",
		Help: "Events received from the firehose.",
	})

	// DecodeErrors counts malformed firehose payloads that were skipped.
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trendsift_firehose_decode_errors_total",
		Help: "Firehose payloads that failed to decode and were skipped.",
	})

	// PostsMatched counts posts that matched at least one tracked keyword.
	PostsMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trendsift_posts_matched_total",
		Help: "Posts that matched at least one tracked keyword.",
	})

	// PostsPersisted counts posts handed to the store in flushed batches.
	PostsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trendsift_posts_persisted_total",
		Help: "Matched posts written in flushed batches.",
	})

	// BatchesFlushed counts successful batch flushes.
	BatchesFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trendsift_batches_flushed_total",
		Help: "Successful batch flushes to the store.",
	})

	// KeywordRefreshes counts pattern-set rebuilds after a keyword change.
	KeywordRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trendsift_keyword_refreshes_total",
		Help: "Pattern set rebuilds triggered by a changed keyword list.",
	})
)
