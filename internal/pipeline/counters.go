package pipeline

import "sync/atomic"

// Counters tracks running totals for the ingest loop. The pipeline itself is
// single-threaded, but the ops server reads these concurrently, hence the
// atomics.
type Counters struct {
	PostsRead        atomic.Int64
	PostsMatched     atomic.Int64
	PostsPersisted   atomic.Int64
	BatchesFlushed   atomic.Int64
	KeywordRefreshes atomic.Int64
}

// Snapshot returns the current totals.
func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"posts_read":        c.PostsRead.Load(),
		"posts_matched":     c.PostsMatched.Load(),
		"posts_persisted":   c.PostsPersisted.Load(),
		"batches_flushed":   c.BatchesFlushed.Load(),
		"keyword_refreshes": c.KeywordRefreshes.Load(),
	}
}
