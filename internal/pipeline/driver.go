// Package pipeline drives the ingestion loop: read one post off the
// firehose, match it against the tracked keywords, score it, and buffer it
// for batched persistence. Everything runs on a single goroutine, pull-based;
// the only blocking call is the firehose read.
package pipeline

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/trendsift/trendsift/internal/domain"
	"github.com/trendsift/trendsift/internal/keyword"
	"github.com/trendsift/trendsift/internal/metrics"
	"github.com/trendsift/trendsift/internal/sentiment"
)

const (
	// DefaultRefreshInterval is how often the keyword list is re-fetched.
	DefaultRefreshInterval = 60 * time.Second

	statsLogInterval = 30 * time.Second
)

// MessageStream yields decoded post-creation events one at a time.
type MessageStream interface {
	Next(ctx context.Context) (*domain.FeedPost, error)
}

// KeywordFetchFunc returns the current set of tracked keywords.
type KeywordFetchFunc func(ctx context.Context) (map[string]struct{}, error)

// Driver owns the ingestion loop: the refresh timer for the keyword source
// and the batching policy for the persister.
type Driver struct {
	stream          MessageStream
	fetch           KeywordFetchFunc
	score           sentiment.ScoreFunc
	persister       *Persister
	refreshInterval time.Duration
	counters        *Counters
	logger          *zap.Logger

	// now is swapped out in tests to drive the refresh clock.
	now func() time.Time

	patterns    keyword.PatternSet
	active      map[string]struct{}
	lastRefresh time.Time
}

// NewDriver wires a Driver. A non-positive refreshInterval falls back to
// DefaultRefreshInterval.
func NewDriver(
	stream MessageStream,
	fetch KeywordFetchFunc,
	score sentiment.ScoreFunc,
	persister *Persister,
	refreshInterval time.Duration,
	counters *Counters,
	logger *zap.Logger,
) *Driver {
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}
	if counters == nil {
		counters = &Counters{}
	}
	return &Driver{
		stream:          stream,
		fetch:           fetch,
		score:           score,
		persister:       persister,
		refreshInterval: refreshInterval,
		counters:        counters,
		logger:          logger,
		now:             time.Now,
	}
}

// Run fetches and compiles the initial keyword set, then processes posts
// until ctx is cancelled or an unrecoverable error occurs. On cancellation it
// flushes the remaining buffer before returning; on error the buffer is left
// as-is and the error propagates, leaving the restart decision to the
// supervisor.
func (d *Driver) Run(ctx context.Context) error {
	keywords, err := d.fetch(ctx)
	if err != nil {
		return fmt.Errorf("initial keyword fetch: %w", err)
	}
	patterns, err := keyword.Compile(keywords)
	if err != nil {
		return fmt.Errorf("compile keywords: %w", err)
	}
	d.active = keywords
	d.patterns = patterns
	d.lastRefresh = d.now()

	d.logger.Info("pipeline started", zap.Int("keywords", len(keywords)))
	lastStatsLog := d.now()

	for {
		select {
		case <-ctx.Done():
			return d.shutdown(ctx)
		default:
		}

		post, err := d.stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return d.shutdown(ctx)
			}
			return fmt.Errorf("read firehose: %w", err)
		}
		d.counters.PostsRead.Add(1)

		// Refresh is wall-clock driven, checked once per iteration so a
		// due refresh always lands before the next match attempt.
		if err := d.maybeRefresh(ctx); err != nil {
			return err
		}

		if hits := d.patterns.Match(post.Text); hits != nil {
			d.counters.PostsMatched.Add(1)
			metrics.PostsMatched.Inc()
			if err := d.persister.Add(ctx, d.enrich(post, hits)); err != nil {
				return fmt.Errorf("persist post: %w", err)
			}
		}

		if now := d.now(); now.Sub(lastStatsLog) >= statsLogInterval {
			d.logger.Info("pipeline stats",
				zap.Int64("posts_read", d.counters.PostsRead.Load()),
				zap.Int64("posts_matched", d.counters.PostsMatched.Load()),
				zap.Int64("batches_flushed", d.counters.BatchesFlushed.Load()),
				zap.Int("buffered", d.persister.Pending()),
			)
			lastStatsLog = now
		}
	}
}

// maybeRefresh re-fetches the keyword list once the refresh interval has
// elapsed since the last fetch. The pattern set is recompiled only when the
// set actually changed, and replaced wholesale so a match never sees a
// half-built generation.
func (d *Driver) maybeRefresh(ctx context.Context) error {
	if d.now().Sub(d.lastRefresh) < d.refreshInterval {
		return nil
	}

	keywords, err := d.fetch(ctx)
	if err != nil {
		return fmt.Errorf("refresh keywords: %w", err)
	}
	d.lastRefresh = d.now()

	if maps.Equal(keywords, d.active) {
		return nil
	}

	patterns, err := keyword.Compile(keywords)
	if err != nil {
		return fmt.Errorf("compile keywords: %w", err)
	}
	d.active = keywords
	d.patterns = patterns
	d.counters.KeywordRefreshes.Add(1)
	metrics.KeywordRefreshes.Inc()
	d.logger.Info("keyword set refreshed", zap.Int("keywords", len(keywords)))
	return nil
}

// enrich turns a matched feed post into its persistable form: derived URI,
// sorted matched keywords, sentiment score, parsed timestamp.
func (d *Driver) enrich(post *domain.FeedPost, hits map[string]struct{}) domain.MatchedPost {
	keywords := make([]string, 0, len(hits))
	for kw := range hits {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)

	// createdAt is client-supplied; fall back to the ingestion clock rather
	// than failing the whole batch over one garbage timestamp.
	postedAt, err := time.Parse(time.RFC3339, post.CreatedAt)
	if err != nil {
		postedAt = d.now().UTC()
	}

	return domain.MatchedPost{
		URI:            domain.PostURI(post.AuthorDID, post.RKey),
		PostedAt:       postedAt,
		AuthorDID:      post.AuthorDID,
		Text:           post.Text,
		SentimentScore: d.score(post.Text),
		Keywords:       keywords,
		ReplyURI:       post.ReplyParentURI,
		RepostURI:      post.RepostURI,
	}
}

// shutdown performs the end-of-stream flush. The parent context is usually
// already cancelled at this point, so the flush runs detached from it.
func (d *Driver) shutdown(ctx context.Context) error {
	d.logger.Info("pipeline stopping", zap.Int("buffered", d.persister.Pending()))
	if err := d.persister.Flush(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	return nil
}
