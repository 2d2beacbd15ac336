package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/trendsift/trendsift/internal/domain"
	"github.com/trendsift/trendsift/internal/metrics"
)

// DefaultBatchSize is the flush threshold used when none is configured.
const DefaultBatchSize = 500

// Persister buffers matched posts and flushes them to the store in bounded
// batches. It is not safe for concurrent use; the pipeline is its only caller.
type Persister struct {
	store     domain.PostBatchStore
	batchSize int
	counters  *Counters
	logger    *zap.Logger

	buf []domain.MatchedPost
}

// NewPersister creates a Persister flushing every batchSize records.
func NewPersister(store domain.PostBatchStore, batchSize int, counters *Counters, logger *zap.Logger) *Persister {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if counters == nil {
		counters = &Counters{}
	}
	return &Persister{
		store:     store,
		batchSize: batchSize,
		counters:  counters,
		logger:    logger,
		buf:       make([]domain.MatchedPost, 0, batchSize),
	}
}

// Add buffers one record, flushing automatically once the buffer reaches the
// batch size.
func (p *Persister) Add(ctx context.Context, post domain.MatchedPost) error {
	p.buf = append(p.buf, post)
	if len(p.buf) >= p.batchSize {
		return p.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered records to the store in one transaction. An
// empty buffer is a no-op with no store interaction. On failure the buffer
// is retained so a retry reattempts the same batch; the store's idempotent
// upsert makes that safe.
func (p *Persister) Flush(ctx context.Context) error {
	if len(p.buf) == 0 {
		return nil
	}

	if err := p.store.SaveBatch(ctx, p.buf); err != nil {
		return fmt.Errorf("save batch of %d: %w", len(p.buf), err)
	}

	p.counters.PostsPersisted.Add(int64(len(p.buf)))
	p.counters.BatchesFlushed.Add(1)
	metrics.PostsPersisted.Add(float64(len(p.buf)))
	metrics.BatchesFlushed.Inc()
	p.logger.Info("flushed batch", zap.Int("posts", len(p.buf)))

	p.buf = p.buf[:0]
	return nil
}

// Pending reports the number of buffered, unflushed records.
func (p *Persister) Pending() int {
	return len(p.buf)
}
