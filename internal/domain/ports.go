package domain

import "context"

// PostBatchStore defines the persistence operation for matched posts. A batch
// write must be idempotent: re-saving posts with URIs or (URI, keyword) pairs
// that already exist is a no-op.
type PostBatchStore interface {
	// SaveBatch writes a batch of matched posts and their keyword matches
	// in a single transaction.
	SaveBatch(ctx context.Context, posts []MatchedPost) error
}

// KeywordRepository provides the current set of tracked keywords.
type KeywordRepository interface {
	// FetchKeywords returns the distinct keyword values currently tracked.
	FetchKeywords(ctx context.Context) (map[string]struct{}, error)
}
