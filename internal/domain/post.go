package domain

import (
	"fmt"
	"time"
)

// FeedPost is a decoded post-creation event from the firehose. It lives only
// for the duration of one pipeline iteration.
type FeedPost struct {
	// AuthorDID is the DID of the post's author.
	AuthorDID string

	// RKey is the record key of the post within the author's repo.
	RKey string

	// Text is the post body text used for keyword matching.
	Text string

	// CreatedAt is the client-supplied creation timestamp, as found on the
	// wire (RFC 3339, not validated upstream).
	CreatedAt string

	// ReplyParentURI is the AT-URI of the post being replied to, if any.
	ReplyParentURI string

	// RepostURI is the AT-URI of an embedded (quoted) post, if any.
	RepostURI string
}

// MatchedPost is a feed post that matched at least one tracked keyword,
// enriched with its derived URI and sentiment score and ready to persist.
type MatchedPost struct {
	// URI is the AT-URI of the post (e.g. at://did:plc:abc/app.bsky.feed.post/3l3qo2vuowo2b).
	URI string

	// PostedAt is the post's creation time.
	PostedAt time.Time

	// AuthorDID is the DID of the post's author.
	AuthorDID string

	// Text is the post body text.
	Text string

	// SentimentScore is the compound polarity score in [-1, 1].
	SentimentScore float64

	// Keywords are the tracked keywords this post matched, in their stored case.
	Keywords []string

	// ReplyURI is the AT-URI of the parent post, empty when not a reply.
	ReplyURI string

	// RepostURI is the AT-URI of an embedded post, empty when not a quote.
	RepostURI string
}

// PostURI derives the canonical AT-URI for a post. Re-ingestion of the same
// post must produce the same URI so the idempotent upsert can key on it.
func PostURI(authorDID, rkey string) string {
	return fmt.Sprintf("at://%s/app.bsky.feed.post/%s", authorDID, rkey)
}
