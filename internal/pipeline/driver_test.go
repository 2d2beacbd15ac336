package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/trendsift/trendsift/internal/domain"
)

// fakeClock is advanced manually by tests (and by fakeStream between posts).
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

// fakeStream serves a fixed sequence of posts, advancing the shared clock
// before each one, then cancels the run context to simulate a stop signal.
type fakeStream struct {
	posts    []*domain.FeedPost
	advances []time.Duration
	clock    *fakeClock
	cancel   context.CancelFunc
}

func (s *fakeStream) Next(ctx context.Context) (*domain.FeedPost, error) {
	if len(s.posts) == 0 {
		s.cancel()
		return nil, ctx.Err()
	}
	if s.clock != nil && len(s.advances) > 0 {
		s.clock.Advance(s.advances[0])
		s.advances = s.advances[1:]
	}
	post := s.posts[0]
	s.posts = s.posts[1:]
	return post, nil
}

func feedPost(did, rkey, text string) *domain.FeedPost {
	return &domain.FeedPost{
		AuthorDID: did,
		RKey:      rkey,
		Text:      text,
		CreatedAt: "2026-02-03T15:00:07Z",
	}
}

func fixedFetch(keywords ...string) KeywordFetchFunc {
	set := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		set[kw] = struct{}{}
	}
	return func(context.Context) (map[string]struct{}, error) {
		return set, nil
	}
}

func runDriver(t *testing.T, stream *fakeStream, d *Driver) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream.cancel = cancel
	return d.Run(ctx)
}

func TestDriverEndToEnd(t *testing.T) {
	store := &fakeStore{}
	stream := &fakeStream{
		posts: []*domain.FeedPost{feedPost("did:plc:123", "abc", "I love matcha lattes")},
	}
	persister := NewPersister(store, 10, nil, zap.NewNop())
	score := func(string) float64 { return 0.8 }
	d := NewDriver(stream, fixedFetch("matcha"), score, persister, time.Minute, nil, zap.NewNop())

	if err := runDriver(t, stream, d); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(store.batches) != 1 || len(store.batches[0]) != 1 {
		t.Fatalf("batches = %v, want one batch of 1", store.batches)
	}
	got := store.batches[0][0]
	if want := "at://did:plc:123/app.bsky.feed.post/abc"; got.URI != want {
		t.Errorf("URI = %q, want %q", got.URI, want)
	}
	if got.Text != "I love matcha lattes" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.SentimentScore != 0.8 {
		t.Errorf("SentimentScore = %v, want 0.8", got.SentimentScore)
	}
	if len(got.Keywords) != 1 || got.Keywords[0] != "matcha" {
		t.Errorf("Keywords = %v, want [matcha]", got.Keywords)
	}
	if want := time.Date(2026, 2, 3, 15, 0, 7, 0, time.UTC); !got.PostedAt.Equal(want) {
		t.Errorf("PostedAt = %v, want %v", got.PostedAt, want)
	}
}

func TestDriverDropsNonMatchingPosts(t *testing.T) {
	store := &fakeStore{}
	stream := &fakeStream{
		posts: []*domain.FeedPost{feedPost("did:plc:123", "abc", "I love coffee")},
	}
	persister := NewPersister(store, 10, nil, zap.NewNop())
	d := NewDriver(stream, fixedFetch("python"), neverScore(t), persister, time.Minute, nil, zap.NewNop())

	if err := runDriver(t, stream, d); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.batches) != 0 {
		t.Fatalf("batches = %v, want none for a non-matching post", store.batches)
	}
}

// neverScore fails the test if the scorer runs: dropped posts must not be scored.
func neverScore(t *testing.T) func(string) float64 {
	return func(text string) float64 {
		t.Errorf("scorer called for dropped post %q", text)
		return 0
	}
}

func TestDriverRefreshCadence(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 2, 3, 15, 0, 0, 0, time.UTC)}

	var fetches int
	generations := []map[string]struct{}{
		{"matcha": {}},
		{"coffee": {}},
	}
	fetch := func(context.Context) (map[string]struct{}, error) {
		fetches++
		if fetches >= 2 {
			return generations[1], nil
		}
		return generations[0], nil
	}

	store := &fakeStore{}
	stream := &fakeStream{
		posts: []*domain.FeedPost{
			feedPost("did:plc:1", "a", "matcha time"),
			feedPost("did:plc:2", "b", "coffee break"),
			feedPost("did:plc:3", "c", "coffee again"),
		},
		// First two posts arrive inside the interval, the third after it.
		advances: []time.Duration{0, 30 * time.Second, 31 * time.Second},
		clock:    clock,
	}
	persister := NewPersister(store, 100, nil, zap.NewNop())
	score := func(string) float64 { return 0 }
	counters := &Counters{}
	d := NewDriver(stream, fetch, score, persister, time.Minute, counters, zap.NewNop())
	d.now = clock.Now

	if err := runDriver(t, stream, d); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// One initial fetch plus exactly one refresh once the interval elapsed.
	if fetches != 2 {
		t.Fatalf("fetch called %d times, want 2", fetches)
	}
	if got := counters.KeywordRefreshes.Load(); got != 1 {
		t.Errorf("KeywordRefreshes = %d, want 1", got)
	}

	// The refresh landed before the third post was matched: "coffee break"
	// arrived under the old generation and was dropped, "coffee again"
	// matched under the new one.
	if len(store.batches) != 1 {
		t.Fatalf("batches = %v, want one final-flush batch", store.batches)
	}
	texts := make([]string, 0, len(store.batches[0]))
	for _, p := range store.batches[0] {
		texts = append(texts, p.Text)
	}
	want := []string{"matcha time", "coffee again"}
	if len(texts) != len(want) || texts[0] != want[0] || texts[1] != want[1] {
		t.Errorf("persisted texts = %v, want %v", texts, want)
	}
}

func TestDriverRefreshSkipsRecompileWhenUnchanged(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 2, 3, 15, 0, 0, 0, time.UTC)}

	var fetches int
	fetch := func(context.Context) (map[string]struct{}, error) {
		fetches++
		return map[string]struct{}{"matcha": {}}, nil
	}

	store := &fakeStore{}
	stream := &fakeStream{
		posts: []*domain.FeedPost{
			feedPost("did:plc:1", "a", "matcha time"),
			feedPost("did:plc:2", "b", "more matcha"),
		},
		advances: []time.Duration{0, 61 * time.Second},
		clock:    clock,
	}
	persister := NewPersister(store, 100, nil, zap.NewNop())
	counters := &Counters{}
	d := NewDriver(stream, fetch, func(string) float64 { return 0 }, persister, time.Minute, counters, zap.NewNop())
	d.now = clock.Now

	if err := runDriver(t, stream, d); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fetches != 2 {
		t.Fatalf("fetch called %d times, want 2", fetches)
	}
	if got := counters.KeywordRefreshes.Load(); got != 0 {
		t.Errorf("KeywordRefreshes = %d, want 0 for an unchanged set", got)
	}
}

func TestDriverFlushesBufferOnShutdown(t *testing.T) {
	store := &fakeStore{}
	stream := &fakeStream{
		posts: []*domain.FeedPost{
			feedPost("did:plc:1", "a", "matcha one"),
			feedPost("did:plc:2", "b", "matcha two"),
		},
	}
	// Batch size larger than the stream: everything should arrive via the
	// final flush.
	persister := NewPersister(store, 100, nil, zap.NewNop())
	d := NewDriver(stream, fixedFetch("matcha"), func(string) float64 { return 0 }, persister, time.Minute, nil, zap.NewNop())

	if err := runDriver(t, stream, d); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.batches) != 1 || len(store.batches[0]) != 2 {
		t.Fatalf("batches = %v, want one final flush of 2", store.batches)
	}
}

func TestDriverInitialFetchErrorPropagates(t *testing.T) {
	fetchErr := errors.New("keywords table unavailable")
	fetch := func(context.Context) (map[string]struct{}, error) {
		return nil, fetchErr
	}
	stream := &fakeStream{}
	persister := NewPersister(&fakeStore{}, 10, nil, zap.NewNop())
	d := NewDriver(stream, fetch, func(string) float64 { return 0 }, persister, time.Minute, nil, zap.NewNop())

	err := runDriver(t, stream, d)
	if !errors.Is(err, fetchErr) {
		t.Fatalf("Run error = %v, want wrapped %v", err, fetchErr)
	}
}

func TestDriverReadErrorPropagates(t *testing.T) {
	readErr := errors.New("connection reset by peer")
	stream := &erroringStream{err: readErr}
	store := &fakeStore{}
	persister := NewPersister(store, 10, nil, zap.NewNop())
	d := NewDriver(stream, fixedFetch("matcha"), func(string) float64 { return 0 }, persister, time.Minute, nil, zap.NewNop())

	err := d.Run(context.Background())
	if !errors.Is(err, readErr) {
		t.Fatalf("Run error = %v, want wrapped %v", err, readErr)
	}
	// Failed runs do not flush; the supervisor restart re-ingests safely.
	if len(store.batches) != 0 {
		t.Errorf("batches = %v, want none after a failed run", store.batches)
	}
}

type erroringStream struct {
	err error
}

func (s *erroringStream) Next(context.Context) (*domain.FeedPost, error) {
	return nil, s.err
}

func TestDriverStatsLogReportsFlushes(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	clock := &fakeClock{t: time.Date(2026, 2, 3, 15, 0, 0, 0, time.UTC)}
	store := &fakeStore{}
	stream := &fakeStream{
		posts: []*domain.FeedPost{
			feedPost("did:plc:1", "a", "matcha one"),
			feedPost("did:plc:2", "b", "matcha two"),
		},
		// Second post lands past the stats interval, forcing a stats line.
		advances: []time.Duration{0, 31 * time.Second},
		clock:    clock,
	}
	counters := &Counters{}
	// Batch size 1: every matched post flushes immediately.
	persister := NewPersister(store, 1, counters, zap.NewNop())
	d := NewDriver(stream, fixedFetch("matcha"), func(string) float64 { return 0 }, persister, time.Hour, counters, zap.New(core))
	d.now = clock.Now

	if err := runDriver(t, stream, d); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries := logs.FilterMessage("pipeline stats").All()
	if len(entries) != 1 {
		t.Fatalf("got %d stats log lines, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if got := fields["batches_flushed"]; got != int64(2) {
		t.Errorf("batches_flushed = %v, want 2", got)
	}
	if got := fields["posts_read"]; got != int64(2) {
		t.Errorf("posts_read = %v, want 2", got)
	}
}

func TestDriverFallsBackToIngestClockOnBadTimestamp(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 2, 3, 15, 0, 0, 0, time.UTC)}
	store := &fakeStore{}
	post := feedPost("did:plc:1", "a", "matcha time")
	post.CreatedAt = "not a timestamp"
	stream := &fakeStream{posts: []*domain.FeedPost{post}}
	persister := NewPersister(store, 100, nil, zap.NewNop())
	d := NewDriver(stream, fixedFetch("matcha"), func(string) float64 { return 0 }, persister, time.Minute, nil, zap.NewNop())
	d.now = clock.Now

	if err := runDriver(t, stream, d); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.batches) != 1 || len(store.batches[0]) != 1 {
		t.Fatalf("batches = %v, want one batch of 1", store.batches)
	}
	if got := store.batches[0][0].PostedAt; !got.Equal(clock.t) {
		t.Errorf("PostedAt = %v, want ingestion clock %v", got, clock.t)
	}
}
