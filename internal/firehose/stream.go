// Package firehose reads post-creation events from the Bluesky Jetstream
// firehose over a single long-lived websocket connection.
package firehose

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/trendsift/trendsift/internal/domain"
	"github.com/trendsift/trendsift/internal/metrics"
)

const (
	postCollection = "app.bsky.feed.post"
	embedRecord    = "app.bsky.embed.record"
)

// Stream is one connection to the firehose. Next is single-reader and
// synchronous; Close may be called from another goroutine to unblock a
// pending read. There is no reconnect: a failed read is fatal to the run and
// recovery is left to the process supervisor.
type Stream struct {
	conn   *websocket.Conn
	logger *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// Connect dials the Jetstream endpoint, requesting only post events.
func Connect(ctx context.Context, firehoseURL string, logger *zap.Logger) (*Stream, error) {
	wsURL, err := buildURL(firehoseURL)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial firehose: %w", err)
	}

	logger.Info("connected to firehose", zap.String("url", wsURL))
	return &Stream{conn: conn, logger: logger}, nil
}

func buildURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse firehose url: %w", err)
	}
	q := u.Query()
	if len(q["wantedCollections"]) == 0 {
		q.Add("wantedCollections", postCollection)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Next blocks until the next post-creation event arrives and returns it
// decoded. Payloads that fail to decode are logged and skipped, as are
// events that are not post creations. A failed read propagates to the
// caller; the connection is not reusable after that.
func (s *Stream) Next(ctx context.Context) (*domain.FeedPost, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		_, message, err := s.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read message: %w", err)
		}
		metrics.EventsReceived.Inc()

		event, err := parseEvent(message)
		if err != nil {
			metrics.DecodeErrors.Inc()
			s.logger.Error("failed to parse event", zap.Error(err))
			continue
		}

		post, ok := postFromEvent(event)
		if !ok {
			continue
		}
		return post, nil
	}
}

// postFromEvent converts a raw event into a FeedPost, reporting false for
// anything that is not the creation of a post record.
func postFromEvent(event *jetstreamEvent) (*domain.FeedPost, bool) {
	if event.Kind != "commit" || event.Commit == nil {
		return nil, false
	}
	commit := event.Commit
	if commit.Collection != postCollection || commit.Operation != "create" || commit.Record == nil {
		return nil, false
	}

	post := &domain.FeedPost{
		AuthorDID: event.DID,
		RKey:      commit.RKey,
		Text:      commit.Record.Text,
		CreatedAt: commit.Record.CreatedAt,
	}
	if commit.Record.Reply != nil {
		post.ReplyParentURI = commit.Record.Reply.Parent.URI
	}
	if embed := commit.Record.Embed; embed != nil && embed.Type == embedRecord && embed.Record != nil {
		post.RepostURI = embed.Record.URI
	}
	return post, true
}

// Close closes the underlying connection. It is safe to call more than once
// and from a goroutine other than the reader; a blocked Next returns with an
// error once the connection is closed.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
