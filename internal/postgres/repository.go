// Package postgres implements the keyword source and the batch post store
// against PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/trendsift/trendsift/internal/domain"
)

// Repository implements domain.PostBatchStore and domain.KeywordRepository
// using PostgreSQL. The connection is single-owner: only the pipeline talks
// to it, one call at a time.
type Repository struct {
	db *sqlx.DB
}

// NewRepository connects to PostgreSQL at the given URL, verifies the
// connection, and returns a new Repository. The caller should call Close
// when the repository is no longer needed.
func NewRepository(databaseURL string) (*Repository, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// ApplyMigrations brings the schema up to date from the SQL files under
// migrationsPath. Running against an up-to-date schema is a no-op.
func ApplyMigrations(databaseURL, migrationsPath string) error {
	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return fmt.Errorf("close migration source: %w", srcErr)
	}
	if dbErr != nil {
		return fmt.Errorf("close migration database: %w", dbErr)
	}
	return nil
}

// FetchKeywords returns the distinct tracked keyword values.
func (r *Repository) FetchKeywords(ctx context.Context) (map[string]struct{}, error) {
	var values []string
	if err := r.db.SelectContext(ctx, &values,
		`SELECT DISTINCT keyword_value FROM keywords`,
	); err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}

	keywords := make(map[string]struct{}, len(values))
	for _, v := range values {
		keywords[v] = struct{}{}
	}
	return keywords, nil
}

// SaveBatch writes a batch of matched posts and their keyword matches in one
// transaction: a bulk insert into bluesky_posts keyed by post URI, then a
// bulk insert of the distinct (URI, keyword) pairs into matches. Both skip
// rows that already exist, so re-saving the same batch is a no-op.
func (r *Repository) SaveBatch(ctx context.Context, posts []domain.MatchedPost) error {
	if len(posts) == 0 {
		return nil
	}

	postsQuery, postsArgs, err := buildPostInsert(posts)
	if err != nil {
		return fmt.Errorf("build post insert: %w", err)
	}
	matchQuery, matchArgs, err := buildMatchInsert(posts)
	if err != nil {
		return fmt.Errorf("build match insert: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, postsQuery, postsArgs...); err != nil {
		return fmt.Errorf("insert posts: %w", err)
	}
	if matchQuery != "" {
		if _, err := tx.ExecContext(ctx, matchQuery, matchArgs...); err != nil {
			return fmt.Errorf("insert matches: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func buildPostInsert(posts []domain.MatchedPost) (string, []interface{}, error) {
	builder := sq.Insert("bluesky_posts").
		Columns("post_uri", "posted_at", "author_did", "text", "sentiment_score", "ingested_at", "reply_uri", "repost_uri").
		PlaceholderFormat(sq.Dollar).
		Suffix("ON CONFLICT (post_uri) DO NOTHING")

	for _, p := range posts {
		builder = builder.Values(
			p.URI,
			p.PostedAt,
			p.AuthorDID,
			p.Text,
			p.SentimentScore,
			sq.Expr("NOW()"),
			nullable(p.ReplyURI),
			nullable(p.RepostURI),
		)
	}
	return builder.ToSql()
}

// buildMatchInsert fans each post out into one row per matched keyword,
// deduplicated across the batch. Returns an empty query when there are no
// pairs to insert.
func buildMatchInsert(posts []domain.MatchedPost) (string, []interface{}, error) {
	type pair struct {
		uri, keyword string
	}

	builder := sq.Insert("matches").
		Columns("post_uri", "keyword_value").
		PlaceholderFormat(sq.Dollar).
		Suffix("ON CONFLICT (post_uri, keyword_value) DO NOTHING")

	seen := make(map[pair]struct{})
	rows := 0
	for _, p := range posts {
		for _, kw := range p.Keywords {
			key := pair{uri: p.URI, keyword: kw}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			builder = builder.Values(p.URI, kw)
			rows++
		}
	}
	if rows == 0 {
		return "", nil, nil
	}
	return builder.ToSql()
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
