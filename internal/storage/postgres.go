package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/deusflow/readcopilot/internal/news"
)

// PostgresStore keeps feeds and article pages in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects, pings and makes sure the schema exists.
func NewPostgresStore(ctx context.Context, connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (ps *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS feeds (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		ai_summary_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		full_text_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		tags TEXT[] NOT NULL DEFAULT '{}',
		updated TEXT NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL DEFAULT 'Active',
		remarks TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS articles (
		id UUID PRIMARY KEY,
		title TEXT NOT NULL,
		link TEXT UNIQUE NOT NULL,
		date TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL REFERENCES feeds(id),
		tags TEXT[] NOT NULL DEFAULT '{}',
		summary TEXT NOT NULL DEFAULT '',
		blocks JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_articles_source ON articles(source);
	`

	if _, err := ps.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SeedFeeds inserts feeds that are not yet present.
func (ps *PostgresStore) SeedFeeds(ctx context.Context, feeds []news.FeedSource) error {
	query := `
		INSERT INTO feeds (id, title, url, enabled, ai_summary_enabled, full_text_enabled, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	for _, f := range feeds {
		_, err := ps.db.ExecContext(ctx, query, f.ID, f.Title, f.URL, f.Enabled, f.AISummaryEnabled, f.FullTextEnabled, pq.Array(nonNil(f.Tags)))
		if err != nil {
			return fmt.Errorf("failed to seed feed %s: %w", f.URL, err)
		}
	}
	return nil
}

func (ps *PostgresStore) QueryEnabledFeeds(ctx context.Context) ([]news.FeedSource, error) {
	return ps.queryFeeds(ctx, "WHERE enabled")
}

// AllFeeds lists every feed, enabled or not.
func (ps *PostgresStore) AllFeeds(ctx context.Context) ([]news.FeedSource, error) {
	return ps.queryFeeds(ctx, "")
}

func (ps *PostgresStore) queryFeeds(ctx context.Context, where string) ([]news.FeedSource, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT id, title, url, enabled, ai_summary_enabled, full_text_enabled, tags, updated, status, remarks
		FROM feeds `+where+`
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query feeds: %w", err)
	}
	defer rows.Close()

	var feeds []news.FeedSource
	for rows.Next() {
		var f news.FeedSource
		var status string
		err := rows.Scan(&f.ID, &f.Title, &f.URL, &f.Enabled, &f.AISummaryEnabled, &f.FullTextEnabled,
			pq.Array(&f.Tags), &f.Updated, &status, &f.Remarks)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed: %w", err)
		}
		f.Status = news.FeedStatus(status)
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

func (ps *PostgresStore) ExistingLinks(ctx context.Context, links []string) ([]string, error) {
	if len(links) == 0 {
		return nil, nil
	}
	rows, err := ps.db.QueryContext(ctx, `SELECT link FROM articles WHERE link = ANY($1)`, pq.Array(links))
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) CreateArticlePage(ctx context.Context, a news.Article, blocks []news.Block) (string, error) {
	if len(blocks) > MaxBlocksPerRequest {
		return "", fmt.Errorf("%d blocks exceeds the per-request limit of %d", len(blocks), MaxBlocksPerRequest)
	}
	data, err := json.Marshal(nonNilBlocks(blocks))
	if err != nil {
		return "", fmt.Errorf("failed to marshal blocks: %w", err)
	}

	id := uuid.NewString()
	_, err = ps.db.ExecContext(ctx, `
		INSERT INTO articles (id, title, link, date, source, tags, summary, blocks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, a.Title, a.Link, a.Date, a.Source, pq.Array(nonNil(a.Tags)), a.Summary, string(data))
	if err != nil {
		return "", fmt.Errorf("failed to insert article: %w", err)
	}
	return id, nil
}

func (ps *PostgresStore) AppendBlocks(ctx context.Context, pageID string, blocks []news.Block) error {
	if len(blocks) > MaxBlocksPerRequest {
		return fmt.Errorf("%d blocks exceeds the per-request limit of %d", len(blocks), MaxBlocksPerRequest)
	}
	data, err := json.Marshal(nonNilBlocks(blocks))
	if err != nil {
		return fmt.Errorf("failed to marshal blocks: %w", err)
	}
	res, err := ps.db.ExecContext(ctx, `UPDATE articles SET blocks = blocks || $2::jsonb WHERE id = $1`, pageID, string(data))
	if err != nil {
		return fmt.Errorf("failed to append blocks: %w", err)
	}
	return expectOneRow(res, "page", pageID)
}

func (ps *PostgresStore) UpdateFeedStatus(ctx context.Context, feedID string, u FeedStatusUpdate) error {
	res, err := ps.db.ExecContext(ctx, `
		UPDATE feeds
		SET status = $2, updated = $3, remarks = $4, title = COALESCE(NULLIF($5::text, ''), title)
		WHERE id = $1
	`, feedID, string(u.Status), u.Updated, u.Remarks, u.Title)
	if err != nil {
		return fmt.Errorf("failed to update feed status: %w", err)
	}
	return expectOneRow(res, "feed", feedID)
}

func (ps *PostgresStore) UpdateArticleSummary(ctx context.Context, pageID, summary string) error {
	res, err := ps.db.ExecContext(ctx, `UPDATE articles SET summary = $2 WHERE id = $1`, pageID, summary)
	if err != nil {
		return fmt.Errorf("failed to update summary: %w", err)
	}
	return expectOneRow(res, "page", pageID)
}

// Close closes the database connection
func (ps *PostgresStore) Close() error {
	if ps.db != nil {
		return ps.db.Close()
	}
	return nil
}

func expectOneRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return fmt.Errorf("%s %s not found", what, id)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilBlocks(b []news.Block) []news.Block {
	if b == nil {
		return []news.Block{}
	}
	return b
}
