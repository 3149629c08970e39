package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Neels-v-Wyk/EntoMLgist/core"
	"github.com/Neels-v-Wyk/EntoMLgist/storage"
)

// Store implements storage.Store on PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used by the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore connects to the database at dsn and ensures the schema exists.
// The returned Store is safe for concurrent use and must be closed by the
// caller.
func NewStore(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	s := &Store{
		pool:   pool,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// EnsureSchema creates the tables and indexes if they do not exist yet.
// It is idempotent and safe to run on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS posts (
  post_id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  upvotes BIGINT NOT NULL DEFAULT 0,
  discovered_at TIMESTAMPTZ NOT NULL,
  refreshed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_upvotes ON posts(upvotes DESC);
CREATE TABLE IF NOT EXISTS comments (
  comment_id TEXT PRIMARY KEY,
  post_id TEXT NOT NULL REFERENCES posts(post_id) ON DELETE CASCADE,
  body TEXT NOT NULL,
  upvotes BIGINT NOT NULL DEFAULT 0,
  -- populated by the downstream name-extraction stage, never by this pipeline
  extracted_name TEXT,
  extracted_name_confidence DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS idx_comments_post_id ON comments(post_id);
CREATE TABLE IF NOT EXISTS image_refs (
  image_id TEXT PRIMARY KEY,
  post_id TEXT NOT NULL REFERENCES posts(post_id) ON DELETE CASCADE,
  url TEXT NOT NULL,
  extension TEXT NOT NULL,
  downloaded BOOLEAN NOT NULL DEFAULT FALSE,
  local_path TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_image_refs_post_id ON image_refs(post_id);
CREATE INDEX IF NOT EXISTS idx_image_refs_downloaded ON image_refs(downloaded) WHERE NOT downloaded;
`)
	if err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// UpsertPosts inserts or refreshes posts in one transaction. An existing
// row keeps its title and discovered_at; only upvotes and refreshed_at are
// overwritten, and only when the incoming refreshed_at is at least as
// recent as the stored one, so delayed retries cannot roll a fresher score
// back.
func (s *Store) UpsertPosts(ctx context.Context, posts ...*core.Post) error {
	if len(posts) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, p := range posts {
		b.Queue(`
INSERT INTO posts (post_id, title, upvotes, discovered_at, refreshed_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (post_id) DO UPDATE SET
  upvotes = EXCLUDED.upvotes,
  refreshed_at = EXCLUDED.refreshed_at
WHERE EXCLUDED.refreshed_at >= posts.refreshed_at`,
			p.ID, p.Title, p.Score, p.DiscoveredAt, p.RefreshedAt)
	}

	if err := s.sendBatch(ctx, b, len(posts)); err != nil {
		return fmt.Errorf("postgres: upsert posts: %w", err)
	}
	return nil
}

// UpsertComments inserts or merges comments in one transaction. A
// duplicate identifier refreshes the stored body and upvotes in place.
func (s *Store) UpsertComments(ctx context.Context, comments ...*core.Comment) error {
	if len(comments) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, c := range comments {
		b.Queue(`
INSERT INTO comments (comment_id, post_id, body, upvotes)
VALUES ($1, $2, $3, $4)
ON CONFLICT (comment_id) DO UPDATE SET
  body = EXCLUDED.body,
  upvotes = EXCLUDED.upvotes`,
			c.ID, c.PostID, c.Body, c.Score)
	}

	if err := s.sendBatch(ctx, b, len(comments)); err != nil {
		return fmt.Errorf("postgres: upsert comments: %w", err)
	}
	return nil
}

// UpsertImageRefs inserts or refreshes image references in one
// transaction. URL, extension, and owning post follow the latest sighting
// while the reference is pending; once downloaded the row is frozen so the
// flag and recorded path survive later refreshes.
func (s *Store) UpsertImageRefs(ctx context.Context, refs ...*core.ImageRef) error {
	if len(refs) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, ref := range refs {
		b.Queue(`
INSERT INTO image_refs (image_id, post_id, url, extension)
VALUES ($1, $2, $3, $4)
ON CONFLICT (image_id) DO UPDATE SET
  post_id = EXCLUDED.post_id,
  url = EXCLUDED.url,
  extension = EXCLUDED.extension
WHERE NOT image_refs.downloaded`,
			ref.ID, ref.PostID, ref.URL, ref.Extension)
	}

	if err := s.sendBatch(ctx, b, len(refs)); err != nil {
		return fmt.Errorf("postgres: upsert image refs: %w", err)
	}
	return nil
}

// GetPost retrieves a single post by ID.
func (s *Store) GetPost(ctx context.Context, postID string) (*core.Post, error) {
	row := s.pool.QueryRow(ctx, `
SELECT post_id, title, upvotes, discovered_at, refreshed_at
FROM posts
WHERE post_id = $1`, postID)

	var p core.Post
	err := row.Scan(&p.ID, &p.Title, &p.Score, &p.DiscoveredAt, &p.RefreshedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: get post %q: %w", postID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get post %q: %w", postID, err)
	}
	return &p, nil
}

// ListPostIDs returns all stored post IDs, oldest discovery first.
func (s *Store) ListPostIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT post_id
FROM posts
ORDER BY discovered_at ASC, post_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list post ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: list post ids: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SelectDownloadCandidates returns pending image references whose post
// clears both thresholds. The comment count is aggregated in the query so
// posts without comments still qualify when minComments is zero.
func (s *Store) SelectDownloadCandidates(ctx context.Context, minScore int64, minComments int) ([]*core.ImageRef, error) {
	if minComments < 0 {
		return nil, fmt.Errorf("postgres: select candidates: %w: negative comment threshold", storage.ErrInvalidQuery)
	}

	rows, err := s.pool.Query(ctx, `
SELECT i.image_id, i.post_id, i.url, i.extension, i.downloaded, i.local_path
FROM image_refs i
JOIN posts p ON p.post_id = i.post_id
LEFT JOIN (
  SELECT post_id, COUNT(*) AS n
  FROM comments
  GROUP BY post_id
) c ON c.post_id = i.post_id
WHERE NOT i.downloaded
  AND p.upvotes >= $1
  AND COALESCE(c.n, 0) >= $2
ORDER BY p.discovered_at ASC, i.image_id ASC`,
		minScore, minComments)
	if err != nil {
		return nil, fmt.Errorf("postgres: select candidates: %w", err)
	}
	defer rows.Close()

	var refs []*core.ImageRef
	for rows.Next() {
		var ref core.ImageRef
		if err := rows.Scan(&ref.ID, &ref.PostID, &ref.URL, &ref.Extension, &ref.Downloaded, &ref.LocalPath); err != nil {
			return nil, fmt.Errorf("postgres: select candidates: %w", err)
		}
		refs = append(refs, &ref)
	}
	return refs, rows.Err()
}

// MarkDownloaded transitions an image reference to downloaded and records
// where it was written. The guard keeps the transition one-way; when no
// row changes, a follow-up read distinguishes a missing reference from one
// already downloaded.
func (s *Store) MarkDownloaded(ctx context.Context, imageID, localPath string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE image_refs
SET downloaded = TRUE, local_path = $2
WHERE image_id = $1 AND NOT downloaded`,
		imageID, localPath)
	if err != nil {
		return fmt.Errorf("postgres: mark downloaded %q: %w", imageID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var downloaded bool
	err = s.pool.QueryRow(ctx, `
SELECT downloaded FROM image_refs WHERE image_id = $1`, imageID).Scan(&downloaded)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: mark downloaded %q: %w", imageID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres: mark downloaded %q: %w", imageID, err)
	}
	return fmt.Errorf("postgres: mark downloaded %q: %w", imageID, storage.ErrAlreadyDownloaded)
}

// Stats reports row counts for the run summary.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	row := s.pool.QueryRow(ctx, `
SELECT
  (SELECT COUNT(*) FROM posts),
  (SELECT COUNT(*) FROM comments),
  (SELECT COUNT(*) FROM image_refs),
  (SELECT COUNT(*) FROM image_refs WHERE downloaded)`)

	var st storage.Stats
	if err := row.Scan(&st.Posts, &st.Comments, &st.ImageRefs, &st.Downloaded); err != nil {
		return nil, fmt.Errorf("postgres: stats: %w", err)
	}
	return &st, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// sendBatch runs a batch inside a single transaction so a partial stage
// never becomes visible.
func (s *Store) sendBatch(ctx context.Context, b *pgx.Batch, n int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, b)
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("%w: statement %d: %w", storage.ErrTransactionFailed, i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
	}
	return tx.Commit(ctx)
}
