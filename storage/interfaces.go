package storage

import (
	"context"

	"github.com/Neels-v-Wyk/EntoMLgist/core"
)

// Store provides durable, idempotent persistence for harvested records.
// Implementations must be thread-safe and support concurrent access.
type Store interface {
	// UpsertPosts inserts new posts and refreshes the score of existing ones
	// in one transaction. Title and DiscoveredAt are assigned on first insert
	// and never overwritten; only the score is mutable. Score refreshes are
	// last-write-wins guarded by RefreshedAt: an update carrying an older
	// RefreshedAt than the stored row is ignored. Safe under repeated calls
	// with identical input.
	UpsertPosts(ctx context.Context, posts ...*core.Post) error

	// UpsertComments inserts comments in one transaction. Duplicate
	// identifiers within or across calls are merged, not errored: the body
	// and score of an existing comment are refreshed in place.
	UpsertComments(ctx context.Context, comments ...*core.Comment) error

	// UpsertImageRefs inserts image references in one transaction. For an
	// existing reference the URL and extension are refreshed only while it
	// is not downloaded; the downloaded flag and local path are never
	// touched here.
	UpsertImageRefs(ctx context.Context, refs ...*core.ImageRef) error

	// GetPost retrieves a single post by ID.
	// Returns ErrNotFound if the post doesn't exist.
	GetPost(ctx context.Context, postID string) (*core.Post, error)

	// ListPostIDs returns all stored post IDs ordered by discovery time
	// ascending, oldest first.
	ListPostIDs(ctx context.Context) ([]string, error)

	// SelectDownloadCandidates returns the image references whose owning
	// post has at least minScore upvotes and minComments stored comments,
	// and that have not been downloaded yet. The aggregate is computed
	// server-side in a single query, never per candidate. Results are
	// ordered by post discovery time ascending, then image ID.
	SelectDownloadCandidates(ctx context.Context, minScore int64, minComments int) ([]*core.ImageRef, error)

	// MarkDownloaded transitions a reference to downloaded and records its
	// local path. The transition is one-way: a second call for the same
	// reference returns ErrAlreadyDownloaded, and an unknown reference
	// returns ErrNotFound.
	MarkDownloaded(ctx context.Context, imageID, localPath string) error

	// Stats reports row counts for the run summary.
	Stats(ctx context.Context) (*Stats, error)

	// Close closes the store and releases resources.
	Close() error
}

// Stats holds the row counts reported by Store.Stats.
type Stats struct {
	Posts      int64
	Comments   int64
	ImageRefs  int64
	Downloaded int64
}
