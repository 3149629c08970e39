package selection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Neels-v-Wyk/EntoMLgist/core"
	"github.com/Neels-v-Wyk/EntoMLgist/storage/memstore"
)

func seedStore(t *testing.T) *memstore.Store {
	t.Helper()

	s := memstore.NewStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Post A clears both thresholds; Post B has plenty of comments but too
	// low a score.
	require.NoError(t, s.UpsertPosts(ctx,
		&core.Post{ID: "a", Title: "post a", Score: 10, DiscoveredAt: base, RefreshedAt: base},
		&core.Post{ID: "b", Title: "post b", Score: 3, DiscoveredAt: base.Add(time.Minute), RefreshedAt: base},
	))

	var comments []*core.Comment
	for i := 0; i < 5; i++ {
		comments = append(comments, &core.Comment{
			ID:     "a" + string(rune('0'+i)),
			PostID: "a",
			Body:   "comment",
			Score:  1,
		})
	}
	for i := 0; i < 10; i++ {
		comments = append(comments, &core.Comment{
			ID:     "b" + string(rune('0'+i)),
			PostID: "b",
			Body:   "comment",
			Score:  1,
		})
	}
	require.NoError(t, s.UpsertComments(ctx, comments...))

	require.NoError(t, s.UpsertImageRefs(ctx,
		&core.ImageRef{ID: "imga", PostID: "a", URL: "https://i.example.com/a.jpg", Extension: "jpg"},
		&core.ImageRef{ID: "imgb", PostID: "b", URL: "https://i.example.com/b.jpg", Extension: "jpg"},
	))

	t.Cleanup(func() { s.Close() })
	return s
}

func TestEngine_ThresholdSelection(t *testing.T) {
	s := seedStore(t)

	engine, err := NewEngine(s, NewConfig(WithMinScore(5), WithMinComments(2)))
	require.NoError(t, err)

	refs, err := engine.Candidates(context.Background())
	require.NoError(t, err)

	// Post B's comment count does not compensate for its score.
	require.Len(t, refs, 1)
	assert.Equal(t, "imga", refs[0].ID)
	assert.Equal(t, "a", refs[0].PostID)
}

func TestEngine_AllBypassesThresholds(t *testing.T) {
	s := seedStore(t)

	engine, err := NewEngine(s, NewConfig(WithMinScore(5), WithMinComments(2), WithAll(true)))
	require.NoError(t, err)

	refs, err := engine.Candidates(context.Background())
	require.NoError(t, err)
	assert.Len(t, refs, 2)
}

func TestEngine_DownloadedExcluded(t *testing.T) {
	s := seedStore(t)
	require.NoError(t, s.MarkDownloaded(context.Background(), "imga", "/data/a-imga.jpg"))

	engine, err := NewEngine(s, NewConfig(WithMinScore(5), WithMinComments(2)))
	require.NoError(t, err)

	refs, err := engine.Candidates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, refs, "downloaded refs never reappear as candidates")
}

func TestEngine_DefaultThresholds(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, int64(5), cfg.MinScore)
	assert.Equal(t, 3, cfg.MinComments)
	assert.False(t, cfg.All)
}

func TestNewEngine_Validation(t *testing.T) {
	t.Run("missing store", func(t *testing.T) {
		_, err := NewEngine(nil, nil)
		assert.ErrorIs(t, err, ErrStoreRequired)
	})

	t.Run("negative score threshold", func(t *testing.T) {
		_, err := NewEngine(memstore.NewStore(), NewConfig(WithMinScore(-1)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "MinScore")
	})

	t.Run("negative comment threshold", func(t *testing.T) {
		_, err := NewEngine(memstore.NewStore(), NewConfig(WithMinComments(-1)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "MinComments")
	})

	t.Run("nil config uses defaults", func(t *testing.T) {
		engine, err := NewEngine(memstore.NewStore(), nil)
		require.NoError(t, err)
		assert.NotNil(t, engine)
	})
}
