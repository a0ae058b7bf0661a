package repo

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonforge/server/internal/domain"
	"lessonforge/server/internal/infra/sqltest"
	"lessonforge/server/internal/sqlinline"
)

func TestUpsertAssetEncodesMetadata(t *testing.T) {
	exec := &sqltest.Executor{}
	repo := NewAssetRepository(exec)

	err := repo.UpsertAsset(context.Background(), domain.Asset{
		ID:       "lesson-42-hero-1",
		Kind:     domain.AssetKindImage,
		URI:      "http://cdn/content-assets/lesson-42/hero/1.png",
		Metadata: map[string]any{"bucket": "content-assets"},
	})
	require.NoError(t, err)

	calls := exec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, sqlinline.QUpsertAsset, calls[0].Query)
	assert.Equal(t, "image", calls[0].Args[1])
	raw, ok := calls[0].Args[3].([]byte)
	require.True(t, ok)
	assert.JSONEq(t, `{"bucket":"content-assets"}`, string(raw))
}

func TestUpsertAssetRequiresID(t *testing.T) {
	exec := &sqltest.Executor{}
	repo := NewAssetRepository(exec)

	require.Error(t, repo.UpsertAsset(context.Background(), domain.Asset{Kind: domain.AssetKindImage}))
	assert.Empty(t, exec.Calls())
}

func TestLinkAssetTrimsAndValidates(t *testing.T) {
	exec := &sqltest.Executor{}
	repo := NewAssetRepository(exec)

	require.NoError(t, repo.LinkAsset(context.Background(), " lesson-42 ", "asset-1", "hero"))
	require.Error(t, repo.LinkAsset(context.Background(), "lesson-42", "asset-1", " "))

	calls := exec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []any{"lesson-42", "asset-1", "hero"}, calls[0].Args)
}

func TestGetAssetDecodesMetadata(t *testing.T) {
	meta, _ := json.Marshal(map[string]any{"storage_path": "lesson-42/hero/1.png"})
	exec := &sqltest.Executor{
		QueryRowFn: func(string, []any) pgx.Row {
			return sqltest.NewRow("asset-1", "image", "http://x/1.png", meta, nil, baseTime, baseTime)
		},
	}
	repo := NewAssetRepository(exec)

	asset, err := repo.GetAsset(context.Background(), "asset-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AssetKindImage, asset.Kind)
	assert.Equal(t, "lesson-42/hero/1.png", asset.Metadata["storage_path"])
	assert.Nil(t, asset.AltText)
}

func TestGetAssetNotFound(t *testing.T) {
	repo := NewAssetRepository(&sqltest.Executor{})

	_, err := repo.GetAsset(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListLinks(t *testing.T) {
	exec := &sqltest.Executor{
		QueryFn: func(string, []any) (pgx.Rows, error) {
			return sqltest.NewRows(
				[]any{"lesson-42", "asset-1", "hero", baseTime, baseTime},
				[]any{"lesson-42", "asset-2", "thumbnail", baseTime, baseTime},
			), nil
		},
	}
	repo := NewAssetRepository(exec)

	links, err := repo.ListLinks(context.Background(), "lesson-42")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "thumbnail", links[1].Usage)
}
