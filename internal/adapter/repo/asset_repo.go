package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"lessonforge/server/internal/domain"
	"lessonforge/server/internal/infra"
	"lessonforge/server/internal/sqlinline"
)

// AssetRepositoryPG implements domain.AssetRepository using PostgreSQL.
type AssetRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewAssetRepository constructs a new asset repository instance.
func NewAssetRepository(sql infra.SQLExecutor) *AssetRepositoryPG {
	return &AssetRepositoryPG{sql: sql}
}

// UpsertAsset inserts or replaces the asset keyed on its id.
func (r *AssetRepositoryPG) UpsertAsset(ctx context.Context, asset domain.Asset) error {
	if strings.TrimSpace(asset.ID) == "" {
		return errors.New("upsert asset: id is required")
	}
	meta := asset.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("upsert asset: encode metadata: %w", err)
	}
	if _, err := r.sql.Exec(ctx, sqlinline.QUpsertAsset, asset.ID, string(asset.Kind), asset.URI, rawMeta, deref(asset.AltText)); err != nil {
		return fmt.Errorf("upsert asset %s: %w", asset.ID, err)
	}
	return nil
}

// LinkAsset attaches an asset to a content item; repeated calls with the same
// triple only touch updated_at.
func (r *AssetRepositoryPG) LinkAsset(ctx context.Context, contentID, assetID, usage string) error {
	contentID, assetID, usage = strings.TrimSpace(contentID), strings.TrimSpace(assetID), strings.TrimSpace(usage)
	if contentID == "" || assetID == "" || usage == "" {
		return errors.New("link asset: content id, asset id and usage are required")
	}
	if _, err := r.sql.Exec(ctx, sqlinline.QLinkContentAsset, contentID, assetID, usage); err != nil {
		return fmt.Errorf("link asset %s to %s: %w", assetID, contentID, err)
	}
	return nil
}

// GetAsset loads one asset.
func (r *AssetRepositoryPG) GetAsset(ctx context.Context, assetID string) (*domain.Asset, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectAssetByID, assetID)
	var asset domain.Asset
	var kind string
	var rawMeta []byte
	if err := row.Scan(&asset.ID, &kind, &asset.URI, &rawMeta, &asset.AltText, &asset.CreatedAt, &asset.UpdatedAt); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	asset.Kind = domain.AssetKind(kind)
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &asset.Metadata); err != nil {
			return nil, fmt.Errorf("decode asset metadata: %w", err)
		}
	}
	return &asset, nil
}

// ListLinks returns every asset link of a content item.
func (r *AssetRepositoryPG) ListLinks(ctx context.Context, contentID string) ([]domain.ContentAssetLink, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListContentAssets, contentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []domain.ContentAssetLink
	for rows.Next() {
		var link domain.ContentAssetLink
		if err := rows.Scan(&link.ContentID, &link.AssetID, &link.Usage, &link.CreatedAt, &link.UpdatedAt); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return links, nil
}

var _ domain.AssetRepository = (*AssetRepositoryPG)(nil)
