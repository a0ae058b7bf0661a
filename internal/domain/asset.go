package domain

import "time"

// AssetKind enumerates broad asset types. Generated jobs carry a free-form
// kind ("hero", "sticker", ...); the stored asset kind is one of these.
type AssetKind string

const (
	AssetKindImage AssetKind = "image"
	AssetKindFile  AssetKind = "file"
)

// Asset is a durable, storage-backed generated artifact.
type Asset struct {
	ID        string         `json:"id"`
	Kind      AssetKind      `json:"kind"`
	URI       string         `json:"uri"`
	Metadata  map[string]any `json:"metadata"`
	AltText   *string        `json:"alt_text,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ContentAssetLink attaches an asset to a content item under a usage tag.
type ContentAssetLink struct {
	ContentID string    `json:"content_id"`
	AssetID   string    `json:"asset_id"`
	Usage     string    `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
