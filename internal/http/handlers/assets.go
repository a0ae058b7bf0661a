package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"lessonforge/server/internal/domain"
	"lessonforge/server/internal/storage"
	"lessonforge/server/pkg/zip"
)

func (a *App) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := a.Assets.GetAsset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.repoError(w, err, "failed to load asset")
		return
	}
	a.json(w, http.StatusOK, asset)
}

// ContentAssets lists the assets linked to one content item.
func (a *App) ContentAssets(w http.ResponseWriter, r *http.Request) {
	links, err := a.Assets.ListLinks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.repoError(w, err, "failed to list content assets")
		return
	}
	if links == nil {
		links = []domain.ContentAssetLink{}
	}
	a.json(w, http.StatusOK, map[string]any{"links": links})
}

// ContentBundle downloads every linked asset of a content item as one zip,
// laid out as <usage>/<asset id><ext>.
func (a *App) ContentBundle(w http.ResponseWriter, r *http.Request) {
	if a.Blobs == nil {
		a.error(w, http.StatusNotImplemented, "not_implemented", "blob storage is not readable")
		return
	}
	contentID := chi.URLParam(r, "id")
	links, err := a.Assets.ListLinks(r.Context(), contentID)
	if err != nil {
		a.repoError(w, err, "failed to list content assets")
		return
	}

	entries := make([]zip.Entry, 0, len(links))
	for _, link := range links {
		asset, err := a.Assets.GetAsset(r.Context(), link.AssetID)
		if err != nil {
			a.Logger.Warn().Err(err).Str("asset_id", link.AssetID).Msg("assets: bundle skipped asset")
			continue
		}
		storagePath, _ := asset.Metadata["storage_path"].(string)
		if storagePath == "" {
			continue
		}
		data, err := a.Blobs.Read(r.Context(), storagePath)
		if err != nil {
			if !errors.Is(err, storage.ErrObjectNotFound) {
				a.Logger.Error().Err(err).Str("asset_id", asset.ID).Msg("assets: bundle read failed")
				a.error(w, http.StatusBadGateway, "storage", "failed to read asset")
				return
			}
			a.Logger.Warn().Str("asset_id", asset.ID).Str("storage_path", storagePath).Msg("assets: bundle object missing")
			continue
		}
		entries = append(entries, zip.Entry{
			Name:     path.Join(link.Usage, asset.ID+path.Ext(storagePath)),
			Data:     data,
			Modified: asset.UpdatedAt,
		})
	}
	if len(entries) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no stored assets for content")
		return
	}

	var buf bytes.Buffer
	if err := zip.Write(&buf, entries); err != nil {
		a.Logger.Error().Err(err).Msg("assets: bundle archive failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", contentID+"-assets.zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
