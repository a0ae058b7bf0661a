package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const unlinkedSegment = "unlinked"

// Slug folds s to a lowercase ASCII path segment: accents are stripped and
// every run of other characters becomes a single dash. An empty result
// yields fallback.
func Slug(s, fallback string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	if b.Len() == 0 {
		return fallback
	}
	return b.String()
}

// contentSegment keeps the readable slug of a content id and appends a short
// digest of the raw trimmed value, so ids whose slugs coincide stay distinct.
func contentSegment(contentID string) string {
	trimmed := strings.TrimSpace(contentID)
	if trimmed == "" {
		return unlinkedSegment
	}
	sum := sha256.Sum256([]byte(trimmed))
	return Slug(trimmed, "content") + "-" + hex.EncodeToString(sum[:4])
}

// DeriveAssetID builds the asset id used when a job does not carry one. It
// is a pure function of its inputs at millisecond resolution.
func DeriveAssetID(contentID, kind string, generatedAt time.Time) string {
	return fmt.Sprintf("%s-%s-%d", contentSegment(contentID), Slug(kind, "asset"), generatedAt.UnixMilli())
}

// StoragePath scopes an upload by content, kind and generation time.
func StoragePath(contentID, kind string, generatedAt time.Time, ext string) string {
	return fmt.Sprintf("%s/%s/%d%s", contentSegment(contentID), Slug(kind, "asset"), generatedAt.UnixMilli(), ext)
}
