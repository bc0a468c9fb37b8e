// Package pictures stores listing images and hands back the reference that
// is saved on the listing.
package pictures

import (
	"context"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"
)

type Store interface {
	// Save writes data under key and returns the public reference.
	Save(ctx context.Context, key, contentType string, data []byte) (string, error)
	// Delete removes the object behind a reference returned by Save.
	Delete(ctx context.Context, ref string) error
}

// NewKey builds a unique object key for an upload, keeping a sane extension.
func NewKey(filename, contentType string) string {
	ext := strings.ToLower(path.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
	default:
		ext = ""
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	return "listings/" + uuid.NewString() + ext
}
