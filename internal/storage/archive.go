package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/car-listing-crawler/internal/crawler"
	"github.com/JakeFAU/car-listing-crawler/internal/hash/sha256"
)

const (
	// DefaultArchivePrefix is the object prefix for archived listing pages.
	DefaultArchivePrefix = "pages"
	digestLength         = 12
	htmlContentType      = "text/html; charset=utf-8"
)

// PageArchiver stores raw listing pages in a BlobStore under
// <prefix>/<runID>/<page>-<digest>.html.
type PageArchiver struct {
	blobs  BlobStore
	prefix string
	hasher *sha256.Hasher
}

var _ crawler.PageArchive = (*PageArchiver)(nil)

// NewPageArchiver wraps blobs. An empty prefix falls back to DefaultArchivePrefix.
func NewPageArchiver(blobs BlobStore, prefix string) (*PageArchiver, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultArchivePrefix
	}
	return &PageArchiver{blobs: blobs, prefix: prefix, hasher: sha256.New()}, nil
}

// ObjectPath returns the object key used for snapshot.
func (a *PageArchiver) ObjectPath(snapshot crawler.PageSnapshot) string {
	runID := snapshot.RunID
	if runID == "" {
		runID = "unknown"
	}
	name := fmt.Sprintf("%04d-%s.html", snapshot.Page, a.hasher.Short(snapshot.Body, digestLength))
	return path.Join(a.prefix, runID, name)
}

// Archive implements crawler.PageArchive.
func (a *PageArchiver) Archive(ctx context.Context, snapshot crawler.PageSnapshot) (string, error) {
	if len(snapshot.Body) == 0 {
		return "", fmt.Errorf("archive page %d: empty body", snapshot.Page)
	}
	uri, err := a.blobs.PutObject(ctx, a.ObjectPath(snapshot), htmlContentType, bytes.NewReader(snapshot.Body))
	if err != nil {
		return "", fmt.Errorf("archive page %d: %w", snapshot.Page, err)
	}
	return uri, nil
}
