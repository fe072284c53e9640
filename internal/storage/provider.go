// Package storage defines where crawl artifacts end up. Listing records go to
// a crawler.Sink (see the mongo, postgres, redis and memory subpackages) and
// raw listing pages go to a BlobStore through PageArchiver.
package storage

import (
	"context"
	"io"
)

// BlobStore abstracts object storage for archived pages
// (Google Cloud Storage, the local filesystem, or memory).
type BlobStore interface {
	// PutObject writes r to path and returns a URI for the stored object.
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}
