// Package storage mirrors harvested artifacts to a blob bucket after a
// run. The bucket is addressed by URL, so local, S3 and GCS destinations
// all work through the same code path.
package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

// Mirror uploads files into one bucket under a fixed key prefix.
type Mirror struct {
	bucket *blob.Bucket
	prefix string
}

// OpenMirror opens the bucket at url (s3://, gs:// or file://).
func OpenMirror(ctx context.Context, url, prefix string) (*Mirror, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open mirror bucket %s: %w", url, err)
	}
	return &Mirror{bucket: bucket, prefix: prefix}, nil
}

// NewMirror wraps an already-open bucket; tests use this with memblob.
func NewMirror(bucket *blob.Bucket, prefix string) *Mirror {
	return &Mirror{bucket: bucket, prefix: prefix}
}

// Upload copies one local file to the bucket under key.
func (m *Mirror) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	w, err := m.bucket.NewWriter(ctx, m.prefix+key, nil)
	if err != nil {
		return fmt.Errorf("open bucket writer for %s: %w", key, err)
	}

	if _, err := w.ReadFrom(f); err != nil {
		w.Close()
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return w.Close()
}

// UploadTree walks localRoot and uploads every regular file, keyed by its
// slash-separated path relative to the root. It returns how many files were
// uploaded; the first error aborts the walk.
func (m *Mirror) UploadTree(ctx context.Context, localRoot string) (int, error) {
	uploaded := 0

	err := filepath.WalkDir(localRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(localRoot, path)
		if err != nil {
			return err
		}

		if err := m.Upload(ctx, path, filepath.ToSlash(rel)); err != nil {
			return err
		}
		uploaded++
		return nil
	})

	if err != nil {
		return uploaded, fmt.Errorf("mirror %s: %w", localRoot, err)
	}
	return uploaded, nil
}

// Close releases the bucket.
func (m *Mirror) Close() error {
	return m.bucket.Close()
}
