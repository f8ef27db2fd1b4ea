package geotiff

import (
	"context"
	"fmt"
	"io"
	"sync"

	"gocloud.dev/blob"
)

// BlobReader reads an object of a gocloud.dev bucket (S3, GCS, Azure, local
// files, memory). ReadAt is stateless; Read and Seek share an offset.
type BlobReader struct {
	ctx    context.Context
	bucket *blob.Bucket
	key    string
	size   int64

	mu     sync.Mutex
	offset int64
}

// NewBlobReader looks up the size of key in bucket.
func NewBlobReader(ctx context.Context, bucket *blob.Bucket, key string) (*BlobReader, error) {
	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get attributes for key %s: %w", key, err)
	}
	return &BlobReader{ctx: ctx, bucket: bucket, key: key, size: attrs.Size}, nil
}

// Size returns the length of the object.
func (r *BlobReader) Size() int64 { return r.size }

func (r *BlobReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.offset >= r.size {
		return 0, io.EOF
	}
	n, err := r.ReadAt(p, r.offset)
	r.offset += int64(n)
	return n, err
}

func (r *BlobReader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := seekOffset(r.offset, r.size, offset, whence)
	if err != nil {
		return 0, err
	}
	r.offset = next
	return next, nil
}

// ReadAt opens a range reader for exactly the requested span.
func (r *BlobReader) ReadAt(p []byte, off int64) (int, error) {
	n, err := clampRead(len(p), off, r.size)
	if n <= 0 || err != nil {
		return 0, err
	}

	rr, err := r.bucket.NewRangeReader(r.ctx, r.key, off, n, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create range reader: %w", err)
	}
	defer rr.Close()

	read, err := io.ReadFull(rr, p[:n])
	if err == nil && n < int64(len(p)) {
		err = io.EOF
	}
	return read, err
}
