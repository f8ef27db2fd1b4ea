package geotiff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"

	"gocloud.dev/blob"
)

// OpenLocation opens the GeoTIFF at location, which is one of
//
//	https://host/path/file.tif     HTTP range requests
//	s3://bucket/key?region=eu-west-1, gs://bucket/key, file:///dir/file.tif
//	                               gocloud.dev buckets (drivers must be linked in)
//	/dir/file.tif                  local file
//
// The returned close function releases the underlying reader.
func OpenLocation(ctx context.Context, location string, cacheSize int64, itemsToPrune uint32) (*GeoTIFF, func() error, error) {
	r, closeFn, err := openReader(ctx, location)
	if err != nil {
		return nil, nil, err
	}
	g, err := Open(r, cacheSize, itemsToPrune)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("%s: %w", location, err)
	}
	slog.Debug("opened geotiff", "location", location, "width", g.width, "height", g.height,
		"tile_width", g.tileWidth, "tile_height", g.tileHeight, "bigtiff", g.isBigTIFF)
	return g, closeFn, nil
}

func openReader(ctx context.Context, location string) (io.ReadSeeker, func() error, error) {
	noop := func() error { return nil }

	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		r, err := NewHTTPRangeReader(ctx, location, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create HTTP reader for %s: %w", location, err)
		}
		return r, noop, nil
	}

	if strings.Contains(location, "://") {
		bucketURL, key, err := splitBlobURL(location)
		if err != nil {
			return nil, nil, err
		}
		bucket, err := blob.OpenBucket(ctx, bucketURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bucket %s: %w", bucketURL, err)
		}
		r, err := NewBlobReader(ctx, bucket, key)
		if err != nil {
			bucket.Close()
			return nil, nil, err
		}
		return r, bucket.Close, nil
	}

	f, err := os.Open(location)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open local file: %w", err)
	}
	return f, f.Close, nil
}

// splitBlobURL separates a bucket URL from the object key. file:// URLs use
// the parent directory as the bucket.
func splitBlobURL(location string) (bucketURL, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("invalid location %q: %w", location, err)
	}
	if u.Scheme == "file" {
		dir, base := path.Split(u.Path)
		if base == "" {
			return "", "", errors.New("file location has no file name")
		}
		u.Path = strings.TrimSuffix(dir, "/")
		return u.String(), base, nil
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("location %q has no object key", location)
	}
	u.Path = ""
	return u.String(), key, nil
}
