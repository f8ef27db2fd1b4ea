package geotiff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// HTTPRangeReader reads a remote file with HTTP range requests. ReadAt is
// stateless and safe for concurrent use; Read and Seek share an offset.
type HTTPRangeReader struct {
	ctx    context.Context
	url    string
	client *http.Client
	size   int64

	mu     sync.Mutex
	offset int64
}

// NewHTTPRangeReader issues a HEAD request to learn the size of url and
// check that the server honours byte ranges. A nil client means
// http.DefaultClient. ctx bounds every later request.
func NewHTTPRangeReader(ctx context.Context, url string, client *http.Client) (*HTTPRangeReader, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create head request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http head request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status for http head request: %s", resp.Status)
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return nil, errors.New("server does not accept byte range requests")
	}
	if resp.ContentLength <= 0 {
		return nil, errors.New("could not determine content length or file is empty")
	}

	return &HTTPRangeReader{ctx: ctx, url: url, client: client, size: resp.ContentLength}, nil
}

// Size returns the length of the remote file.
func (h *HTTPRangeReader) Size() int64 { return h.size }

func (h *HTTPRangeReader) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.offset >= h.size {
		return 0, io.EOF
	}
	n, err := h.ReadAt(p, h.offset)
	h.offset += int64(n)
	return n, err
}

func (h *HTTPRangeReader) Seek(offset int64, whence int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next, err := seekOffset(h.offset, h.size, offset, whence)
	if err != nil {
		return 0, err
	}
	h.offset = next
	return next, nil
}

// ReadAt fetches p from off with a single range request.
func (h *HTTPRangeReader) ReadAt(p []byte, off int64) (int, error) {
	n, err := clampRead(len(p), off, h.size)
	if n <= 0 || err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(h.ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+n-1))

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("expected status 206 Partial Content, got: %s", resp.Status)
	}
	read, err := io.ReadFull(resp.Body, p[:n])
	if err == nil && n < int64(len(p)) {
		err = io.EOF
	}
	return read, err
}

// clampRead returns how many of want bytes exist at off in a file of size.
func clampRead(want int, off, size int64) (int64, error) {
	if want == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("invalid offset %d", off)
	}
	if off >= size {
		return 0, io.EOF
	}
	return min(int64(want), size-off), nil
}

func seekOffset(cur, size, offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = cur + offset
	case io.SeekEnd:
		next = size + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if next < 0 {
		return 0, errors.New("cannot seek to negative offset")
	}
	return next, nil
}
