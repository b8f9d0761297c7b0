package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Source errors
var (
	ErrVideoUnavailable = errors.New("source video is unavailable")
	ErrSourceTransient  = errors.New("source video download failed")
	ErrVideoTooLarge    = errors.New("source video exceeds the download limit")
)

// DefaultMaxVideoSize bounds a single download
const DefaultMaxVideoSize = 512 << 20

// Object is a downloaded source video
type Object struct {
	Data        []byte
	ContentType string
}

type bucket interface {
	KeyFromURL(rawURL string) (string, bool)
	Fetch(ctx context.Context, key string) (*Object, error)
}

// VideoSource downloads source videos for platforms that need the bytes.
// URLs under the bucket's public URL are read through S3, others over HTTP.
type VideoSource struct {
	bucket     bucket
	httpClient *http.Client
	maxSize    int64
}

// NewVideoSource creates a video source. A nil bucket downloads everything over HTTP.
func NewVideoSource(objects *S3Storage, httpClient *http.Client) *VideoSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	vs := &VideoSource{httpClient: httpClient, maxSize: DefaultMaxVideoSize}
	if objects != nil {
		vs.bucket = objects
	}
	return vs
}

// Fetch downloads the video at rawURL
func (v *VideoSource) Fetch(ctx context.Context, rawURL string) (*Object, error) {
	if v.bucket != nil {
		if key, ok := v.bucket.KeyFromURL(rawURL); ok {
			return v.bucket.Fetch(ctx, key)
		}
	}
	return v.fetchHTTP(ctx, rawURL)
}

func (v *VideoSource) fetchHTTP(ctx context.Context, rawURL string) (*Object, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVideoUnavailable, err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrSourceTransient, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", ErrVideoUnavailable, resp.StatusCode)
	}

	data, err := readLimited(resp.Body, v.maxSize)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	return &Object{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// readLimited reads at most max bytes, failing with ErrVideoTooLarge beyond that
func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceTransient, err)
	}
	if int64(len(data)) > max {
		return nil, ErrVideoTooLarge
	}
	return data, nil
}
