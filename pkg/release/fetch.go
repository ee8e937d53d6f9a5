package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/chazu/slipway/pkg/manifest"
)

// maxManifestBytes bounds a downloaded prerequisite manifest
const maxManifestBytes = 64 << 20

// ErrManifestTooLarge is returned when a download exceeds the fetcher's limit
var ErrManifestTooLarge = errors.New("manifest exceeds size limit")

// Fetcher downloads prerequisite manifests over HTTP
type Fetcher struct {
	client *http.Client
	limit  int64
}

// NewFetcher creates a fetcher. A nil client gets a default with a timeout.
func NewFetcher(c *http.Client) *Fetcher {
	if c == nil {
		c = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Fetcher{client: c, limit: maxManifestBytes}
}

// WithLimit overrides the maximum accepted manifest size in bytes
func (f *Fetcher) WithLimit(limit int64) *Fetcher {
	f.limit = limit
	return f
}

// Fetch downloads url and decodes it as a manifest bundle
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]*unstructured.Unstructured, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest url %q: %w", url, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: %s", url, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	if int64(len(data)) > f.limit {
		return nil, fmt.Errorf("%s: %w (%d bytes)", url, ErrManifestTooLarge, f.limit)
	}

	objs, err := manifest.DecodeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", url, err)
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("%s: %w", url, manifest.ErrEmptyBundle)
	}
	return objs, nil
}
