package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/marlapps/marlapps/internal/registry"
)

// VersionPath is the build descriptor document, published alongside the
// shell resources and always fetched with cache bypass.
const VersionPath = "version.json"

// VersionDescriptor is the published build record.
type VersionDescriptor struct {
	Version   int    `json:"version"`
	BuildDate string `json:"buildDate"`
}

// Source is where the shell updates itself from: the version descriptor,
// the manifest resource list, and the resources themselves.
type Source interface {
	// LatestVersion fetches the version descriptor, bypassing every cache
	// along the way.
	LatestVersion(ctx context.Context) (*VersionDescriptor, error)

	// ManifestURLs returns the full resource list for a new generation.
	ManifestURLs(ctx context.Context) ([]string, error)

	// Fetch performs a live network fetch of one resource. cacheable is
	// true only for successful same-origin responses.
	Fetch(ctx context.Context, resource string) (e *Entry, cacheable bool, err error)
}

// HTTPSource fetches shell resources over HTTP from a base URL.
type HTTPSource struct {
	baseURL string
	host    string
	client  *http.Client
	loader  *registry.Loader
}

// NewHTTPSource creates a source rooted at baseURL.
func NewHTTPSource(baseURL string) (*HTTPSource, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse source url: %w", err)
	}
	return &HTTPSource{
		baseURL: baseURL,
		host:    u.Host,
		client:  &http.Client{Timeout: 30 * time.Second},
		loader:  registry.NewLoader(baseURL),
	}, nil
}

// LatestVersion fetches version.json with a no-cache header and a
// cache-buster query so no intermediary can serve a stale copy.
func (s *HTTPSource) LatestVersion(ctx context.Context) (*VersionDescriptor, error) {
	url := fmt.Sprintf("%s/%s?t=%d", s.baseURL, VersionPath, time.Now().UnixMilli())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: build version request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cache: fetch version: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cache: fetch version: unexpected status %d", resp.StatusCode)
	}

	var desc VersionDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return nil, fmt.Errorf("cache: decode version: %w", err)
	}
	return &desc, nil
}

// ManifestURLs loads the registry and derives the shell manifest from it.
func (s *HTTPSource) ManifestURLs(ctx context.Context) ([]string, error) {
	apps, err := s.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	return ShellManifest(apps), nil
}

// Fetch performs a live fetch of one resource. The whole body is read so
// the entry can be both cached and returned.
func (s *HTTPSource) Fetch(ctx context.Context, resource string) (*Entry, bool, error) {
	url := s.baseURL + "/" + strings.TrimPrefix(resource, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("cache: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("cache: fetch %s: %w", resource, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("cache: read %s: %w", resource, err)
	}

	entry := &Entry{
		URL:         resource,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}

	// Only successful responses that stayed on our origin are safe to
	// cache; anything else is forwarded to the caller uncached.
	cacheable := resp.StatusCode == http.StatusOK &&
		resp.Request != nil && resp.Request.URL.Host == s.host

	return entry, cacheable, nil
}
