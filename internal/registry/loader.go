package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/marlapps/marlapps/internal/logging"
)

// RegistryPath is the registry index document, relative to the source root.
const RegistryPath = "registry/apps.json"

// Loader fetches the registry document and every visible app's manifest.
type Loader struct {
	baseURL string
	client  *http.Client
}

// NewLoader creates a loader for the given source root URL.
func NewLoader(baseURL string) *Loader {
	return &Loader{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Load fetches the registry and assembles descriptors for every visible
// app, sorted by order. A manifest that fails to load or parse skips that
// app with a warning instead of failing the whole load.
func (l *Loader) Load(ctx context.Context) ([]AppDescriptor, error) {
	log := logging.ForComponent(logging.CompRegistry)

	var doc Document
	if err := l.fetchJSON(ctx, RegistryPath, &doc); err != nil {
		return nil, fmt.Errorf("registry: load index: %w", err)
	}

	var apps []AppDescriptor
	for _, entry := range doc.Apps {
		if entry.Hidden {
			continue
		}

		var m Manifest
		manifestPath := fmt.Sprintf("apps/%s/manifest.json", entry.Folder)
		if err := l.fetchJSON(ctx, manifestPath, &m); err != nil {
			log.Warn("skipping app, manifest load failed",
				"folder", entry.Folder, "error", err)
			continue
		}

		order := entry.Order
		if order == 0 {
			order = 999
		}
		apps = append(apps, AppDescriptor{
			ID:          m.ID,
			Name:        m.Name,
			ShortName:   m.ShortName,
			Description: m.Description,
			Categories:  m.Categories,
			Entry:       m.Entry,
			Icon:        m.Icon,
			StorageKeys: m.StorageKeys,
			Folder:      entry.Folder,
			Pinned:      entry.Pinned,
			Order:       order,
		})
	}

	sort.SliceStable(apps, func(i, j int) bool { return apps[i].Order < apps[j].Order })

	log.Info("registry loaded",
		"version", doc.Version, "apps", len(apps), "total", len(doc.Apps))
	return apps, nil
}

func (l *Loader) fetchJSON(ctx context.Context, relPath string, v any) error {
	url := l.baseURL + "/" + relPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", relPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", relPath, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", relPath, err)
	}
	return nil
}
