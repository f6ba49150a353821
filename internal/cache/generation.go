package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const (
	genPrefix    = "gen-v"
	metaFileName = "meta.json"
)

// Entry is one cached response.
type Entry struct {
	URL         string `json:"url"`
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"-"`
}

// Generation is one versioned cache directory mapping request URLs to
// stored response bodies. Entry files are named by the xxhash of the URL;
// a JSON meta index carries status, content type, and a body digest that
// is verified on every read.
type Generation struct {
	build int
	dir   string

	mu      sync.RWMutex
	entries map[string]entryMeta
}

type entryMeta struct {
	URL         string `json:"url"`
	File        string `json:"file"`
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Digest      uint64 `json:"digest"`
}

// GenerationName returns the directory name for a build number.
func GenerationName(build int) string {
	return fmt.Sprintf("%s%d", genPrefix, build)
}

// NewGeneration creates an empty generation directory under cacheDir.
func NewGeneration(cacheDir string, build int) (*Generation, error) {
	dir := filepath.Join(cacheDir, GenerationName(build))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cache: create generation %d: %w", build, err)
	}
	return &Generation{build: build, dir: dir, entries: make(map[string]entryMeta)}, nil
}

// OpenGeneration loads an existing generation directory and its meta index.
// A missing or corrupt index yields an empty generation.
func OpenGeneration(cacheDir string, build int) (*Generation, error) {
	g := &Generation{
		build:   build,
		dir:     filepath.Join(cacheDir, GenerationName(build)),
		entries: make(map[string]entryMeta),
	}
	data, err := os.ReadFile(filepath.Join(g.dir, metaFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return g, nil
		}
		return nil, fmt.Errorf("cache: read meta index: %w", err)
	}
	var metas []entryMeta
	if err := json.Unmarshal(data, &metas); err != nil {
		return g, nil
	}
	for _, m := range metas {
		g.entries[m.URL] = m
	}
	return g, nil
}

// ListGenerations returns the build numbers of every generation directory
// under cacheDir, sorted ascending.
func ListGenerations(cacheDir string) ([]int, error) {
	dirEntries, err := os.ReadDir(cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: list generations: %w", err)
	}
	var builds []int
	for _, de := range dirEntries {
		if !de.IsDir() || !strings.HasPrefix(de.Name(), genPrefix) {
			continue
		}
		build, err := strconv.Atoi(strings.TrimPrefix(de.Name(), genPrefix))
		if err != nil {
			continue
		}
		builds = append(builds, build)
	}
	sort.Ints(builds)
	return builds, nil
}

// Build returns the generation's build number.
func (g *Generation) Build() int {
	return g.build
}

// Len returns the number of cached entries.
func (g *Generation) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}

// Has reports whether url is cached.
func (g *Generation) Has(url string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.entries[url]
	return ok
}

// Get returns the cached entry for url. A digest mismatch on the stored
// body is treated as a miss.
func (g *Generation) Get(url string) (*Entry, bool, error) {
	g.mu.RLock()
	meta, ok := g.entries[url]
	g.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	body, err := os.ReadFile(filepath.Join(g.dir, meta.File))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: read entry %s: %w", url, err)
	}
	if xxhash.Sum64(body) != meta.Digest {
		return nil, false, nil
	}

	return &Entry{
		URL:         url,
		Status:      meta.Status,
		ContentType: meta.ContentType,
		Body:        body,
	}, true, nil
}

// Put stores an entry and persists the meta index.
func (g *Generation) Put(e *Entry) error {
	file := fmt.Sprintf("%016x.bin", xxhash.Sum64String(e.URL))
	if err := os.WriteFile(filepath.Join(g.dir, file), e.Body, 0o600); err != nil {
		return fmt.Errorf("cache: write entry %s: %w", e.URL, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[e.URL] = entryMeta{
		URL:         e.URL,
		File:        file,
		Status:      e.Status,
		ContentType: e.ContentType,
		Digest:      xxhash.Sum64(e.Body),
	}
	return g.persistMetaLocked()
}

// Destroy removes the generation directory entirely.
func (g *Generation) Destroy() error {
	if err := os.RemoveAll(g.dir); err != nil {
		return fmt.Errorf("cache: destroy generation %d: %w", g.build, err)
	}
	return nil
}

func (g *Generation) persistMetaLocked() error {
	metas := make([]entryMeta, 0, len(g.entries))
	for _, m := range g.entries {
		metas = append(metas, m)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].URL < metas[j].URL })

	data, err := json.MarshalIndent(metas, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: encode meta index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(g.dir, metaFileName), data, 0o600); err != nil {
		return fmt.Errorf("cache: write meta index: %w", err)
	}
	return nil
}
