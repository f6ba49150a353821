package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is an in-memory Source with per-URL failure injection and
// fetch counting.
type fakeSource struct {
	mu         sync.Mutex
	version    int
	versionErr error
	urls       []string
	bodies     map[string][]byte
	failURLs   map[string]bool
	uncachable map[string]int // resource -> status forwarded uncached
	fetchCount map[string]int
}

func newFakeSource(version int) *fakeSource {
	fs := &fakeSource{
		version:    version,
		urls:       []string{RootDocument, "launcher/launcher.js", "registry/apps.json"},
		bodies:     make(map[string][]byte),
		failURLs:   make(map[string]bool),
		uncachable: make(map[string]int),
		fetchCount: make(map[string]int),
	}
	for _, u := range fs.urls {
		fs.bodies[u] = []byte("content of " + u)
	}
	return fs
}

func (f *fakeSource) LatestVersion(ctx context.Context) (*VersionDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.versionErr != nil {
		return nil, f.versionErr
	}
	return &VersionDescriptor{Version: f.version, BuildDate: "2026-08-30T00:00:00Z"}, nil
}

func (f *fakeSource) ManifestURLs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...), nil
}

func (f *fakeSource) Fetch(ctx context.Context, resource string) (*Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCount[resource]++
	if f.failURLs[resource] {
		return nil, false, fmt.Errorf("fake: %s unreachable", resource)
	}
	if status, ok := f.uncachable[resource]; ok {
		return &Entry{URL: resource, Status: status, Body: []byte("nope")}, false, nil
	}
	body, ok := f.bodies[resource]
	if !ok {
		return nil, false, fmt.Errorf("fake: %s offline", resource)
	}
	return &Entry{URL: resource, Status: 200, ContentType: "text/plain", Body: body}, true, nil
}

func (f *fakeSource) count(resource string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCount[resource]
}

func startManager(t *testing.T, src Source) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m := NewManager(dir, src)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, m.Start(ctx))
	return m, dir
}

func waitEvent(t *testing.T, ch <-chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestInstallAndActivateLeavesOneGeneration(t *testing.T) {
	src := newFakeSource(2)
	m, dir := startManager(t, src)

	// Leave an older generation on disk.
	old, err := NewGeneration(dir, 1)
	require.NoError(t, err)
	require.NoError(t, old.Put(&Entry{URL: "stale", Status: 200, Body: []byte("old")}))

	events, cancel := m.Subscribe()
	defer cancel()

	m.CheckSource(true)
	ev := waitEvent(t, events, EventActivated)
	assert.Equal(t, 2, ev.Build)

	builds, err := ListGenerations(dir)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, builds)

	require.NotNil(t, m.Current())
	assert.Equal(t, 2, m.Current().Build())
}

func TestFetchCachedNeverHitsNetwork(t *testing.T) {
	src := newFakeSource(1)
	m, _ := startManager(t, src)

	events, cancel := m.Subscribe()
	defer cancel()
	m.CheckSource(true)
	waitEvent(t, events, EventActivated)

	installFetches := src.count("launcher/launcher.js")

	e, err := m.Fetch(context.Background(), "launcher/launcher.js")
	require.NoError(t, err)
	assert.Equal(t, []byte("content of launcher/launcher.js"), e.Body)
	assert.Equal(t, installFetches, src.count("launcher/launcher.js"))
}

func TestFetchMissCachesOpportunistically(t *testing.T) {
	src := newFakeSource(1)
	src.mu.Lock()
	src.bodies["extra.css"] = []byte("body{}")
	src.mu.Unlock()

	m, _ := startManager(t, src)
	events, cancel := m.Subscribe()
	defer cancel()
	m.CheckSource(true)
	waitEvent(t, events, EventActivated)

	// extra.css is not in the manifest: first fetch goes to network.
	_, err := m.Fetch(context.Background(), "extra.css")
	require.NoError(t, err)
	assert.Equal(t, 1, src.count("extra.css"))

	// Second fetch is a cache hit.
	e, err := m.Fetch(context.Background(), "extra.css")
	require.NoError(t, err)
	assert.Equal(t, []byte("body{}"), e.Body)
	assert.Equal(t, 1, src.count("extra.css"))
}

func TestNon200ResponsesForwardedUncached(t *testing.T) {
	src := newFakeSource(1)
	src.mu.Lock()
	src.uncachable["gone.js"] = 404
	src.mu.Unlock()

	m, _ := startManager(t, src)
	events, cancel := m.Subscribe()
	defer cancel()
	m.CheckSource(true)
	waitEvent(t, events, EventActivated)

	e, err := m.Fetch(context.Background(), "gone.js")
	require.NoError(t, err)
	assert.Equal(t, 404, e.Status)
	assert.False(t, m.Current().Has("gone.js"))
}

func TestFailedInstallLeavesOldGenerationUntouched(t *testing.T) {
	src := newFakeSource(1)
	m, dir := startManager(t, src)

	events, cancel := m.Subscribe()
	defer cancel()
	m.CheckSource(true)
	waitEvent(t, events, EventActivated)

	// Newer version exists but one resource cannot be fetched.
	src.mu.Lock()
	src.version = 2
	src.failURLs["registry/apps.json"] = true
	src.mu.Unlock()

	m.CheckSource(true)
	waitEvent(t, events, EventInstallFailed)

	builds, err := ListGenerations(dir)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, builds)
	assert.Equal(t, 1, m.Current().Build())

	// The old generation still serves.
	e, err := m.Fetch(context.Background(), RootDocument)
	require.NoError(t, err)
	assert.Equal(t, 200, e.Status)
}

func TestSkipWaitingActivatesWaitingGeneration(t *testing.T) {
	src := newFakeSource(1)
	m, _ := startManager(t, src)

	events, cancel := m.Subscribe()
	defer cancel()
	m.CheckSource(true)
	waitEvent(t, events, EventActivated)

	src.mu.Lock()
	src.version = 2
	src.mu.Unlock()

	// Without activate, the new generation installs and waits.
	m.CheckSource(false)
	waitEvent(t, events, EventInstalled)
	assert.Equal(t, 1, m.Current().Build())

	m.SkipWaiting()
	ev := waitEvent(t, events, EventActivated)
	assert.Equal(t, 2, ev.Build)
	assert.Equal(t, 2, m.Current().Build())
}

func TestVersionRoundTrip(t *testing.T) {
	src := newFakeSource(3)
	m, _ := startManager(t, src)

	// No active generation yet: unknown, not an error.
	v, err := m.VersionRoundTrip(context.Background())
	require.NoError(t, err)
	assert.Nil(t, v)

	events, cancel := m.Subscribe()
	defer cancel()
	m.CheckSource(true)
	waitEvent(t, events, EventActivated)

	v, err = m.VersionRoundTrip(context.Background())
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 3, *v)
}

func TestVersionRoundTripTimeoutIsNil(t *testing.T) {
	// Worker never started: nobody reads the inbox.
	m := NewManager(t.TempDir(), newFakeSource(1))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	v, err := m.VersionRoundTrip(ctx)
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDeleteAllGenerations(t *testing.T) {
	src := newFakeSource(1)
	m, dir := startManager(t, src)

	events, cancel := m.Subscribe()
	defer cancel()
	m.CheckSource(true)
	waitEvent(t, events, EventActivated)

	require.NoError(t, m.DeleteAllGenerations(context.Background()))

	builds, err := ListGenerations(dir)
	require.NoError(t, err)
	assert.Empty(t, builds)
	assert.Nil(t, m.Current())
}

func TestOfflineFallsBackToCachedRootDocument(t *testing.T) {
	src := newFakeSource(1)
	m, _ := startManager(t, src)

	events, cancel := m.Subscribe()
	defer cancel()
	m.CheckSource(true)
	waitEvent(t, events, EventActivated)

	// An uncached URL while the network is down serves the root document.
	e, err := m.Fetch(context.Background(), "never-cached.html")
	require.NoError(t, err)
	assert.Equal(t, RootDocument, e.URL)
}

func TestOfflineWithNoCacheSurfacesError(t *testing.T) {
	src := newFakeSource(1)
	src.mu.Lock()
	src.failURLs["anything.js"] = true
	src.mu.Unlock()

	m, _ := startManager(t, src)

	_, err := m.Fetch(context.Background(), "anything.js")
	assert.Error(t, err)
}

func TestCheckSourceUpToDateEmitsNothing(t *testing.T) {
	src := newFakeSource(1)
	m, _ := startManager(t, src)

	events, cancel := m.Subscribe()
	defer cancel()
	m.CheckSource(true)
	waitEvent(t, events, EventActivated)

	m.CheckSource(true)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %v for up-to-date source", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCheckSourceVersionFetchFailure(t *testing.T) {
	src := newFakeSource(1)
	src.mu.Lock()
	src.versionErr = errors.New("network down")
	src.mu.Unlock()

	m, _ := startManager(t, src)
	events, cancel := m.Subscribe()
	defer cancel()

	m.CheckSource(true)
	waitEvent(t, events, EventInstallFailed)
	assert.Nil(t, m.Current())
}
