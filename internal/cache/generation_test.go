package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationPutGet(t *testing.T) {
	dir := t.TempDir()
	gen, err := NewGeneration(dir, 3)
	require.NoError(t, err)

	entry := &Entry{URL: "index.html", Status: 200, ContentType: "text/html", Body: []byte("<html>")}
	require.NoError(t, gen.Put(entry))

	got, ok, err := gen.Get("index.html")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 200, got.Status)
	assert.Equal(t, "text/html", got.ContentType)
	assert.Equal(t, []byte("<html>"), got.Body)

	_, ok, err = gen.Get("missing.css")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGenerationReopenFromDisk(t *testing.T) {
	dir := t.TempDir()
	gen, err := NewGeneration(dir, 7)
	require.NoError(t, err)
	require.NoError(t, gen.Put(&Entry{URL: "a.js", Status: 200, Body: []byte("x")}))

	reopened, err := OpenGeneration(dir, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, reopened.Build())
	assert.Equal(t, 1, reopened.Len())

	got, ok, err := reopened.Get("a.js")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("x"), got.Body)
}

func TestGenerationCorruptBodyIsAMiss(t *testing.T) {
	dir := t.TempDir()
	gen, err := NewGeneration(dir, 1)
	require.NoError(t, err)
	require.NoError(t, gen.Put(&Entry{URL: "a.js", Status: 200, Body: []byte("original")}))

	// Tamper with the stored body so the digest no longer matches.
	genDir := filepath.Join(dir, GenerationName(1))
	files, err := os.ReadDir(genDir)
	require.NoError(t, err)
	for _, f := range files {
		if f.Name() == metaFileName {
			continue
		}
		require.NoError(t, os.WriteFile(filepath.Join(genDir, f.Name()), []byte("tampered"), 0o600))
	}

	_, ok, err := gen.Get("a.js")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListGenerations(t *testing.T) {
	dir := t.TempDir()

	_, err := NewGeneration(dir, 5)
	require.NoError(t, err)
	_, err = NewGeneration(dir, 2)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "not-a-generation"), 0o700))

	builds, err := ListGenerations(dir)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5}, builds)
}

func TestListGenerationsMissingDir(t *testing.T) {
	builds, err := ListGenerations(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, builds)
}

func TestGenerationDestroy(t *testing.T) {
	dir := t.TempDir()
	gen, err := NewGeneration(dir, 4)
	require.NoError(t, err)
	require.NoError(t, gen.Put(&Entry{URL: "a", Status: 200, Body: []byte("x")}))

	require.NoError(t, gen.Destroy())

	builds, err := ListGenerations(dir)
	require.NoError(t, err)
	assert.Empty(t, builds)
}
