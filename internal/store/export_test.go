package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T, s *Store) {
	t.Helper()
	require.NoError(t, s.PutJSON(KeyTheme, "futuristic"))
	require.NoError(t, s.PutJSON(KeyRecents, []RecencyRecord{{ID: "notes", Timestamp: 123}}))
	require.NoError(t, s.Put("todoList", json.RawMessage(`{"items":["a"]}`)))
	require.NoError(t, s.Put("marlapps-notes", json.RawMessage(`{"text":"hi"}`)))
}

func TestExportCollectsKnownKeys(t *testing.T) {
	s := openTestStore(t)
	seedStore(t, s)

	doc, err := Export(s, []string{"todoList", "marlapps-notes", "kanbanBoard", KeyTheme, KeyRecents})
	require.NoError(t, err)

	assert.Equal(t, ExportVersion, doc.Version)
	assert.NotEmpty(t, doc.ExportedAt)
	assert.Equal(t, "futuristic", doc.Theme)
	require.Len(t, doc.Recents, 1)
	assert.Equal(t, "notes", doc.Recents[0].ID)

	// Only keys with stored values appear; theme and recents stay out of
	// appData.
	assert.Len(t, doc.AppData, 2)
	assert.JSONEq(t, `{"items":["a"]}`, string(doc.AppData["todoList"]))
	assert.NotContains(t, doc.AppData, KeyTheme)
	assert.NotContains(t, doc.AppData, "kanbanBoard")
}

func TestImportRejectsMissingFields(t *testing.T) {
	s := openTestStore(t)

	err := Import(s, &ExportDocument{ExportedAt: "2026-08-01T00:00:00Z"}, func(ImportSummary) bool { return true })
	assert.Error(t, err)

	err = Import(s, &ExportDocument{Version: "2.0.0"}, func(ImportSummary) bool { return true })
	assert.Error(t, err)

	// Nothing was written.
	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestImportDeclinedLeavesStoreUntouched(t *testing.T) {
	s := openTestStore(t)

	doc := &ExportDocument{
		Version:    "2.0.0",
		ExportedAt: "2026-08-01T00:00:00Z",
		Theme:      "light",
		AppData:    map[string]json.RawMessage{"todoList": json.RawMessage(`{}`)},
	}

	var summary ImportSummary
	err := Import(s, doc, func(sum ImportSummary) bool {
		summary = sum
		return false
	})
	assert.ErrorIs(t, err, ErrImportDeclined)
	assert.Equal(t, "light", summary.Theme)
	assert.Equal(t, 1, summary.AppEntries)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestImportAppliesDocument(t *testing.T) {
	s := openTestStore(t)

	doc := &ExportDocument{
		Version:    "2.0.0",
		ExportedAt: "2026-08-01T00:00:00Z",
		Theme:      "light",
		Recents:    []RecencyRecord{{ID: "todo-list", Timestamp: 42}},
		AppData: map[string]json.RawMessage{
			"todoList": json.RawMessage(`{"items":[]}`),
		},
	}

	require.NoError(t, Import(s, doc, func(ImportSummary) bool { return true }))

	var theme string
	ok, err := s.GetJSON(KeyTheme, &theme)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "light", theme)

	var recents []RecencyRecord
	ok, err = s.GetJSON(KeyRecents, &recents)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, recents, 1)
	assert.Equal(t, "todo-list", recents[0].ID)

	raw, ok, err := s.Get("todoList")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"items":[]}`, string(raw))
}

func TestResetSweepsKnownAndPrefixedKeys(t *testing.T) {
	s := openTestStore(t)
	seedStore(t, s)
	require.NoError(t, s.Put("marlapps-extra", json.RawMessage(`1`)))

	require.NoError(t, Reset(s, []string{"todoList"}))

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestExportImportRoundTrip(t *testing.T) {
	src := openTestStore(t)
	seedStore(t, src)

	doc, err := Export(src, []string{"todoList", "marlapps-notes"})
	require.NoError(t, err)

	dst := openTestStore(t)
	require.NoError(t, Import(dst, doc, func(ImportSummary) bool { return true }))

	var theme string
	ok, err := dst.GetJSON(KeyTheme, &theme)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "futuristic", theme)
}
