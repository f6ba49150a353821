package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registryServer(t *testing.T, fail map[string]bool) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/registry/apps.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"version": "1.2.0",
			"lastUpdated": "2026-08-01",
			"apps": [
				{"id": "todo-list", "folder": "todo-list", "pinned": true, "order": 1},
				{"id": "notes", "folder": "notes", "order": 2},
				{"id": "secret", "folder": "secret", "hidden": true, "order": 3},
				{"id": "kanban-board", "folder": "kanban-board", "order": 4}
			]
		}`))
	})
	manifest := func(id, name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if fail[id] {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{
				"id": "` + id + `",
				"name": "` + name + `",
				"description": "test app",
				"categories": ["Productivity"],
				"entry": "index.html",
				"icon": "icon.svg"
			}`))
		}
	}
	mux.HandleFunc("/apps/todo-list/manifest.json", manifest("todo-list", "Todo List"))
	mux.HandleFunc("/apps/notes/manifest.json", manifest("notes", "Notes"))
	mux.HandleFunc("/apps/kanban-board/manifest.json", manifest("kanban-board", "Kanban Board"))
	mux.HandleFunc("/apps/secret/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		t.Error("hidden app manifest should never be fetched")
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLoaderSkipsHiddenApps(t *testing.T) {
	srv := registryServer(t, nil)

	apps, err := NewLoader(srv.URL).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 3)

	assert.Equal(t, "todo-list", apps[0].ID)
	assert.True(t, apps[0].Pinned)
	assert.Equal(t, "notes", apps[1].ID)
	assert.Equal(t, "kanban-board", apps[2].ID)
}

func TestLoaderSkipsFailingManifest(t *testing.T) {
	srv := registryServer(t, map[string]bool{"notes": true})

	apps, err := NewLoader(srv.URL).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "todo-list", apps[0].ID)
	assert.Equal(t, "kanban-board", apps[1].ID)
}

func TestLoaderRegistryFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	_, err := NewLoader(srv.URL).Load(context.Background())
	assert.Error(t, err)
}
