package store

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlapps/marlapps/internal/registry"
)

// fakeClock hands out strictly increasing timestamps.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestRecency(t *testing.T) (*RecencyStore, *Store) {
	t.Helper()
	s := openTestStore(t)
	rs := NewRecencyStore(s.ShellKV())
	rs.now = (&fakeClock{t: time.Unix(1_700_000_000, 0)}).now
	return rs, s
}

func TestRecordOpenCapsAtTwenty(t *testing.T) {
	rs, _ := newTestRecency(t)

	for i := 0; i < 21; i++ {
		require.NoError(t, rs.RecordOpen(fmt.Sprintf("app-%02d", i)))
	}

	records := rs.Records()
	require.Len(t, records, MaxRecents)

	// The oldest entry (app-00) is the one evicted.
	for _, r := range records {
		assert.NotEqual(t, "app-00", r.ID)
	}
}

func TestRecordOpenBumpsWithoutDuplicate(t *testing.T) {
	rs, _ := newTestRecency(t)

	require.NoError(t, rs.RecordOpen("notes"))
	first := rs.Records()[0].Timestamp

	require.NoError(t, rs.RecordOpen("todo-list"))
	require.NoError(t, rs.RecordOpen("notes"))

	records := rs.Records()
	require.Len(t, records, 2)

	var notes *RecencyRecord
	for i := range records {
		if records[i].ID == "notes" {
			notes = &records[i]
		}
	}
	require.NotNil(t, notes)
	assert.Greater(t, notes.Timestamp, first)
}

func TestReopenWithinCapDoesNotEvict(t *testing.T) {
	rs, _ := newTestRecency(t)

	for i := 0; i < MaxRecents; i++ {
		require.NoError(t, rs.RecordOpen(fmt.Sprintf("app-%02d", i)))
	}
	require.NoError(t, rs.RecordOpen("app-00"))

	assert.Len(t, rs.Records(), MaxRecents)
}

func TestTopNDropsDanglingIDs(t *testing.T) {
	rs, _ := newTestRecency(t)

	ix := registry.NewIndex([]registry.AppDescriptor{
		{ID: "notes", Name: "Notes"},
		{ID: "todo-list", Name: "Todo List"},
	}, 0)

	require.NoError(t, rs.RecordOpen("gone"))
	require.NoError(t, rs.RecordOpen("notes"))
	require.NoError(t, rs.RecordOpen("todo-list"))

	top := rs.TopN(5, ix)
	require.Len(t, top, 2)
	assert.Equal(t, "todo-list", top[0].ID)
	assert.Equal(t, "notes", top[1].ID)
}

func TestRecencyPersistsAcrossLoads(t *testing.T) {
	rs, s := newTestRecency(t)

	require.NoError(t, rs.RecordOpen("notes"))

	reloaded := NewRecencyStore(s.ShellKV())
	records := reloaded.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "notes", records[0].ID)
}

func TestCorruptRecentsResetsToEmpty(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(KeyRecents, json.RawMessage(`{not json`)))

	rs := NewRecencyStore(s.ShellKV())
	assert.Empty(t, rs.Records())
}
