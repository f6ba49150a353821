package store

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/marlapps/marlapps/internal/logging"
	"github.com/marlapps/marlapps/internal/registry"
)

const (
	// MaxRecents caps the recency record set; the oldest record is
	// evicted when a new app pushes the count past the cap.
	MaxRecents = 20

	// DefaultTopN is how many recent apps are shown when no explicit
	// limit is requested.
	DefaultTopN = 5

	recentsKey = "recents"
)

// RecencyRecord is one app-open event. Dangling app ids are tolerated here
// and filtered when records are resolved against the index.
type RecencyRecord struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// RecentApp is a resolved recency record.
type RecentApp struct {
	registry.AppDescriptor
	LastOpened int64 `json:"lastOpened"`
}

// RecencyStore keeps a bounded, timestamp-ordered record of app opens,
// persisted to the shell KV namespace on every mutation.
type RecencyStore struct {
	mu      sync.Mutex
	kv      KV
	records []RecencyRecord
	now     func() time.Time
}

// NewRecencyStore loads persisted records from kv. Corrupt or missing data
// resets to empty rather than failing.
func NewRecencyStore(kv KV) *RecencyStore {
	rs := &RecencyStore{kv: kv, now: time.Now}

	raw, ok, err := kv.Get(recentsKey)
	if err != nil || !ok {
		return rs
	}
	var records []RecencyRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		logging.ForComponent(logging.CompStore).Warn(
			"recents data corrupt, resetting", "error", err)
		return rs
	}
	rs.records = records
	return rs
}

// RecordOpen bumps the timestamp for appID, appending a new record if none
// exists. Past the cap the oldest records are evicted. The set is persisted
// before returning.
func (rs *RecencyStore) RecordOpen(appID string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	now := rs.now().UnixMilli()
	found := false
	for i := range rs.records {
		if rs.records[i].ID == appID {
			rs.records[i].Timestamp = now
			found = true
			break
		}
	}
	if !found {
		rs.records = append(rs.records, RecencyRecord{ID: appID, Timestamp: now})
	}

	if len(rs.records) > MaxRecents {
		sort.SliceStable(rs.records, func(i, j int) bool {
			return rs.records[i].Timestamp > rs.records[j].Timestamp
		})
		rs.records = rs.records[:MaxRecents]
	}

	return rs.persist()
}

// TopN resolves up to n records against ix, newest first, dropping any
// whose app id no longer resolves. n <= 0 selects DefaultTopN.
func (rs *RecencyStore) TopN(n int, ix *registry.Index) []RecentApp {
	if n <= 0 {
		n = DefaultTopN
	}

	rs.mu.Lock()
	records := make([]RecencyRecord, len(rs.records))
	copy(records, rs.records)
	rs.mu.Unlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp > records[j].Timestamp
	})

	var out []RecentApp
	for _, r := range records {
		if len(out) == n {
			break
		}
		app := ix.GetByID(r.ID)
		if app == nil {
			continue
		}
		out = append(out, RecentApp{AppDescriptor: *app, LastOpened: r.Timestamp})
	}
	return out
}

// Records returns a copy of the raw record set, for export.
func (rs *RecencyStore) Records() []RecencyRecord {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]RecencyRecord, len(rs.records))
	copy(out, rs.records)
	return out
}

// Replace swaps in a new record set, for import. The set is capped and
// persisted.
func (rs *RecencyStore) Replace(records []RecencyRecord) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if len(records) > MaxRecents {
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Timestamp > records[j].Timestamp
		})
		records = records[:MaxRecents]
	}
	rs.records = records
	return rs.persist()
}

// Reset clears all records and removes the persisted key.
func (rs *RecencyStore) Reset() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.records = nil
	return rs.kv.Delete(recentsKey)
}

func (rs *RecencyStore) persist() error {
	data, err := json.Marshal(rs.records)
	if err != nil {
		return err
	}
	return rs.kv.Put(recentsKey, data)
}
