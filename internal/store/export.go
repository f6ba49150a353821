package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ExportVersion is the backup document format version.
const ExportVersion = "2.0.0"

// ErrImportDeclined is returned when the confirmation callback rejects an
// import. Nothing has been mutated in that case.
var ErrImportDeclined = errors.New("store: import declined")

// ExportDocument is the user-facing backup format. App data values are
// opaque JSON owned by the individual apps.
type ExportDocument struct {
	Version    string                     `json:"version"`
	ExportedAt string                     `json:"exportedAt"`
	Theme      string                     `json:"theme"`
	Recents    []RecencyRecord            `json:"recents"`
	AppData    map[string]json.RawMessage `json:"appData"`
}

// ImportSummary previews what an import would overwrite, shown to the user
// before anything is applied.
type ImportSummary struct {
	ExportedAt string
	Theme      string
	Recents    int
	AppEntries int
}

// Export assembles a backup document from the store. appKeys is the full
// set of storage keys the loaded apps declare; keys with no stored value
// are omitted.
func Export(s *Store, appKeys []string) (*ExportDocument, error) {
	doc := &ExportDocument{
		Version:    ExportVersion,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		AppData:    make(map[string]json.RawMessage),
	}

	if raw, ok, err := s.Get(KeyTheme); err != nil {
		return nil, err
	} else if ok {
		// Theme is stored as a JSON string.
		_ = json.Unmarshal(raw, &doc.Theme)
	}

	if _, err := s.GetJSON(KeyRecents, &doc.Recents); err != nil {
		return nil, err
	}

	for _, key := range appKeys {
		if key == KeyTheme || key == KeyRecents {
			continue
		}
		raw, ok, err := s.Get(key)
		if err != nil {
			return nil, err
		}
		if ok {
			doc.AppData[key] = raw
		}
	}

	return doc, nil
}

// ValidateImport checks the required backup fields. It never mutates state.
func ValidateImport(doc *ExportDocument) error {
	if doc == nil {
		return errors.New("store: import: empty document")
	}
	if doc.Version == "" {
		return errors.New("store: import: missing version")
	}
	if doc.ExportedAt == "" {
		return errors.New("store: import: missing exportedAt")
	}
	return nil
}

// Import applies a backup document. The flow is strict: validate, then ask
// confirm with a summary of what will be overwritten, then apply. A
// declined confirmation returns ErrImportDeclined with no state change.
// Import is destructive per key present in the document.
func Import(s *Store, doc *ExportDocument, confirm func(ImportSummary) bool) error {
	if err := ValidateImport(doc); err != nil {
		return err
	}

	summary := ImportSummary{
		ExportedAt: doc.ExportedAt,
		Theme:      doc.Theme,
		Recents:    len(doc.Recents),
		AppEntries: len(doc.AppData),
	}
	if confirm == nil || !confirm(summary) {
		return ErrImportDeclined
	}

	if doc.Theme != "" {
		if err := s.PutJSON(KeyTheme, doc.Theme); err != nil {
			return fmt.Errorf("store: import theme: %w", err)
		}
	}
	if doc.Recents != nil {
		if err := s.PutJSON(KeyRecents, doc.Recents); err != nil {
			return fmt.Errorf("store: import recents: %w", err)
		}
	}
	for key, value := range doc.AppData {
		if err := s.Put(key, value); err != nil {
			return fmt.Errorf("store: import app data: %w", err)
		}
	}

	return nil
}

// Reset deletes every known key plus anything under the shell prefix.
// Confirmation is the caller's responsibility; this applies unconditionally.
func Reset(s *Store, knownKeys []string) error {
	for _, key := range knownKeys {
		if err := s.Delete(key); err != nil {
			return err
		}
	}

	prefixed, err := s.KeysWithPrefix(ShellPrefix)
	if err != nil {
		return err
	}
	for _, key := range prefixed {
		if err := s.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
