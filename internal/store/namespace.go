package store

import "encoding/json"

// KV is the storage capability handed to components. Each component gets a
// namespace scoped to its own keys so it cannot read or clobber anything
// else in the store.
type KV interface {
	Get(key string) (json.RawMessage, bool, error)
	Put(key string, value json.RawMessage) error
	Delete(key string) error
}

// Namespace returns a KV view of the store where every key is transparently
// prefixed. The shell namespace uses the "marlapps-" prefix, matching the
// keys the export format exposes.
func (s *Store) Namespace(prefix string) KV {
	return &namespacedKV{store: s, prefix: prefix}
}

// ShellKV returns the shell's own namespace (recents, theme).
func (s *Store) ShellKV() KV {
	return s.Namespace(ShellPrefix)
}

type namespacedKV struct {
	store  *Store
	prefix string
}

func (n *namespacedKV) Get(key string) (json.RawMessage, bool, error) {
	return n.store.Get(n.prefix + key)
}

func (n *namespacedKV) Put(key string, value json.RawMessage) error {
	return n.store.Put(n.prefix+key, value)
}

func (n *namespacedKV) Delete(key string) error {
	return n.store.Delete(n.prefix + key)
}
