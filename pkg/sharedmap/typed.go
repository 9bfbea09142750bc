package sharedmap

import "context"

// Map is a typed view of one named map in a Store.
type Map[V any] struct {
	store *Store
	name  string
}

// Open returns a typed view of the named map.
func Open[V any](store *Store, name string) *Map[V] {
	return &Map[V]{store: store, name: name}
}

// Name returns the map name.
func (m *Map[V]) Name() string { return m.name }

// Get returns the value under key.
func (m *Map[V]) Get(key string) (V, bool, error) {
	var v V
	ok, err := m.store.Get(m.name, key, &v)
	return v, ok, err
}

// Set stores v under key.
func (m *Map[V]) Set(ctx context.Context, key string, v V) error {
	return m.store.Set(ctx, m.name, key, v)
}

// Delete removes key.
func (m *Map[V]) Delete(ctx context.Context, key string) error {
	return m.store.Delete(ctx, m.name, key)
}

// Keys returns a sorted snapshot of the keys.
func (m *Map[V]) Keys() ([]string, error) {
	return m.store.Keys(m.name)
}

// All decodes every entry.
func (m *Map[V]) All() (map[string]V, error) {
	e, err := m.store.Load(m.name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]V, len(e))
	for k := range e {
		var v V
		if _, err := e.Decode(k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// GetOrCreate returns the value under key, running create under the map's
// lock if it is absent. The bool reports whether create ran.
func (m *Map[V]) GetOrCreate(ctx context.Context, key string, create func(ctx context.Context) (V, error)) (V, bool, error) {
	var v V
	created, err := m.store.GetOrCreate(ctx, m.name, key, &v, func(ctx context.Context) (any, error) {
		return create(ctx)
	})
	return v, created, err
}
