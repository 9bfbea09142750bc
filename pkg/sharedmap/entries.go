package sharedmap

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Entries is the decoded content of one map file. Values stay raw JSON
// until a caller asks for them.
type Entries map[string]json.RawMessage

// Has reports whether key is present.
func (e Entries) Has(key string) bool {
	_, ok := e[key]
	return ok
}

// Decode unmarshals the value under key into out. It reports false when the
// key is absent.
func (e Entries) Decode(key string, out any) (bool, error) {
	raw, ok := e[key]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// Put marshals value and stores it under key.
func (e Entries) Put(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	e[key] = raw
	return nil
}

// Remove deletes key and reports whether it was present.
func (e Entries) Remove(key string) bool {
	if _, ok := e[key]; !ok {
		return false
	}
	delete(e, key)
	return true
}

// Keys returns the keys in sorted order.
func (e Entries) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
