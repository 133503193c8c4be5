package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// FieldMap is an ordered mapping of dotted field paths to primitive or array
// values. Iteration order is the order in which paths were first set, which
// for extracted data is the order they appeared in the source document.
type FieldMap struct {
	paths []string
	vals  map[string]any
}

// NewFieldMap creates an empty FieldMap.
func NewFieldMap() *FieldMap {
	return &FieldMap{vals: make(map[string]any)}
}

// Set stores a value under a dotted path. Setting an existing path replaces
// the value but keeps its original position.
func (m *FieldMap) Set(path string, value any) {
	if _, ok := m.vals[path]; !ok {
		m.paths = append(m.paths, path)
	}
	m.vals[path] = value
}

// Get returns the value stored under a path.
func (m *FieldMap) Get(path string) (any, bool) {
	v, ok := m.vals[path]
	return v, ok
}

// Len returns the number of stored paths.
func (m *FieldMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.paths)
}

// Paths returns the stored paths in insertion order.
func (m *FieldMap) Paths() []string {
	out := make([]string, len(m.paths))
	copy(out, m.paths)
	return out
}

// Equal reports whether two maps hold the same paths in the same order with
// deeply equal values.
func (m *FieldMap) Equal(other *FieldMap) bool {
	if m.Len() != other.Len() {
		return false
	}
	for i, p := range m.paths {
		if other.paths[i] != p {
			return false
		}
		if !reflect.DeepEqual(m.vals[p], other.vals[p]) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the map as a JSON object preserving path order.
func (m *FieldMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range m.paths {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(m.vals[p])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving its key order.
func (m *FieldMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("field map: expected object, got %v", tok)
	}
	m.paths = nil
	m.vals = make(map[string]any)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("field map: expected string key, got %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		m.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
