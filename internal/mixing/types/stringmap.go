package types

import (
	"fmt"

	"github.com/mixing-db/mixing/internal/mixing"
)

// StringMap holds a modifiable map of string keys to string values.
type StringMap struct {
	entries map[string]string
}

// Put stores a value under the given key.
func (m *StringMap) Put(key, value string) *StringMap {
	if m.entries == nil {
		m.entries = make(map[string]string)
	}
	m.entries[key] = value
	return m
}

// Get returns the value stored under the given key.
func (m *StringMap) Get(key string) (string, bool) {
	value, found := m.entries[key]
	return value, found
}

// Data returns the underlying map.
func (m *StringMap) Data() map[string]string {
	return m.entries
}

// SetData replaces the underlying map.
func (m *StringMap) SetData(entries map[string]string) {
	m.entries = entries
}

// Copy returns an independent copy of the map.
func (m *StringMap) Copy() map[string]string {
	if m.entries == nil {
		return nil
	}
	result := make(map[string]string, len(m.entries))
	for k, v := range m.entries {
		result[k] = v
	}
	return result
}

// Size returns the number of entries.
func (m *StringMap) Size() int {
	return len(m.entries)
}

// StringBoolMap holds a modifiable map of string keys to boolean values.
type StringBoolMap struct {
	entries map[string]bool
}

// Put stores a flag under the given key.
func (m *StringBoolMap) Put(key string, value bool) *StringBoolMap {
	if m.entries == nil {
		m.entries = make(map[string]bool)
	}
	m.entries[key] = value
	return m
}

// Get returns the flag stored under the given key.
func (m *StringBoolMap) Get(key string) bool {
	return m.entries[key]
}

// Data returns the underlying map.
func (m *StringBoolMap) Data() map[string]bool {
	return m.entries
}

// SetData replaces the underlying map.
func (m *StringBoolMap) SetData(entries map[string]bool) {
	m.entries = entries
}

// Copy returns an independent copy of the map.
func (m *StringBoolMap) Copy() map[string]bool {
	if m.entries == nil {
		return nil
	}
	result := make(map[string]bool, len(m.entries))
	for k, v := range m.entries {
		result[k] = v
	}
	return result
}

// StringMapField declares a string-map property stored as a nested
// document. The relational backend does not support map columns.
func StringMapField(name string, access func(e mixing.Entity) *StringMap) *mixing.FieldBuilder {
	return mixing.Field(name, mixing.TypeStringMap).
		NullAllowed().
		Get(func(e mixing.Entity) interface{} {
			return access(e).Copy()
		}).
		Set(func(e mixing.Entity, value interface{}) error {
			entries, err := toStringMap(value)
			if err != nil {
				return err
			}
			access(e).SetData(entries)
			return nil
		}).
		ToDatasource(func(kind mixing.Kind, value interface{}) (interface{}, error) {
			if kind == mixing.SQL {
				return nil, fmt.Errorf("string maps are not supported by the sql backend")
			}
			return value, nil
		}).
		FromDatasource(func(kind mixing.Kind, value interface{}) (interface{}, error) {
			if value == nil {
				return nil, nil
			}
			return toStringMap(value)
		})
}

// StringBoolMapField declares a string-to-bool map property stored as a
// nested document. The relational backend does not support map columns.
func StringBoolMapField(name string, access func(e mixing.Entity) *StringBoolMap) *mixing.FieldBuilder {
	return mixing.Field(name, mixing.TypeStringBoolMap).
		NullAllowed().
		Get(func(e mixing.Entity) interface{} {
			return access(e).Copy()
		}).
		Set(func(e mixing.Entity, value interface{}) error {
			entries, err := toStringBoolMap(value)
			if err != nil {
				return err
			}
			access(e).SetData(entries)
			return nil
		}).
		ToDatasource(func(kind mixing.Kind, value interface{}) (interface{}, error) {
			if kind == mixing.SQL {
				return nil, fmt.Errorf("string-bool maps are not supported by the sql backend")
			}
			return value, nil
		}).
		FromDatasource(func(kind mixing.Kind, value interface{}) (interface{}, error) {
			if value == nil {
				return nil, nil
			}
			return toStringBoolMap(value)
		})
}

func toStringMap(value interface{}) (map[string]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case map[string]string:
		return v, nil
	case map[string]interface{}:
		result := make(map[string]string, len(v))
		for key, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string value for key '%s', got %T", key, item)
			}
			result[key] = s
		}
		return result, nil
	default:
		return nil, fmt.Errorf("expected string map, got %T", value)
	}
}

func toStringBoolMap(value interface{}) (map[string]bool, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case map[string]bool:
		return v, nil
	case map[string]interface{}:
		result := make(map[string]bool, len(v))
		for key, item := range v {
			b, ok := item.(bool)
			if !ok {
				return nil, fmt.Errorf("expected bool value for key '%s', got %T", key, item)
			}
			result[key] = b
		}
		return result, nil
	default:
		return nil, fmt.Errorf("expected string-bool map, got %T", value)
	}
}
