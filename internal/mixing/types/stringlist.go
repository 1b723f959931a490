// Package types provides composite value holders for entity fields (lists,
// maps, entity references) together with field builders which wire their
// backend-native conversions.
package types

import (
	"fmt"
	"strings"

	"github.com/mixing-db/mixing/internal/mixing"
)

// StringList holds a modifiable list of strings within an entity.
type StringList struct {
	items []string
}

// Add appends a value to the list.
func (l *StringList) Add(value string) *StringList {
	l.items = append(l.items, value)
	return l
}

// Contains determines if the given value is in the list.
func (l *StringList) Contains(value string) bool {
	for _, item := range l.items {
		if item == value {
			return true
		}
	}
	return false
}

// Data returns the underlying list.
func (l *StringList) Data() []string {
	return l.items
}

// SetData replaces the underlying list.
func (l *StringList) SetData(items []string) {
	l.items = items
}

// Copy returns an independent copy of the list.
func (l *StringList) Copy() []string {
	if l.items == nil {
		return nil
	}
	result := make([]string, len(l.items))
	copy(result, l.items)
	return result
}

// Size returns the number of entries.
func (l *StringList) Size() int {
	return len(l.items)
}

// StringListField declares a string-list property. The search and document
// backends store the list as a native array; the relational backend joins
// the entries with commas into a single column.
func StringListField(name string, access func(e mixing.Entity) *StringList) *mixing.FieldBuilder {
	return mixing.Field(name, mixing.TypeStringList).
		NullAllowed().
		Get(func(e mixing.Entity) interface{} {
			return access(e).Copy()
		}).
		Set(func(e mixing.Entity, value interface{}) error {
			items, err := toStringSlice(value)
			if err != nil {
				return err
			}
			access(e).SetData(items)
			return nil
		}).
		ToDatasource(func(kind mixing.Kind, value interface{}) (interface{}, error) {
			items, err := toStringSlice(value)
			if err != nil {
				return nil, err
			}
			if kind == mixing.SQL {
				return strings.Join(items, ","), nil
			}
			return items, nil
		}).
		FromDatasource(func(kind mixing.Kind, value interface{}) (interface{}, error) {
			if value == nil {
				return nil, nil
			}
			if kind == mixing.SQL {
				joined, ok := value.(string)
				if !ok {
					return nil, fmt.Errorf("expected string, got %T", value)
				}
				if joined == "" {
					return nil, nil
				}
				return strings.Split(joined, ","), nil
			}
			return toStringSlice(value)
		})
}

// toStringSlice accepts the representations a backend may hand back for an
// array of strings.
func toStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []interface{}:
		result := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string element, got %T", item)
			}
			result = append(result, s)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("expected string list, got %T", value)
	}
}
