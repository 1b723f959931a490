package types

import (
	"fmt"

	"github.com/mixing-db/mixing/internal/mixing"
)

// EntityRef holds a reference to another entity by id.
type EntityRef struct {
	id string
}

// SetID assigns the referenced id.
func (r *EntityRef) SetID(id string) {
	r.id = id
}

// ID returns the referenced id, or "" if the reference is empty.
func (r *EntityRef) ID() string {
	return r.id
}

// IsFilled determines if the reference points at an entity.
func (r *EntityRef) IsFilled() bool {
	return r.id != ""
}

// Clear empties the reference.
func (r *EntityRef) Clear() {
	r.id = ""
}

// EntityRefList holds references to several entities by id.
type EntityRefList struct {
	ids []string
}

// Add appends a referenced id.
func (l *EntityRefList) Add(id string) *EntityRefList {
	l.ids = append(l.ids, id)
	return l
}

// Contains determines if the given id is referenced.
func (l *EntityRefList) Contains(id string) bool {
	for _, item := range l.ids {
		if item == id {
			return true
		}
	}
	return false
}

// Data returns the underlying id list.
func (l *EntityRefList) Data() []string {
	return l.ids
}

// SetData replaces the underlying id list.
func (l *EntityRefList) SetData(ids []string) {
	l.ids = ids
}

// Copy returns an independent copy of the id list.
func (l *EntityRefList) Copy() []string {
	if l.ids == nil {
		return nil
	}
	result := make([]string, len(l.ids))
	copy(result, l.ids)
	return result
}

// RefField declares a reference property pointing at the given target type
// with the given delete policy. An empty reference is stored as NULL or an
// absent field.
func RefField(name, target string, onDelete mixing.DeletePolicy, access func(e mixing.Entity) *EntityRef) *mixing.FieldBuilder {
	return mixing.Field(name, mixing.TypeRef).
		NullAllowed().
		RefTo(target, onDelete).
		Get(func(e mixing.Entity) interface{} {
			ref := access(e)
			if !ref.IsFilled() {
				return nil
			}
			return ref.ID()
		}).
		Set(func(e mixing.Entity, value interface{}) error {
			if value == nil {
				access(e).Clear()
				return nil
			}
			id, ok := value.(string)
			if !ok {
				return fmt.Errorf("expected string id, got %T", value)
			}
			access(e).SetID(id)
			return nil
		})
}

// RefListField declares a list of references to the given target type. The
// search and document backends store the ids as a keyword array; the
// relational backend is not supported for reference lists.
func RefListField(name, target string, onDelete mixing.DeletePolicy, access func(e mixing.Entity) *EntityRefList) *mixing.FieldBuilder {
	return mixing.Field(name, mixing.TypeRefList).
		NullAllowed().
		RefTo(target, onDelete).
		Get(func(e mixing.Entity) interface{} {
			ids := access(e).Copy()
			if len(ids) == 0 {
				return nil
			}
			return ids
		}).
		Set(func(e mixing.Entity, value interface{}) error {
			ids, err := toStringSlice(value)
			if err != nil {
				return err
			}
			access(e).SetData(ids)
			return nil
		}).
		ToDatasource(func(kind mixing.Kind, value interface{}) (interface{}, error) {
			if kind == mixing.SQL {
				return nil, fmt.Errorf("reference lists are not supported by the sql backend")
			}
			return value, nil
		}).
		FromDatasource(func(kind mixing.Kind, value interface{}) (interface{}, error) {
			if value == nil {
				return nil, nil
			}
			return toStringSlice(value)
		})
}
