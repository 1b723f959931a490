package mixing

// Mixin is a reusable bundle of fields and lifecycle handlers which can be
// composed into several entity types. Composition is explicit: a descriptor
// lists its mixins at registration time, and the mixin's field names are
// prefixed with the mixin name when merged into the descriptor.
type Mixin struct {
	Name   string
	Fields []*FieldBuilder

	BeforeSaveHandlers   []Handler
	AfterSaveHandlers    []Handler
	BeforeDeleteHandlers []Handler
	AfterDeleteHandlers  []Handler
}

// NewMixin creates a mixin with the given name and fields.
func NewMixin(name string, fields ...*FieldBuilder) *Mixin {
	return &Mixin{Name: name, Fields: fields}
}

// BeforeSave registers a before-save handler contributed by the mixin.
func (m *Mixin) BeforeSave(handler Handler) *Mixin {
	m.BeforeSaveHandlers = append(m.BeforeSaveHandlers, handler)
	return m
}

// AfterSave registers an after-save handler contributed by the mixin.
func (m *Mixin) AfterSave(handler Handler) *Mixin {
	m.AfterSaveHandlers = append(m.AfterSaveHandlers, handler)
	return m
}

// BeforeDelete registers a before-delete handler contributed by the mixin.
func (m *Mixin) BeforeDelete(handler Handler) *Mixin {
	m.BeforeDeleteHandlers = append(m.BeforeDeleteHandlers, handler)
	return m
}

// AfterDelete registers an after-delete handler contributed by the mixin.
func (m *Mixin) AfterDelete(handler Handler) *Mixin {
	m.AfterDeleteHandlers = append(m.AfterDeleteHandlers, handler)
	return m
}
