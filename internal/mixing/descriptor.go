package mixing

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"
)

// Handler is a lifecycle callback registered on a descriptor.
type Handler func(ctx context.Context, e Entity) error

// EntityDescriptor is the compiled schema and behavior contract for one
// entity type. It is created once during the registry initialization phase
// and read-only after the link pass completed.
type EntityDescriptor struct {
	kind         Kind
	typeName     string
	relationName string
	versioned    bool

	factory func() Entity

	fields []*FieldBuilder
	mixins []*Mixin

	properties    []*Property
	propertyIndex map[string]*Property

	beforeSaveHandlers    []Handler
	afterSaveHandlers     []Handler
	beforeDeleteHandlers  []Handler
	afterDeleteHandlers   []Handler
	cascadeDeleteHandlers []Handler

	onBeforeSave   Handler
	onAfterSave    Handler
	onBeforeDelete Handler
	onAfterDelete  Handler

	routedBy      string
	storedPerYear string

	initialized bool
}

// NewDescriptor starts the declaration of a descriptor for the given
// entity type, stored in the given backend kind. The factory produces the
// reference instance and all instances materialized from storage. The
// relation name defaults to the lower-cased type name.
func NewDescriptor(kind Kind, typeName string, factory func() Entity) *EntityDescriptor {
	return &EntityDescriptor{
		kind:          kind,
		typeName:      typeName,
		relationName:  strings.ToLower(typeName),
		factory:       factory,
		propertyIndex: make(map[string]*Property),
	}
}

// RelationName overrides the effective table, index or collection name.
func (ed *EntityDescriptor) RelationName(name string) *EntityDescriptor {
	ed.relationName = name
	return ed
}

// Versioned enables optimistic locking for this entity type.
func (ed *EntityDescriptor) Versioned() *EntityDescriptor {
	ed.versioned = true
	return ed
}

// RoutedBy designates the property whose value is used as the routing
// (sharding) key for the search backend.
func (ed *EntityDescriptor) RoutedBy(property string) *EntityDescriptor {
	ed.routedBy = property
	return ed
}

// StoredPerYear designates a temporal property which partitions records of
// this type into one physical index per year.
func (ed *EntityDescriptor) StoredPerYear(property string) *EntityDescriptor {
	ed.storedPerYear = property
	return ed
}

// AddFields appends directly declared fields to the descriptor.
func (ed *EntityDescriptor) AddFields(fields ...*FieldBuilder) *EntityDescriptor {
	ed.fields = append(ed.fields, fields...)
	return ed
}

// WithMixin composes the fields and handlers of the given mixin into the
// descriptor. Mixin field names are prefixed with the mixin name.
func (ed *EntityDescriptor) WithMixin(mixin *Mixin) *EntityDescriptor {
	ed.mixins = append(ed.mixins, mixin)
	return ed
}

// OnBeforeSave sets the descriptor-level before-save hook, which runs
// after all handlers and property hooks.
func (ed *EntityDescriptor) OnBeforeSave(handler Handler) *EntityDescriptor {
	ed.onBeforeSave = handler
	return ed
}

// OnAfterSave sets the descriptor-level after-save hook.
func (ed *EntityDescriptor) OnAfterSave(handler Handler) *EntityDescriptor {
	ed.onAfterSave = handler
	return ed
}

// OnBeforeDelete sets the descriptor-level before-delete hook.
func (ed *EntityDescriptor) OnBeforeDelete(handler Handler) *EntityDescriptor {
	ed.onBeforeDelete = handler
	return ed
}

// OnAfterDelete sets the descriptor-level after-delete hook.
func (ed *EntityDescriptor) OnAfterDelete(handler Handler) *EntityDescriptor {
	ed.onAfterDelete = handler
	return ed
}

// AddBeforeSaveHandler registers an additional before-save handler.
func (ed *EntityDescriptor) AddBeforeSaveHandler(handler Handler) {
	ed.beforeSaveHandlers = append(ed.beforeSaveHandlers, handler)
}

// AddAfterSaveHandler registers an additional after-save handler.
func (ed *EntityDescriptor) AddAfterSaveHandler(handler Handler) {
	ed.afterSaveHandlers = append(ed.afterSaveHandlers, handler)
}

// AddBeforeDeleteHandler registers an additional before-delete handler.
// Before-delete handlers run before any cascade handler, so a rejecting
// check can abort the delete before side effects execute.
func (ed *EntityDescriptor) AddBeforeDeleteHandler(handler Handler) {
	ed.beforeDeleteHandlers = append(ed.beforeDeleteHandlers, handler)
}

// AddAfterDeleteHandler registers an additional after-delete handler.
func (ed *EntityDescriptor) AddAfterDeleteHandler(handler Handler) {
	ed.afterDeleteHandlers = append(ed.afterDeleteHandlers, handler)
}

// AddCascadeDeleteHandler registers a handler which propagates a delete to
// referencing entities (cascade or set-null).
func (ed *EntityDescriptor) AddCascadeDeleteHandler(handler Handler) {
	ed.cascadeDeleteHandlers = append(ed.cascadeDeleteHandlers, handler)
}

// initialize builds the property collection from the declared fields and
// composed mixins. Duplicate property names (case-insensitive) are logged
// and skipped; the first registration wins.
func (ed *EntityDescriptor) initialize(log *zap.Logger) error {
	if ed.initialized {
		return fmt.Errorf("descriptor for '%s' is already initialized", ed.typeName)
	}
	if ed.factory == nil {
		return fmt.Errorf("descriptor for '%s' declares no factory", ed.typeName)
	}

	register := func(builder *FieldBuilder, prefix string) error {
		p, err := builder.build(ed.typeName, prefix)
		if err != nil {
			return err
		}
		key := strings.ToLower(p.name)
		if existing, found := ed.propertyIndex[key]; found {
			log.Warn("a property with this name already exists, skipping redefinition",
				zap.String("type", ed.typeName),
				zap.String("property", p.name),
				zap.String("kept", existing.Definition()),
				zap.String("skipped", p.Definition()))
			return nil
		}
		ed.propertyIndex[key] = p
		ed.properties = append(ed.properties, p)
		return nil
	}

	for _, builder := range ed.fields {
		if err := register(builder, ""); err != nil {
			return err
		}
	}
	for _, mixin := range ed.mixins {
		prefix := strings.ToLower(mixin.Name)
		for _, builder := range mixin.Fields {
			if err := register(builder, prefix); err != nil {
				return err
			}
		}
		ed.beforeSaveHandlers = append(ed.beforeSaveHandlers, mixin.BeforeSaveHandlers...)
		ed.afterSaveHandlers = append(ed.afterSaveHandlers, mixin.AfterSaveHandlers...)
		ed.beforeDeleteHandlers = append(ed.beforeDeleteHandlers, mixin.BeforeDeleteHandlers...)
		ed.afterDeleteHandlers = append(ed.afterDeleteHandlers, mixin.AfterDeleteHandlers...)
	}

	ed.initialized = true
	return nil
}

// Kind returns the backend kind storing this entity type.
func (ed *EntityDescriptor) Kind() Kind {
	return ed.kind
}

// TypeName returns the entity type identifier.
func (ed *EntityDescriptor) TypeName() string {
	return ed.typeName
}

// Relation returns the effective table, index or collection name.
func (ed *EntityDescriptor) Relation() string {
	return ed.relationName
}

// IsVersioned determines if optimistic locking is enabled.
func (ed *EntityDescriptor) IsVersioned() bool {
	return ed.versioned
}

// RoutedByProperty returns the routing property, or nil if the type is not
// routed.
func (ed *EntityDescriptor) RoutedByProperty() *Property {
	if ed.routedBy == "" {
		return nil
	}
	return ed.propertyIndex[strings.ToLower(ed.routedBy)]
}

// DiscriminatorProperty returns the store-per-year property, or nil.
func (ed *EntityDescriptor) DiscriminatorProperty() *Property {
	if ed.storedPerYear == "" {
		return nil
	}
	return ed.propertyIndex[strings.ToLower(ed.storedPerYear)]
}

// Properties returns all properties in registration order.
func (ed *EntityDescriptor) Properties() []*Property {
	return ed.properties
}

// Property returns the property with the given name.
func (ed *EntityDescriptor) Property(name string) (*Property, error) {
	p, found := ed.propertyIndex[strings.ToLower(strings.ReplaceAll(name, ".", SubfieldSeparator))]
	if !found {
		return nil, fmt.Errorf("cannot find property '%s' for type '%s'", name, ed.typeName)
	}
	return p, nil
}

// NewEntity creates a fresh instance of the described entity type.
func (ed *EntityDescriptor) NewEntity() Entity {
	return ed.factory()
}

// IsFetched determines if a value was fetched from storage for the given
// property. Queries may select only certain fields, so not every property
// is filled on a loaded entity.
func (ed *EntityDescriptor) IsFetched(e Entity, p *Property) bool {
	if e.IsNew() {
		return false
	}
	_, found := e.persisted()[p.name]
	return found
}

// IsChanged determines if the in-memory value of the property differs from
// the value last seen in storage.
func (ed *EntityDescriptor) IsChanged(e Entity, p *Property) bool {
	return !reflect.DeepEqual(e.persisted()[p.name], p.GetValue(e))
}

// SetPersisted records the given value as the stored state of a property,
// used when materializing a (possibly partial) load result.
func (ed *EntityDescriptor) SetPersisted(e Entity, p *Property, value interface{}) {
	e.persisted()[p.name] = value
}

// Make materializes an entity from backend-native values. The lookup
// reports the stored value per column name and whether the column was part
// of the projection. The shadow copy is filled for fetched columns only.
func (ed *EntityDescriptor) Make(kind Kind, lookup func(column string) (interface{}, bool)) (Entity, error) {
	e := ed.factory()
	for _, p := range ed.properties {
		if p.Transient() {
			continue
		}
		value, fetched := lookup(p.columnName)
		if !fetched {
			continue
		}
		if err := p.SetValueFromDatasource(kind, e, value); err != nil {
			return nil, err
		}
		e.persisted()[p.name] = p.GetValue(e)
	}
	return e, nil
}

// BeforeSave runs the registered before-save handlers, then every
// property's own before-hook (defaults and nullability included), then the
// descriptor-level hook.
func (ed *EntityDescriptor) BeforeSave(ctx context.Context, e Entity) error {
	for _, handler := range ed.beforeSaveHandlers {
		if err := handler(ctx, e); err != nil {
			return fmt.Errorf("before-save handler for '%s' failed: %w", ed.typeName, err)
		}
	}
	for _, p := range ed.properties {
		if err := p.onBeforeSave(e); err != nil {
			return err
		}
	}
	if ed.onBeforeSave != nil {
		return ed.onBeforeSave(ctx, e)
	}
	return nil
}

// AfterSave runs the registered after-save handlers, the property hooks
// and the descriptor-level hook, then refreshes the persisted shadow copy
// so a just-saved entity reports no changed properties.
func (ed *EntityDescriptor) AfterSave(ctx context.Context, e Entity) error {
	for _, handler := range ed.afterSaveHandlers {
		if err := handler(ctx, e); err != nil {
			return fmt.Errorf("after-save handler for '%s' failed: %w", ed.typeName, err)
		}
	}
	for _, p := range ed.properties {
		if err := p.onAfterSave(e); err != nil {
			return err
		}
	}
	if ed.onAfterSave != nil {
		if err := ed.onAfterSave(ctx, e); err != nil {
			return err
		}
	}

	shadow := e.persisted()
	for key := range shadow {
		delete(shadow, key)
	}
	for _, p := range ed.properties {
		shadow[p.name] = p.GetValue(e)
	}
	return nil
}

// BeforeDelete runs the property hooks, the descriptor-level hook, the
// registered before-delete handlers and finally the cascade handlers. A
// rejecting check registered as before-delete handler therefore aborts the
// delete before any cascade or set-null side effect executes.
func (ed *EntityDescriptor) BeforeDelete(ctx context.Context, e Entity) error {
	for _, p := range ed.properties {
		if err := p.onBeforeDelete(e); err != nil {
			return err
		}
	}
	if ed.onBeforeDelete != nil {
		if err := ed.onBeforeDelete(ctx, e); err != nil {
			return err
		}
	}
	for _, handler := range ed.beforeDeleteHandlers {
		if err := handler(ctx, e); err != nil {
			return err
		}
	}
	for _, handler := range ed.cascadeDeleteHandlers {
		if err := handler(ctx, e); err != nil {
			return fmt.Errorf("cascade handler for '%s' failed: %w", ed.typeName, err)
		}
	}
	return nil
}

// AfterDelete runs the property hooks, the registered after-delete
// handlers and the descriptor-level hook.
func (ed *EntityDescriptor) AfterDelete(ctx context.Context, e Entity) error {
	for _, p := range ed.properties {
		if err := p.onAfterDelete(e); err != nil {
			return err
		}
	}
	for _, handler := range ed.afterDeleteHandlers {
		if err := handler(ctx, e); err != nil {
			return fmt.Errorf("after-delete handler for '%s' failed: %w", ed.typeName, err)
		}
	}
	if ed.onAfterDelete != nil {
		return ed.onAfterDelete(ctx, e)
	}
	return nil
}

// String returns the relation name and type identifier.
func (ed *EntityDescriptor) String() string {
	return ed.relationName + " [" + ed.typeName + "]"
}
