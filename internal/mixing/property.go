package mixing

import (
	"fmt"
	"strings"
	"time"
)

// FieldType tags the declared type of a property.
type FieldType int

const (
	TypeString FieldType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeTimestamp
	TypeStringList
	TypeStringMap
	TypeStringBoolMap
	TypeRef
	TypeRefList
)

// String returns the string representation of the field type.
func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeStringList:
		return "stringList"
	case TypeStringMap:
		return "stringMap"
	case TypeStringBoolMap:
		return "stringBoolMap"
	case TypeRef:
		return "ref"
	case TypeRefList:
		return "refList"
	default:
		return "unknown"
	}
}

// DeletePolicy determines what happens to referencing entities when the
// referenced entity is deleted.
type DeletePolicy int

const (
	// PolicyReject blocks the delete while at least one reference remains.
	PolicyReject DeletePolicy = iota
	// PolicyCascade deletes all referencing entities.
	PolicyCascade
	// PolicySetNull clears the reference field on referencing entities.
	PolicySetNull
	// PolicyIgnore leaves referencing entities untouched.
	PolicyIgnore
)

// String returns the string representation of the delete policy.
func (p DeletePolicy) String() string {
	switch p {
	case PolicyReject:
		return "reject"
	case PolicyCascade:
		return "cascade"
	case PolicySetNull:
		return "set_null"
	case PolicyIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

// RefInfo describes the relationship represented by a reference property.
type RefInfo struct {
	// Target is the type name of the referenced entity type.
	Target string
	// OnDelete is the policy applied when the referenced entity is deleted.
	OnDelete DeletePolicy
}

// Getter reads the current in-memory value of a property from an entity.
type Getter func(e Entity) interface{}

// Setter writes a value into the entity. It mutates only the instance and
// never touches the persisted shadow state.
type Setter func(e Entity, value interface{}) error

// Transform converts between the in-memory value of a property and the
// native representation of one backend kind.
type Transform func(kind Kind, value interface{}) (interface{}, error)

// PropertyHook is invoked on an entity at a save or delete boundary.
type PropertyHook func(e Entity) error

// Property represents one mapped attribute of an entity type. Properties
// are created during descriptor initialization and immutable afterwards,
// except for the link pass which resolves reference relationships.
type Property struct {
	name         string
	columnName   string
	label        string
	fieldType    FieldType
	length       int
	defaultValue interface{}
	nullable     bool
	transient    bool
	ref          *RefInfo
	ownerType    string

	get            Getter
	set            Setter
	toDatasource   Transform
	fromDatasource Transform

	beforeSaveHook   PropertyHook
	afterSaveHook    PropertyHook
	beforeDeleteHook PropertyHook
	afterDeleteHook  PropertyHook
}

// Name returns the semantic property name, unique within its descriptor.
func (p *Property) Name() string {
	return p.name
}

// ColumnName returns the storage column or field name.
func (p *Property) ColumnName() string {
	return p.columnName
}

// Label returns the declaring access path of the property. For a directly
// declared field this equals the name; for a mixin field it names the
// contributing mixin.
func (p *Property) Label() string {
	return p.label
}

// Type returns the declared field type.
func (p *Property) Type() FieldType {
	return p.fieldType
}

// Length returns the declared column length, or 0 if unspecified.
func (p *Property) Length() int {
	return p.length
}

// Nullable determines if the property accepts empty values.
func (p *Property) Nullable() bool {
	return p.nullable
}

// Transient determines if the property is excluded from persistence.
func (p *Property) Transient() bool {
	return p.transient
}

// DefaultValue returns the declared default, or nil.
func (p *Property) DefaultValue() interface{} {
	return p.defaultValue
}

// Ref returns the relationship info for reference properties, or nil.
func (p *Property) Ref() *RefInfo {
	return p.ref
}

// OwnerType returns the type name of the descriptor owning this property.
func (p *Property) OwnerType() string {
	return p.ownerType
}

// GetValue reads the current in-memory value from the given entity.
func (p *Property) GetValue(e Entity) interface{} {
	return p.get(e)
}

// SetValue writes the given value into the entity.
func (p *Property) SetValue(e Entity, value interface{}) error {
	if err := p.set(e, value); err != nil {
		return &ConversionError{Type: p.ownerType, Property: p.name, Value: value, Cause: err}
	}
	return nil
}

// ValueForDatasource converts the current value into the native
// representation of the given backend kind.
func (p *Property) ValueForDatasource(kind Kind, e Entity) (interface{}, error) {
	value := p.get(e)
	if p.toDatasource == nil {
		return value, nil
	}
	result, err := p.toDatasource(kind, value)
	if err != nil {
		return nil, &ConversionError{Type: p.ownerType, Property: p.name, Value: value, Cause: err}
	}
	return result, nil
}

// SetValueFromDatasource converts the stored native value back into the
// declared type and writes it into the entity. A malformed stored value
// surfaces as a ConversionError, never as a silent default.
func (p *Property) SetValueFromDatasource(kind Kind, e Entity, value interface{}) error {
	effective := value
	if p.fromDatasource != nil {
		converted, err := p.fromDatasource(kind, value)
		if err != nil {
			return &ConversionError{Type: p.ownerType, Property: p.name, Value: value, Cause: err}
		}
		effective = converted
	}
	if err := p.set(e, effective); err != nil {
		return &ConversionError{Type: p.ownerType, Property: p.name, Value: value, Cause: err}
	}
	return nil
}

// onBeforeSave applies the default value to empty properties and enforces
// nullability, then runs the declared before-save hook.
func (p *Property) onBeforeSave(e Entity) error {
	if isEmptyValue(p.get(e)) && p.defaultValue != nil {
		if err := p.set(e, p.defaultValue); err != nil {
			return &ConversionError{Type: p.ownerType, Property: p.name, Value: p.defaultValue, Cause: err}
		}
	}
	if !p.nullable && isEmptyValue(p.get(e)) {
		return &ValidationError{Type: p.ownerType, Property: p.name, Message: "field must be filled"}
	}
	if p.beforeSaveHook != nil {
		return p.beforeSaveHook(e)
	}
	return nil
}

func (p *Property) onAfterSave(e Entity) error {
	if p.afterSaveHook != nil {
		return p.afterSaveHook(e)
	}
	return nil
}

func (p *Property) onBeforeDelete(e Entity) error {
	if p.beforeDeleteHook != nil {
		return p.beforeDeleteHook(e)
	}
	return nil
}

func (p *Property) onAfterDelete(e Entity) error {
	if p.afterDeleteHook != nil {
		return p.afterDeleteHook(e)
	}
	return nil
}

// Definition describes where the property was declared, used in conflict
// warnings.
func (p *Property) Definition() string {
	return fmt.Sprintf("%s (%s %s)", p.label, p.fieldType, p.name)
}

// isEmptyValue determines if a value counts as "not filled" for default
// handling and nullability checks.
func isEmptyValue(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case time.Time:
		return v.IsZero()
	default:
		return false
	}
}

// FieldBuilder assembles a Property. Entity types register an ordered list
// of field builders instead of relying on runtime reflection.
type FieldBuilder struct {
	property *Property
}

// Field starts the declaration of a property with the given name and type.
// The storage column defaults to the lower-cased name.
func Field(name string, fieldType FieldType) *FieldBuilder {
	return &FieldBuilder{property: &Property{
		name:       name,
		columnName: strings.ToLower(name),
		label:      name,
		fieldType:  fieldType,
	}}
}

// Column overrides the storage column or field name.
func (b *FieldBuilder) Column(name string) *FieldBuilder {
	b.property.columnName = name
	return b
}

// Length declares the column length used by the schema description.
func (b *FieldBuilder) Length(length int) *FieldBuilder {
	b.property.length = length
	return b
}

// Default declares the value applied to empty properties before a save.
func (b *FieldBuilder) Default(value interface{}) *FieldBuilder {
	b.property.defaultValue = value
	return b
}

// NullAllowed permits empty values for this property.
func (b *FieldBuilder) NullAllowed() *FieldBuilder {
	b.property.nullable = true
	return b
}

// Transient excludes the property from persistence.
func (b *FieldBuilder) Transient() *FieldBuilder {
	b.property.transient = true
	return b
}

// Get declares the accessor reading the field from the entity.
func (b *FieldBuilder) Get(get Getter) *FieldBuilder {
	b.property.get = get
	return b
}

// Set declares the accessor writing the field into the entity.
func (b *FieldBuilder) Set(set Setter) *FieldBuilder {
	b.property.set = set
	return b
}

// ToDatasource overrides the conversion into a backend representation.
func (b *FieldBuilder) ToDatasource(transform Transform) *FieldBuilder {
	b.property.toDatasource = transform
	return b
}

// FromDatasource overrides the conversion from a backend representation.
func (b *FieldBuilder) FromDatasource(transform Transform) *FieldBuilder {
	b.property.fromDatasource = transform
	return b
}

// RefTo declares the property as a reference to the given target type with
// the given delete policy. The relationship is wired during the registry
// link pass.
func (b *FieldBuilder) RefTo(target string, onDelete DeletePolicy) *FieldBuilder {
	b.property.ref = &RefInfo{Target: target, OnDelete: onDelete}
	if b.property.fieldType != TypeRefList {
		b.property.fieldType = TypeRef
	}
	return b
}

// BeforeSave attaches a property-level before-save hook.
func (b *FieldBuilder) BeforeSave(hook PropertyHook) *FieldBuilder {
	b.property.beforeSaveHook = hook
	return b
}

// AfterSave attaches a property-level after-save hook.
func (b *FieldBuilder) AfterSave(hook PropertyHook) *FieldBuilder {
	b.property.afterSaveHook = hook
	return b
}

// BeforeDelete attaches a property-level before-delete hook.
func (b *FieldBuilder) BeforeDelete(hook PropertyHook) *FieldBuilder {
	b.property.beforeDeleteHook = hook
	return b
}

// AfterDelete attaches a property-level after-delete hook.
func (b *FieldBuilder) AfterDelete(hook PropertyHook) *FieldBuilder {
	b.property.afterDeleteHook = hook
	return b
}

// build finalizes the property for the given owner, applying the prefix
// used for mixin composition.
func (b *FieldBuilder) build(ownerType, prefix string) (*Property, error) {
	p := *b.property
	if p.get == nil || p.set == nil {
		return nil, fmt.Errorf("property '%s' of '%s' declares no accessors", p.name, ownerType)
	}
	if prefix != "" {
		p.name = prefix + SubfieldSeparator + p.name
		p.columnName = prefix + SubfieldSeparator + p.columnName
		p.label = prefix + "." + p.label
	}
	p.ownerType = ownerType
	return &p, nil
}
