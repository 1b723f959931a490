package mixing

import "strings"

// SubfieldSeparator separates a mixin name from a field name in composed
// property names.
const SubfieldSeparator = "_"

// Mapping names a single property of an entity type. It is the value used
// by query constraints to reference a column or document field without
// holding on to the property itself.
type Mapping struct {
	name string
}

// Named creates a mapping for the property with the given name.
func Named(name string) Mapping {
	return Mapping{name: name}
}

// Name returns the property name referenced by this mapping.
func (m Mapping) Name() string {
	return m.name
}

// Inside prefixes the mapping with the given mixin name, matching the
// naming scheme used when mixin fields are composed into a descriptor.
func (m Mapping) Inside(mixin string) Mapping {
	return Mapping{name: strings.ToLower(mixin) + SubfieldSeparator + m.name}
}

// String returns the referenced property name.
func (m Mapping) String() string {
	return m.name
}
