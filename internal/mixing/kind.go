// Package mixing provides the descriptor and property model which maps
// entity types onto heterogeneous storage backends.
//
// An entity type is described once, as an ordered list of field
// descriptors assembled by a builder, and the resulting EntityDescriptor
// is able to move values between the in-memory representation and the
// native representation of each backend (SQL columns, BSON documents,
// JSON documents).
package mixing

// Kind enumerates the supported storage backends.
type Kind int

const (
	// SQL is the relational backend (JDBC-style access via database/sql).
	SQL Kind = iota
	// Elastic is the search backend (JSON documents over HTTP).
	Elastic
	// Mango is the document backend (BSON documents).
	Mango
)

// String returns the string representation of the backend kind.
func (k Kind) String() string {
	switch k {
	case SQL:
		return "sql"
	case Elastic:
		return "elastic"
	case Mango:
		return "mango"
	default:
		return "unknown"
	}
}
