package mixing

// Entity is implemented by every persistable record type. Concrete entity
// types embed BaseEntity and add a TypeName which ties the instance to its
// descriptor in the registry.
type Entity interface {
	// TypeName returns the entity type identifier used to look up the
	// descriptor in the registry.
	TypeName() string

	// ID returns the record identifier, or "" if the entity is new.
	ID() string

	// SetID assigns the record identifier.
	SetID(id string)

	// Version returns the optimistic locking token last read from storage.
	Version() int64

	// SetVersion updates the optimistic locking token.
	SetVersion(version int64)

	// IsNew determines if the entity has not been persisted yet.
	IsNew() bool

	persisted() map[string]interface{}
}

// BaseEntity holds the state shared by all entities: the identifier, the
// version token and the shadow copy of the data last seen in storage,
// which drives dirty-change detection.
type BaseEntity struct {
	id            string
	version       int64
	persistedData map[string]interface{}
}

// ID returns the record identifier, or "" if the entity is new.
func (e *BaseEntity) ID() string {
	return e.id
}

// SetID assigns the record identifier.
func (e *BaseEntity) SetID(id string) {
	e.id = id
}

// Version returns the optimistic locking token last read from storage.
func (e *BaseEntity) Version() int64 {
	return e.version
}

// SetVersion updates the optimistic locking token.
func (e *BaseEntity) SetVersion(version int64) {
	e.version = version
}

// IsNew determines if the entity has not been persisted yet.
func (e *BaseEntity) IsNew() bool {
	return e.id == ""
}

// persisted returns the shadow copy, creating it on first access. The map
// is keyed by property name and only contains properties which were
// actually fetched, so partial projections stay detectable.
func (e *BaseEntity) persisted() map[string]interface{} {
	if e.persistedData == nil {
		e.persistedData = make(map[string]interface{})
	}
	return e.persistedData
}
