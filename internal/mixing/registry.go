package mixing

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// ReferenceResolver performs the bulk follow-up operations required by
// relationship delete policies. Each mapper implements it for the entity
// types it stores.
type ReferenceResolver interface {
	// CountReferencing counts entities of the given type whose reference
	// property holds the given id.
	CountReferencing(ctx context.Context, typeName, property, id string) (int64, error)

	// DeleteReferencing deletes all entities of the given type whose
	// reference property holds the given id, invoking their lifecycle
	// hooks.
	DeleteReferencing(ctx context.Context, typeName, property, id string) error

	// ClearReferences clears the reference property on all entities of the
	// given type which hold the given id, using backend bulk updates where
	// available.
	ClearReferences(ctx context.Context, typeName, property, id string) error
}

// Registry is the process-wide lookup table of entity descriptors. It is
// populated during an explicit startup phase: Register all descriptors,
// then Link once. After the link pass succeeded the registry is read-only
// and safe for concurrent readers without locking.
type Registry struct {
	log         *zap.Logger
	descriptors map[string]*EntityDescriptor
	linked      bool
}

// NewRegistry creates an empty registry logging through the given logger.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:         log,
		descriptors: make(map[string]*EntityDescriptor),
	}
}

// Register initializes the given descriptor and adds it to the registry.
// Each entity type is registered exactly once.
func (r *Registry) Register(ed *EntityDescriptor) error {
	if r.linked {
		return fmt.Errorf("registry is already linked, cannot register '%s'", ed.typeName)
	}
	if _, found := r.descriptors[ed.typeName]; found {
		return fmt.Errorf("entity type '%s' is already registered", ed.typeName)
	}
	if err := ed.initialize(r.log); err != nil {
		return err
	}
	r.descriptors[ed.typeName] = ed
	return nil
}

// Link resolves cross-descriptor concerns, notably relationship delete
// policies. The resolvers map provides the bulk-operation implementation
// per backend kind; the resolver of the *referencing* type's backend is
// used, since that is where the follow-up operations execute.
func (r *Registry) Link(resolvers map[Kind]ReferenceResolver) error {
	if r.linked {
		return fmt.Errorf("registry is already linked")
	}

	for _, owner := range r.sortedDescriptors() {
		for _, p := range owner.Properties() {
			if p.Ref() == nil {
				continue
			}
			target, found := r.descriptors[p.Ref().Target]
			if !found {
				return fmt.Errorf("property '%s' of '%s' references unknown type '%s'",
					p.Name(), owner.TypeName(), p.Ref().Target)
			}
			if p.Ref().OnDelete == PolicyIgnore {
				continue
			}
			resolver, found := resolvers[owner.Kind()]
			if !found {
				return fmt.Errorf("no reference resolver for backend '%s' required by '%s.%s'",
					owner.Kind(), owner.TypeName(), p.Name())
			}
			r.wireDeleteHandler(owner, p, target, resolver)
		}
	}

	r.linked = true
	return nil
}

// wireDeleteHandler attaches the delete-policy handler for one reference
// property onto the referenced descriptor. Reject checks run as
// before-delete handlers so they abort the delete before any cascade or
// set-null side effect executes.
func (r *Registry) wireDeleteHandler(owner *EntityDescriptor, p *Property, target *EntityDescriptor, resolver ReferenceResolver) {
	ownerType := owner.TypeName()
	property := p.Name()

	switch p.Ref().OnDelete {
	case PolicyReject:
		target.AddBeforeDeleteHandler(func(ctx context.Context, e Entity) error {
			count, err := resolver.CountReferencing(ctx, ownerType, property, e.ID())
			if err != nil {
				return err
			}
			if count == 1 {
				return &ValidationError{
					Type:    target.TypeName(),
					Message: fmt.Sprintf("cannot delete: still referenced by one %s via '%s'", ownerType, property),
				}
			}
			if count > 1 {
				return &ValidationError{
					Type:    target.TypeName(),
					Message: fmt.Sprintf("cannot delete: still referenced by %d %s entities via '%s'", count, ownerType, property),
				}
			}
			return nil
		})
	case PolicyCascade:
		target.AddCascadeDeleteHandler(func(ctx context.Context, e Entity) error {
			return resolver.DeleteReferencing(ctx, ownerType, property, e.ID())
		})
	case PolicySetNull:
		target.AddCascadeDeleteHandler(func(ctx context.Context, e Entity) error {
			return resolver.ClearReferences(ctx, ownerType, property, e.ID())
		})
	}
}

// Descriptor returns the descriptor registered for the given type name.
func (r *Registry) Descriptor(typeName string) (*EntityDescriptor, error) {
	ed, found := r.descriptors[typeName]
	if !found {
		return nil, fmt.Errorf("no descriptor registered for entity type '%s'", typeName)
	}
	return ed, nil
}

// DescriptorFor returns the descriptor for the given entity instance.
func (r *Registry) DescriptorFor(e Entity) (*EntityDescriptor, error) {
	return r.Descriptor(e.TypeName())
}

// Descriptors returns all registered descriptors ordered by type name.
func (r *Registry) Descriptors() []*EntityDescriptor {
	return r.sortedDescriptors()
}

func (r *Registry) sortedDescriptors() []*EntityDescriptor {
	result := make([]*EntityDescriptor, 0, len(r.descriptors))
	for _, ed := range r.descriptors {
		result = append(result, ed)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].typeName < result[j].typeName
	})
	return result
}
