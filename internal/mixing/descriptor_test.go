package mixing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type customer struct {
	BaseEntity
	Name  string
	Email string
	Score int64
}

func (c *customer) TypeName() string { return "Customer" }

func customerFields() []*FieldBuilder {
	return []*FieldBuilder{
		Field("Name", TypeString).
			Length(100).
			Get(func(e Entity) interface{} { return e.(*customer).Name }).
			Set(func(e Entity, value interface{}) error {
				e.(*customer).Name = value.(string)
				return nil
			}),
		Field("Email", TypeString).
			Length(150).
			Default("unknown@example.com").
			Get(func(e Entity) interface{} { return e.(*customer).Email }).
			Set(func(e Entity, value interface{}) error {
				e.(*customer).Email = value.(string)
				return nil
			}),
		Field("Score", TypeInt).
			NullAllowed().
			Get(func(e Entity) interface{} { return e.(*customer).Score }).
			Set(func(e Entity, value interface{}) error {
				switch v := value.(type) {
				case int64:
					e.(*customer).Score = v
				case int:
					e.(*customer).Score = int64(v)
				case float64:
					e.(*customer).Score = int64(v)
				default:
					return errors.New("not a number")
				}
				return nil
			}),
	}
}

func newCustomerDescriptor(t *testing.T) *EntityDescriptor {
	t.Helper()
	ed := NewDescriptor(SQL, "Customer", func() Entity { return &customer{} }).
		Versioned().
		AddFields(customerFields()...)
	require.NoError(t, ed.initialize(zap.NewNop()))
	return ed
}

func TestMakeFillsShadowCopy(t *testing.T) {
	ed := newCustomerDescriptor(t)

	stored := map[string]interface{}{
		"name":  "Alice",
		"email": "alice@example.com",
		"score": int64(42),
	}
	entity, err := ed.Make(SQL, func(column string) (interface{}, bool) {
		value, found := stored[column]
		return value, found
	})
	require.NoError(t, err)
	entity.SetID("c1")

	for _, p := range ed.Properties() {
		assert.False(t, ed.IsChanged(entity, p), "property %s should be unchanged after load", p.Name())
		assert.True(t, ed.IsFetched(entity, p), "property %s should be fetched", p.Name())
	}

	entity.(*customer).Name = "Bob"
	nameProp, err := ed.Property("Name")
	require.NoError(t, err)
	emailProp, err := ed.Property("Email")
	require.NoError(t, err)
	assert.True(t, ed.IsChanged(entity, nameProp))
	assert.False(t, ed.IsChanged(entity, emailProp))
}

func TestMakePartialProjection(t *testing.T) {
	ed := newCustomerDescriptor(t)

	entity, err := ed.Make(SQL, func(column string) (interface{}, bool) {
		if column == "name" {
			return "Alice", true
		}
		return nil, false
	})
	require.NoError(t, err)
	entity.SetID("c1")

	nameProp, err := ed.Property("Name")
	require.NoError(t, err)
	emailProp, err := ed.Property("Email")
	require.NoError(t, err)
	assert.True(t, ed.IsFetched(entity, nameProp))
	assert.False(t, ed.IsFetched(entity, emailProp))
}

func TestBeforeSaveAppliesDefault(t *testing.T) {
	ed := newCustomerDescriptor(t)

	entity := &customer{Name: "Alice"}
	require.NoError(t, ed.BeforeSave(context.Background(), entity))
	assert.Equal(t, "unknown@example.com", entity.Email)
}

func TestBeforeSaveRejectsEmptyRequiredField(t *testing.T) {
	ed := newCustomerDescriptor(t)

	entity := &customer{}
	err := ed.BeforeSave(context.Background(), entity)
	require.Error(t, err)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "Name", validationErr.Property)
	assert.True(t, errors.Is(err, ErrValidationFailed))
}

func TestAfterSaveResetsShadowCopy(t *testing.T) {
	ed := newCustomerDescriptor(t)

	entity := &customer{Name: "Alice", Email: "alice@example.com"}
	entity.SetID("c1")
	require.NoError(t, ed.AfterSave(context.Background(), entity))

	for _, p := range ed.Properties() {
		assert.False(t, ed.IsChanged(entity, p), "property %s should be clean after save", p.Name())
	}
}

func TestDuplicatePropertyKeepsFirstRegistration(t *testing.T) {
	fields := customerFields()
	duplicate := Field("name", TypeString).
		Get(func(e Entity) interface{} { return "" }).
		Set(func(e Entity, value interface{}) error { return nil })

	ed := NewDescriptor(SQL, "Customer", func() Entity { return &customer{} }).
		AddFields(append(fields, duplicate)...)
	require.NoError(t, ed.initialize(zap.NewNop()))

	assert.Len(t, ed.Properties(), 3)
	p, err := ed.Property("Name")
	require.NoError(t, err)
	assert.Equal(t, 100, p.Length())
}

type tracedEntity struct {
	BaseEntity
	Name      string
	CreatedBy string
}

func (e *tracedEntity) TypeName() string { return "TracedEntity" }

func TestMixinComposition(t *testing.T) {
	var saves int
	trace := NewMixin("Trace",
		Field("CreatedBy", TypeString).
			NullAllowed().
			Get(func(e Entity) interface{} { return e.(*tracedEntity).CreatedBy }).
			Set(func(e Entity, value interface{}) error {
				e.(*tracedEntity).CreatedBy = value.(string)
				return nil
			}),
	).BeforeSave(func(ctx context.Context, e Entity) error {
		saves++
		return nil
	})

	ed := NewDescriptor(SQL, "TracedEntity", func() Entity { return &tracedEntity{} }).
		AddFields(
			Field("Name", TypeString).
				NullAllowed().
				Get(func(e Entity) interface{} { return e.(*tracedEntity).Name }).
				Set(func(e Entity, value interface{}) error {
					e.(*tracedEntity).Name = value.(string)
					return nil
				}),
		).
		WithMixin(trace)
	require.NoError(t, ed.initialize(zap.NewNop()))

	p, err := ed.Property("trace_CreatedBy")
	require.NoError(t, err)
	assert.Equal(t, "trace_createdby", p.ColumnName())
	assert.Equal(t, "trace.CreatedBy", p.Label())

	// Dotted access paths resolve to the composed name as well.
	p2, err := ed.Property("trace.CreatedBy")
	require.NoError(t, err)
	assert.Same(t, p, p2)

	require.NoError(t, ed.BeforeSave(context.Background(), &tracedEntity{}))
	assert.Equal(t, 1, saves)
}

func TestLifecycleOrdering(t *testing.T) {
	var order []string

	ed := NewDescriptor(SQL, "Customer", func() Entity { return &customer{} }).
		AddFields(
			Field("Name", TypeString).
				NullAllowed().
				BeforeSave(func(e Entity) error {
					order = append(order, "property")
					return nil
				}).
				Get(func(e Entity) interface{} { return e.(*customer).Name }).
				Set(func(e Entity, value interface{}) error {
					e.(*customer).Name = value.(string)
					return nil
				}),
		).
		OnBeforeSave(func(ctx context.Context, e Entity) error {
			order = append(order, "descriptor")
			return nil
		})
	ed.AddBeforeSaveHandler(func(ctx context.Context, e Entity) error {
		order = append(order, "handler")
		return nil
	})
	require.NoError(t, ed.initialize(zap.NewNop()))

	require.NoError(t, ed.BeforeSave(context.Background(), &customer{Name: "x"}))
	assert.Equal(t, []string{"handler", "property", "descriptor"}, order)
}

func TestBeforeDeleteRunsChecksBeforeCascades(t *testing.T) {
	var order []string

	ed := NewDescriptor(SQL, "Customer", func() Entity { return &customer{} }).
		AddFields(customerFields()...)
	require.NoError(t, ed.initialize(zap.NewNop()))

	ed.AddBeforeDeleteHandler(func(ctx context.Context, e Entity) error {
		order = append(order, "check")
		return nil
	})
	ed.AddCascadeDeleteHandler(func(ctx context.Context, e Entity) error {
		order = append(order, "cascade")
		return nil
	})

	entity := &customer{Name: "Alice"}
	entity.SetID("c1")
	require.NoError(t, ed.BeforeDelete(context.Background(), entity))
	assert.Equal(t, []string{"check", "cascade"}, order)
}

func TestBeforeDeleteAbortsBeforeCascades(t *testing.T) {
	var cascaded bool

	ed := NewDescriptor(SQL, "Customer", func() Entity { return &customer{} }).
		AddFields(customerFields()...)
	require.NoError(t, ed.initialize(zap.NewNop()))

	ed.AddBeforeDeleteHandler(func(ctx context.Context, e Entity) error {
		return &ValidationError{Type: "Customer", Message: "still referenced"}
	})
	ed.AddCascadeDeleteHandler(func(ctx context.Context, e Entity) error {
		cascaded = true
		return nil
	})

	entity := &customer{Name: "Alice"}
	entity.SetID("c1")
	err := ed.BeforeDelete(context.Background(), entity)
	require.Error(t, err)
	assert.False(t, cascaded, "cascade handlers must not run after a rejected delete")
}
