package jdbc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mixing-db/mixing/internal/mixing"
)

type customer struct {
	mixing.BaseEntity
	Name  string
	Email string
}

func (c *customer) TypeName() string { return "Customer" }

type purchase struct {
	mixing.BaseEntity
	CustomerID string
	Amount     int64
}

func (p *purchase) TypeName() string { return "Purchase" }

func stringField(name string, get func(mixing.Entity) *string) *mixing.FieldBuilder {
	return mixing.Field(name, mixing.TypeString).
		NullAllowed().
		Get(func(e mixing.Entity) interface{} { return *get(e) }).
		Set(func(e mixing.Entity, value interface{}) error {
			if value == nil {
				*get(e) = ""
				return nil
			}
			*get(e) = value.(string)
			return nil
		})
}

func intField(name string, get func(mixing.Entity) *int64) *mixing.FieldBuilder {
	return mixing.Field(name, mixing.TypeInt).
		NullAllowed().
		Get(func(e mixing.Entity) interface{} { return *get(e) }).
		Set(func(e mixing.Entity, value interface{}) error {
			switch v := value.(type) {
			case nil:
				*get(e) = 0
			case int64:
				*get(e) = v
			case int:
				*get(e) = int64(v)
			case float64:
				*get(e) = int64(v)
			}
			return nil
		})
}

func newTestRegistry(t *testing.T) *mixing.Registry {
	t.Helper()
	registry := mixing.NewRegistry(nil)

	customerDescriptor := mixing.NewDescriptor(mixing.SQL, "Customer", func() mixing.Entity { return &customer{} }).
		Versioned().
		AddFields(
			stringField("Name", func(e mixing.Entity) *string { return &e.(*customer).Name }),
			stringField("Email", func(e mixing.Entity) *string { return &e.(*customer).Email }),
		)
	require.NoError(t, registry.Register(customerDescriptor))

	purchaseDescriptor := mixing.NewDescriptor(mixing.SQL, "Purchase", func() mixing.Entity { return &purchase{} }).
		AddFields(
			stringField("Customer", func(e mixing.Entity) *string { return &e.(*purchase).CustomerID }),
			intField("Amount", func(e mixing.Entity) *int64 { return &e.(*purchase).Amount }),
		)
	require.NoError(t, registry.Register(purchaseDescriptor))

	require.NoError(t, registry.Link(nil))
	return registry
}
