package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mixing-db/mixing/internal/mixing"
)

type document struct {
	mixing.BaseEntity
	Tags     StringList
	Labels   StringMap
	Flags    StringBoolMap
	Owner    EntityRef
	Watchers EntityRefList
}

func (d *document) TypeName() string { return "Document" }

type account struct {
	mixing.BaseEntity
}

func (a *account) TypeName() string { return "Account" }

func newDocumentRegistry(t *testing.T) (*mixing.Registry, *mixing.EntityDescriptor) {
	t.Helper()
	registry := mixing.NewRegistry(zap.NewNop())

	accountDescriptor := mixing.NewDescriptor(mixing.Elastic, "Account", func() mixing.Entity { return &account{} })
	require.NoError(t, registry.Register(accountDescriptor))

	documentDescriptor := mixing.NewDescriptor(mixing.Elastic, "Document", func() mixing.Entity { return &document{} }).
		AddFields(
			StringListField("Tags", func(e mixing.Entity) *StringList { return &e.(*document).Tags }),
			StringMapField("Labels", func(e mixing.Entity) *StringMap { return &e.(*document).Labels }),
			StringBoolMapField("Flags", func(e mixing.Entity) *StringBoolMap { return &e.(*document).Flags }),
			RefField("Owner", "Account", mixing.PolicyIgnore, func(e mixing.Entity) *EntityRef { return &e.(*document).Owner }),
			RefListField("Watchers", "Account", mixing.PolicyIgnore, func(e mixing.Entity) *EntityRefList { return &e.(*document).Watchers }),
		)
	require.NoError(t, registry.Register(documentDescriptor))
	require.NoError(t, registry.Link(nil))
	return registry, documentDescriptor
}

func property(t *testing.T, ed *mixing.EntityDescriptor, name string) *mixing.Property {
	t.Helper()
	p, err := ed.Property(name)
	require.NoError(t, err)
	return p
}

func TestStringListJoinsForSQL(t *testing.T) {
	_, ed := newDocumentRegistry(t)
	p := property(t, ed, "Tags")

	entity := ed.NewEntity().(*document)
	entity.Tags.Add("alpha").Add("beta").Add("gamma")

	joined, err := p.ValueForDatasource(mixing.SQL, entity)
	require.NoError(t, err)
	assert.Equal(t, "alpha,beta,gamma", joined)

	native, err := p.ValueForDatasource(mixing.Elastic, entity)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, native)
}

func TestStringListSplitsFromSQL(t *testing.T) {
	_, ed := newDocumentRegistry(t)
	p := property(t, ed, "Tags")

	entity := ed.NewEntity().(*document)
	require.NoError(t, p.SetValueFromDatasource(mixing.SQL, entity, "alpha,beta"))
	assert.Equal(t, []string{"alpha", "beta"}, entity.Tags.Data())

	empty := ed.NewEntity().(*document)
	require.NoError(t, p.SetValueFromDatasource(mixing.SQL, empty, ""))
	assert.Zero(t, empty.Tags.Size())
}

func TestStringListAcceptsSearchArrays(t *testing.T) {
	_, ed := newDocumentRegistry(t)
	p := property(t, ed, "Tags")

	entity := ed.NewEntity().(*document)
	require.NoError(t, p.SetValueFromDatasource(mixing.Elastic, entity, []interface{}{"x", "y"}))
	assert.Equal(t, []string{"x", "y"}, entity.Tags.Data())

	err := p.SetValueFromDatasource(mixing.Elastic, entity, []interface{}{"x", 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected string element")
}

func TestStringListShadowCopyIsIsolated(t *testing.T) {
	_, ed := newDocumentRegistry(t)
	p := property(t, ed, "Tags")

	stored := map[string]interface{}{"tags": []interface{}{"alpha"}}
	entity, err := ed.Make(mixing.Elastic, func(column string) (interface{}, bool) {
		value, found := stored[column]
		return value, found
	})
	require.NoError(t, err)
	assert.False(t, ed.IsChanged(entity, p))

	entity.(*document).Tags.Add("beta")
	assert.True(t, ed.IsChanged(entity, p))
}

func TestStringMapRejectsSQL(t *testing.T) {
	_, ed := newDocumentRegistry(t)
	p := property(t, ed, "Labels")

	entity := ed.NewEntity().(*document)
	entity.Labels.Put("env", "prod")

	_, err := p.ValueForDatasource(mixing.SQL, entity)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported by the sql backend")

	native, err := p.ValueForDatasource(mixing.Mango, entity)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"env": "prod"}, native)
}

func TestStringMapReadsNestedDocuments(t *testing.T) {
	_, ed := newDocumentRegistry(t)
	p := property(t, ed, "Labels")

	entity := ed.NewEntity().(*document)
	require.NoError(t, p.SetValueFromDatasource(mixing.Elastic, entity, map[string]interface{}{"env": "test"}))
	value, found := entity.Labels.Get("env")
	require.True(t, found)
	assert.Equal(t, "test", value)

	err := p.SetValueFromDatasource(mixing.Elastic, entity, map[string]interface{}{"env": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected string value for key 'env'")
}

func TestStringBoolMapConversions(t *testing.T) {
	_, ed := newDocumentRegistry(t)
	p := property(t, ed, "Flags")

	entity := ed.NewEntity().(*document)
	require.NoError(t, p.SetValueFromDatasource(mixing.Mango, entity, map[string]interface{}{"hidden": true}))
	assert.True(t, entity.Flags.Get("hidden"))

	_, err := p.ValueForDatasource(mixing.SQL, entity)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported by the sql backend")

	err = p.SetValueFromDatasource(mixing.Mango, entity, map[string]interface{}{"hidden": "yes"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected bool value for key 'hidden'")
}

func TestRefFieldStoresNilWhenEmpty(t *testing.T) {
	_, ed := newDocumentRegistry(t)
	p := property(t, ed, "Owner")

	entity := ed.NewEntity().(*document)
	value, err := p.ValueForDatasource(mixing.Elastic, entity)
	require.NoError(t, err)
	assert.Nil(t, value)

	entity.Owner.SetID("a1")
	value, err = p.ValueForDatasource(mixing.Elastic, entity)
	require.NoError(t, err)
	assert.Equal(t, "a1", value)
}

func TestRefFieldClearsOnNil(t *testing.T) {
	_, ed := newDocumentRegistry(t)
	p := property(t, ed, "Owner")

	entity := ed.NewEntity().(*document)
	entity.Owner.SetID("a1")
	require.NoError(t, p.SetValueFromDatasource(mixing.Elastic, entity, nil))
	assert.False(t, entity.Owner.IsFilled())

	require.NoError(t, p.SetValueFromDatasource(mixing.Elastic, entity, "a2"))
	assert.Equal(t, "a2", entity.Owner.ID())
}

func TestRefListFieldRejectsSQL(t *testing.T) {
	_, ed := newDocumentRegistry(t)
	p := property(t, ed, "Watchers")

	entity := ed.NewEntity().(*document)
	entity.Watchers.Add("a1").Add("a2")

	_, err := p.ValueForDatasource(mixing.SQL, entity)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported by the sql backend")

	ids, err := p.ValueForDatasource(mixing.Elastic, entity)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, ids)
}

func TestRefListFieldReadsIDArrays(t *testing.T) {
	_, ed := newDocumentRegistry(t)
	p := property(t, ed, "Watchers")

	entity := ed.NewEntity().(*document)
	require.NoError(t, p.SetValueFromDatasource(mixing.Mango, entity, []interface{}{"a1", "a2"}))
	assert.True(t, entity.Watchers.Contains("a1"))
	assert.True(t, entity.Watchers.Contains("a2"))
}
