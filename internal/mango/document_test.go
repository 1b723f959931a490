package mango

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mixing-db/mixing/internal/mixing"
)

type note struct {
	mixing.BaseEntity
	Title string
	Body  string
}

func (n *note) TypeName() string { return "Note" }

func noteDescriptor(t *testing.T) *mixing.Registry {
	t.Helper()
	registry := mixing.NewRegistry(nil)

	descriptor := mixing.NewDescriptor(mixing.Mango, "Note", func() mixing.Entity { return &note{} }).
		AddFields(
			mixing.Field("Title", mixing.TypeString).
				Get(func(e mixing.Entity) interface{} { return e.(*note).Title }).
				Set(func(e mixing.Entity, value interface{}) error {
					e.(*note).Title = value.(string)
					return nil
				}),
			mixing.Field("Body", mixing.TypeString).
				NullAllowed().
				Get(func(e mixing.Entity) interface{} { return e.(*note).Body }).
				Set(func(e mixing.Entity, value interface{}) error {
					e.(*note).Body = value.(string)
					return nil
				}),
		)
	require.NoError(t, registry.Register(descriptor))
	require.NoError(t, registry.Link(nil))
	return registry
}

func TestEntityFromDocument(t *testing.T) {
	registry := noteDescriptor(t)
	ed, err := registry.Descriptor("Note")
	require.NoError(t, err)

	entity, err := entityFromDocument(ed, bson.M{
		"_id":   "n1",
		"title": "groceries",
		"body":  "milk",
	})
	require.NoError(t, err)

	loaded := entity.(*note)
	assert.Equal(t, "n1", loaded.ID())
	assert.Equal(t, "groceries", loaded.Title)
	assert.Equal(t, "milk", loaded.Body)

	for _, p := range ed.Properties() {
		assert.False(t, ed.IsChanged(entity, p), "property %s should be clean after load", p.Name())
	}
}

func TestEntityFromDocumentPartialProjection(t *testing.T) {
	registry := noteDescriptor(t)
	ed, err := registry.Descriptor("Note")
	require.NoError(t, err)

	entity, err := entityFromDocument(ed, bson.M{"_id": "n1", "title": "groceries"})
	require.NoError(t, err)

	titleProp, err := ed.Property("Title")
	require.NoError(t, err)
	bodyProp, err := ed.Property("Body")
	require.NoError(t, err)
	assert.True(t, ed.IsFetched(entity, titleProp))
	assert.False(t, ed.IsFetched(entity, bodyProp))
}

func TestFinderBuildsFilter(t *testing.T) {
	registry := noteDescriptor(t)
	mango := NewMango(nil, registry, nil)

	other := &note{Title: "x"}
	other.SetID("n9")

	finder := mango.Select("Note").
		WhereEq("title", "groceries").
		WhereNotEq("body", "").
		WhereIn("author", other, "u2").
		OrderDesc("title").
		Limit(5).
		Skip(10)

	assert.Equal(t, bson.M{
		"title":  "groceries",
		"body":   bson.M{"$ne": ""},
		"author": bson.M{"$in": []interface{}{"n9", "u2"}},
	}, finder.filter)
	assert.Equal(t, bson.D{{Key: "title", Value: -1}}, finder.sort)

	opts := finder.findOptions()
	require.NotNil(t, opts.Limit)
	assert.Equal(t, int64(5), *opts.Limit)
	require.NotNil(t, opts.Skip)
	assert.Equal(t, int64(10), *opts.Skip)
}

func TestUpdaterUnwrapsEntityValues(t *testing.T) {
	registry := noteDescriptor(t)
	mango := NewMango(nil, registry, nil)

	owner := &note{Title: "x"}
	owner.SetID("n1")

	updater := mango.UpdateMany("Note").
		Where("owner", owner).
		Set("body", "archived")

	assert.Equal(t, bson.M{"owner": "n1"}, updater.filter)
	assert.Equal(t, bson.M{"body": "archived"}, updater.set)
}
