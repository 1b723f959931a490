package mango

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mixing-db/mixing/internal/mixing"
)

func mongoClientOptions(uri string) *options.ClientOptions {
	return options.Client().ApplyURI(uri)
}

// Finder is a fluent query builder for one entity type.
type Finder struct {
	mango    *Mango
	typeName string

	filter bson.M
	sort   bson.D
	limit  int64
	skip   int64
}

// Select starts a query against the given entity type.
func (m *Mango) Select(typeName string) *Finder {
	return &Finder{mango: m, typeName: typeName, filter: bson.M{}}
}

// WhereEq filters on property equality.
func (f *Finder) WhereEq(property string, value interface{}) *Finder {
	f.filter[property] = valueForFilter(value)
	return f
}

// WhereNotEq filters on property inequality.
func (f *Finder) WhereNotEq(property string, value interface{}) *Finder {
	f.filter[property] = bson.M{"$ne": valueForFilter(value)}
	return f
}

// WhereIn filters on membership in the given values.
func (f *Finder) WhereIn(property string, values ...interface{}) *Finder {
	converted := make([]interface{}, len(values))
	for i, value := range values {
		converted[i] = valueForFilter(value)
	}
	f.filter[property] = bson.M{"$in": converted}
	return f
}

// OrderAsc appends an ascending sort on the given property.
func (f *Finder) OrderAsc(property string) *Finder {
	f.sort = append(f.sort, bson.E{Key: property, Value: 1})
	return f
}

// OrderDesc appends a descending sort on the given property.
func (f *Finder) OrderDesc(property string) *Finder {
	f.sort = append(f.sort, bson.E{Key: property, Value: -1})
	return f
}

// Limit restricts the number of returned entities.
func (f *Finder) Limit(limit int64) *Finder {
	f.limit = limit
	return f
}

// Skip skips the given number of entities.
func (f *Finder) Skip(skip int64) *Finder {
	f.skip = skip
	return f
}

// valueForFilter unwraps entities into their ids so references can be
// filtered on directly.
func valueForFilter(value interface{}) interface{} {
	if entity, ok := value.(mixing.Entity); ok {
		return entity.ID()
	}
	return value
}

func (f *Finder) findOptions() *options.FindOptions {
	opts := options.Find()
	if len(f.sort) > 0 {
		opts.SetSort(f.sort)
	}
	if f.limit > 0 {
		opts.SetLimit(f.limit)
	}
	if f.skip > 0 {
		opts.SetSkip(f.skip)
	}
	return opts
}

// All executes the query and returns all matching entities.
func (f *Finder) All(ctx context.Context) ([]mixing.Entity, error) {
	ed, err := f.mango.registry.Descriptor(f.typeName)
	if err != nil {
		return nil, err
	}

	defer f.mango.track(time.Now())
	cursor, err := f.mango.collection(ed).Find(ctx, f.filter, f.findOptions())
	if err != nil {
		return nil, &mixing.TransportError{Op: "query " + f.typeName, Cause: err}
	}
	defer cursor.Close(ctx)

	var result []mixing.Entity
	for cursor.Next(ctx) {
		var document bson.M
		if err := cursor.Decode(&document); err != nil {
			return nil, &mixing.TransportError{Op: "query " + f.typeName, Cause: err}
		}
		entity, err := entityFromDocument(ed, document)
		if err != nil {
			return nil, err
		}
		result = append(result, entity)
	}
	if err := cursor.Err(); err != nil {
		return nil, &mixing.TransportError{Op: "query " + f.typeName, Cause: err}
	}
	return result, nil
}

// First executes the query and returns the first matching entity, if any.
func (f *Finder) First(ctx context.Context) (mixing.Entity, bool, error) {
	entities, err := f.Limit(1).All(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(entities) == 0 {
		return nil, false, nil
	}
	return entities[0], true, nil
}

// Count executes the query and returns the number of matching entities.
func (f *Finder) Count(ctx context.Context) (int64, error) {
	ed, err := f.mango.registry.Descriptor(f.typeName)
	if err != nil {
		return 0, err
	}

	defer f.mango.track(time.Now())
	count, err := f.mango.collection(ed).CountDocuments(ctx, f.filter)
	if err != nil {
		return 0, &mixing.TransportError{Op: "count " + f.typeName, Cause: err}
	}
	return count, nil
}

// Exists determines if the query matches at least one entity.
func (f *Finder) Exists(ctx context.Context) (bool, error) {
	count, err := f.Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
