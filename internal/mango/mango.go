// Package mango implements the document-store backend on top of the
// official MongoDB driver.
package mango

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/mixing-db/mixing/internal/es"
	"github.com/mixing-db/mixing/internal/mixing"
)

// Mango is the entity mapper for the document backend.
type Mango struct {
	database *mongo.Database
	registry *mixing.Registry
	log      *zap.Logger

	callDuration *es.Average
}

// NewMango creates a mapper on top of the given database handle.
func NewMango(database *mongo.Database, registry *mixing.Registry, log *zap.Logger) *Mango {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mango{
		database:     database,
		registry:     registry,
		log:          log,
		callDuration: es.NewAverage(256),
	}
}

// Connect opens a client for the given connection string and returns the
// named database.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, mongoClientOptions(uri))
	if err != nil {
		return nil, &mixing.TransportError{Op: "connect", Cause: err}
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, &mixing.TransportError{Op: "connect", Cause: err}
	}
	return client.Database(database), nil
}

// CallDuration exposes the rolling average call duration in milliseconds.
func (m *Mango) CallDuration() *es.Average {
	return m.callDuration
}

func (m *Mango) collection(ed *mixing.EntityDescriptor) *mongo.Collection {
	return m.database.Collection(ed.Relation())
}

func (m *Mango) track(start time.Time) {
	m.callDuration.AddDuration(time.Since(start))
}

// Update persists the given entity. New entities are inserted with a
// generated id; existing ones receive a partial update covering only the
// changed properties. If nothing changed, no call is issued.
func (m *Mango) Update(ctx context.Context, entity mixing.Entity) error {
	ed, err := m.registry.DescriptorFor(entity)
	if err != nil {
		return err
	}
	if err := ed.BeforeSave(ctx, entity); err != nil {
		return err
	}

	if entity.IsNew() {
		err = m.insert(ctx, ed, entity)
	} else {
		err = m.updateExisting(ctx, ed, entity)
	}
	if err != nil {
		return err
	}
	return ed.AfterSave(ctx, entity)
}

func (m *Mango) insert(ctx context.Context, ed *mixing.EntityDescriptor, entity mixing.Entity) error {
	defer m.track(time.Now())

	entity.SetID(mixing.GenerateID())
	document := bson.M{"_id": entity.ID()}
	for _, p := range ed.Properties() {
		if p.Transient() {
			continue
		}
		value, err := p.ValueForDatasource(mixing.Mango, entity)
		if err != nil {
			return err
		}
		document[p.ColumnName()] = value
	}

	if _, err := m.collection(ed).InsertOne(ctx, document); err != nil {
		entity.SetID("")
		return &mixing.TransportError{Op: "insert " + ed.TypeName(), Cause: err}
	}
	return nil
}

func (m *Mango) updateExisting(ctx context.Context, ed *mixing.EntityDescriptor, entity mixing.Entity) error {
	changes := bson.M{}
	for _, p := range ed.Properties() {
		if p.Transient() || !ed.IsChanged(entity, p) {
			continue
		}
		value, err := p.ValueForDatasource(mixing.Mango, entity)
		if err != nil {
			return err
		}
		changes[p.ColumnName()] = value
	}
	if len(changes) == 0 {
		return nil
	}

	defer m.track(time.Now())
	result, err := m.collection(ed).UpdateOne(ctx, bson.M{"_id": entity.ID()}, bson.M{"$set": changes})
	if err != nil {
		return &mixing.TransportError{Op: "update " + ed.TypeName(), Cause: err}
	}
	if result.MatchedCount == 0 {
		return &mixing.OptimisticLockError{
			Type:   ed.TypeName(),
			ID:     entity.ID(),
			Reason: "the document was deleted concurrently",
		}
	}
	return nil
}

// Delete removes the given entity.
func (m *Mango) Delete(ctx context.Context, entity mixing.Entity) error {
	if entity.IsNew() {
		return nil
	}
	ed, err := m.registry.DescriptorFor(entity)
	if err != nil {
		return err
	}
	if err := ed.BeforeDelete(ctx, entity); err != nil {
		return err
	}

	start := time.Now()
	_, err = m.collection(ed).DeleteOne(ctx, bson.M{"_id": entity.ID()})
	m.track(start)
	if err != nil {
		return &mixing.TransportError{Op: "delete " + ed.TypeName(), Cause: err}
	}
	return ed.AfterDelete(ctx, entity)
}

// Find fetches the entity of the given type with the given id. An absent
// document is reported via the bool result.
func (m *Mango) Find(ctx context.Context, typeName, id string) (mixing.Entity, bool, error) {
	ed, err := m.registry.Descriptor(typeName)
	if err != nil {
		return nil, false, err
	}
	if id == "" {
		return nil, false, nil
	}

	defer m.track(time.Now())
	var document bson.M
	err = m.collection(ed).FindOne(ctx, bson.M{"_id": id}).Decode(&document)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &mixing.TransportError{Op: "find " + typeName, Cause: err}
	}

	entity, err := entityFromDocument(ed, document)
	if err != nil {
		return nil, false, err
	}
	return entity, true, nil
}

// FindOrFail fetches the entity of the given type with the given id and
// fails with ErrNotFound if it does not exist.
func (m *Mango) FindOrFail(ctx context.Context, typeName, id string) (mixing.Entity, error) {
	entity, found, err := m.Find(ctx, typeName, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s '%s': %w", typeName, id, mixing.ErrNotFound)
	}
	return entity, nil
}

// CountReferencing counts documents of the given type whose reference
// property points to the given id.
func (m *Mango) CountReferencing(ctx context.Context, typeName, property, id string) (int64, error) {
	ed, p, err := m.refProperty(typeName, property)
	if err != nil {
		return 0, err
	}

	defer m.track(time.Now())
	count, err := m.collection(ed).CountDocuments(ctx, bson.M{p.ColumnName(): id})
	if err != nil {
		return 0, &mixing.TransportError{Op: "count " + typeName, Cause: err}
	}
	return count, nil
}

// DeleteReferencing deletes all documents of the given type whose
// reference property points to the given id, one by one so lifecycle
// hooks run and cascades propagate.
func (m *Mango) DeleteReferencing(ctx context.Context, typeName, property, id string) error {
	ed, p, err := m.refProperty(typeName, property)
	if err != nil {
		return err
	}

	cursor, err := m.collection(ed).Find(ctx, bson.M{p.ColumnName(): id})
	if err != nil {
		return &mixing.TransportError{Op: "cascade " + typeName, Cause: err}
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var document bson.M
		if err := cursor.Decode(&document); err != nil {
			return &mixing.TransportError{Op: "cascade " + typeName, Cause: err}
		}
		victim, err := entityFromDocument(ed, document)
		if err != nil {
			return err
		}
		if err := m.Delete(ctx, victim); err != nil {
			return err
		}
	}
	if err := cursor.Err(); err != nil {
		return &mixing.TransportError{Op: "cascade " + typeName, Cause: err}
	}
	return nil
}

// ClearReferences clears the reference property on all documents of the
// given type which point to the given id, using one bulk update.
func (m *Mango) ClearReferences(ctx context.Context, typeName, property, id string) error {
	ed, p, err := m.refProperty(typeName, property)
	if err != nil {
		return err
	}

	defer m.track(time.Now())
	_, err = m.collection(ed).UpdateMany(ctx,
		bson.M{p.ColumnName(): id},
		bson.M{"$set": bson.M{p.ColumnName(): nil}})
	if err != nil {
		return &mixing.TransportError{Op: "clear references " + typeName, Cause: err}
	}
	return nil
}

func (m *Mango) refProperty(typeName, property string) (*mixing.EntityDescriptor, *mixing.Property, error) {
	ed, err := m.registry.Descriptor(typeName)
	if err != nil {
		return nil, nil, err
	}
	p, err := ed.Property(property)
	if err != nil {
		return nil, nil, err
	}
	return ed, p, nil
}

func entityFromDocument(ed *mixing.EntityDescriptor, document bson.M) (mixing.Entity, error) {
	entity, err := ed.Make(mixing.Mango, func(column string) (interface{}, bool) {
		value, found := document[column]
		return value, found
	})
	if err != nil {
		return nil, err
	}
	if id, ok := document["_id"].(string); ok {
		entity.SetID(id)
	}
	return entity, nil
}
