package mango

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mixing-db/mixing/internal/mixing"
)

// Updater is a fluent builder for bulk updates against one entity type.
// It modifies documents directly without loading them, so lifecycle hooks
// do not run.
type Updater struct {
	mango    *Mango
	typeName string

	filter bson.M
	set    bson.M
}

// UpdateMany starts a bulk update against the given entity type.
func (m *Mango) UpdateMany(typeName string) *Updater {
	return &Updater{mango: m, typeName: typeName, filter: bson.M{}, set: bson.M{}}
}

// Where filters on property equality.
func (u *Updater) Where(property string, value interface{}) *Updater {
	u.filter[property] = valueForFilter(value)
	return u
}

// Set assigns a new value to the given property on all matched documents.
func (u *Updater) Set(property string, value interface{}) *Updater {
	u.set[property] = valueForFilter(value)
	return u
}

// Execute applies the update and returns the number of modified
// documents.
func (u *Updater) Execute(ctx context.Context) (int64, error) {
	ed, err := u.mango.registry.Descriptor(u.typeName)
	if err != nil {
		return 0, err
	}

	defer u.mango.track(time.Now())
	result, err := u.mango.collection(ed).UpdateMany(ctx, u.filter, bson.M{"$set": u.set})
	if err != nil {
		return 0, &mixing.TransportError{Op: "bulk update " + u.typeName, Cause: err}
	}
	return result.ModifiedCount, nil
}

// Deleter is a fluent builder for bulk deletes against one entity type.
// Documents are removed directly, bypassing lifecycle hooks and delete
// policies.
type Deleter struct {
	mango    *Mango
	typeName string

	filter bson.M
}

// DeleteMany starts a bulk delete against the given entity type.
func (m *Mango) DeleteMany(typeName string) *Deleter {
	return &Deleter{mango: m, typeName: typeName, filter: bson.M{}}
}

// Where filters on property equality.
func (d *Deleter) Where(property string, value interface{}) *Deleter {
	d.filter[property] = valueForFilter(value)
	return d
}

// Execute removes all matched documents and returns how many were
// deleted.
func (d *Deleter) Execute(ctx context.Context) (int64, error) {
	ed, err := d.mango.registry.Descriptor(d.typeName)
	if err != nil {
		return 0, err
	}

	defer d.mango.track(time.Now())
	result, err := d.mango.collection(ed).DeleteMany(ctx, d.filter)
	if err != nil {
		return 0, &mixing.TransportError{Op: "bulk delete " + d.typeName, Cause: err}
	}
	return result.DeletedCount, nil
}
