package es

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mixing-db/mixing/internal/mixing"
)

// Elastic is the entity mapper for the search backend. It translates
// descriptor-driven entities into JSON documents and understands routing,
// per-year index striping and external-version optimistic locking.
type Elastic struct {
	client   *LowLevelClient
	registry *mixing.Registry
	log      *zap.Logger

	// yearlyIndices remembers which per-year indices were already ensured,
	// so the existence probe runs once per index and process.
	yearlyIndices sync.Map
}

// NewElastic creates a mapper on top of the given low-level client.
func NewElastic(client *LowLevelClient, registry *mixing.Registry, log *zap.Logger) *Elastic {
	if log == nil {
		log = zap.NewNop()
	}
	return &Elastic{client: client, registry: registry, log: log}
}

// Client exposes the low-level client for maintenance tasks.
func (e *Elastic) Client() *LowLevelClient {
	return e.client
}

// determineID assigns an id to a new entity. Store-per-year types get the
// 4-digit year of their temporal discriminator property as prefix, so the
// target index can later be derived from the id alone.
func (e *Elastic) determineID(ed *mixing.EntityDescriptor, entity mixing.Entity) error {
	if !entity.IsNew() {
		return nil
	}
	id := mixing.GenerateID()
	if ed.DiscriminatorProperty() != nil {
		year, err := e.discriminatorYear(ed, entity)
		if err != nil {
			return err
		}
		id = strconv.Itoa(year) + id
	}
	entity.SetID(id)
	return nil
}

// discriminatorYear reads the year from the discriminator property of a
// store-per-year entity. The property must carry a non-zero time.
func (e *Elastic) discriminatorYear(ed *mixing.EntityDescriptor, entity mixing.Entity) (int, error) {
	discriminator := ed.DiscriminatorProperty()
	moment, ok := discriminator.GetValue(entity).(time.Time)
	if !ok || moment.IsZero() {
		return 0, &mixing.ValidationError{
			Type:     ed.TypeName(),
			Property: discriminator.Name(),
			Message:  "a store-per-year entity needs a filled discriminator date",
		}
	}
	return moment.Year(), nil
}

// determineIndex resolves the index a document with the given id lives in.
// For store-per-year types the year is read from the id prefix.
func (e *Elastic) determineIndex(ed *mixing.EntityDescriptor, id string) (string, error) {
	if ed.DiscriminatorProperty() == nil {
		return ed.Relation(), nil
	}
	if len(id) < 4 {
		return "", &mixing.ProtocolError{
			Op:     "determine index",
			Detail: fmt.Sprintf("id '%s' of store-per-year type '%s' carries no year prefix", id, ed.TypeName()),
		}
	}
	return ed.Relation() + "-" + id[:4], nil
}

// determineRouting reads the routing value of a routed entity.
func (e *Elastic) determineRouting(ed *mixing.EntityDescriptor, entity mixing.Entity) string {
	p := ed.RoutedByProperty()
	if p == nil {
		return ""
	}
	value := p.GetValue(entity)
	if value == nil {
		return ""
	}
	return fmt.Sprintf("%v", value)
}

// determineVersion yields the external version to send with a write, or 0
// to skip the optimistic lock check.
func (e *Elastic) determineVersion(ed *mixing.EntityDescriptor, entity mixing.Entity, force bool) int64 {
	if !ed.IsVersioned() || force {
		return 0
	}
	return entity.Version() + 1
}

// ensureYearlyIndex creates the per-year index on first use.
func (e *Elastic) ensureYearlyIndex(ctx context.Context, ed *mixing.EntityDescriptor, index string) error {
	if ed.DiscriminatorProperty() == nil {
		return nil
	}
	if _, ensured := e.yearlyIndices.Load(index); ensured {
		return nil
	}
	exists, err := e.client.IndexExists(ctx, index)
	if err != nil {
		return err
	}
	if !exists {
		if err := e.client.CreateIndex(ctx, index, map[string]interface{}{}); err != nil {
			return err
		}
		e.log.Info("created yearly index", zap.String("index", index), zap.String("type", ed.TypeName()))
	}
	e.yearlyIndices.Store(index, struct{}{})
	return nil
}

func (e *Elastic) toDocument(ed *mixing.EntityDescriptor, entity mixing.Entity) (map[string]interface{}, error) {
	document := make(map[string]interface{})
	for _, p := range ed.Properties() {
		if p.Transient() {
			continue
		}
		value, err := p.ValueForDatasource(mixing.Elastic, entity)
		if err != nil {
			return nil, err
		}
		document[p.ColumnName()] = value
	}
	return document, nil
}

func (e *Elastic) entityFromDocument(ed *mixing.EntityDescriptor, id string, version int64, source map[string]interface{}) (mixing.Entity, error) {
	entity, err := ed.Make(mixing.Elastic, func(column string) (interface{}, bool) {
		value, found := source[column]
		return value, found
	})
	if err != nil {
		return nil, err
	}
	entity.SetID(id)
	if ed.IsVersioned() {
		entity.SetVersion(version)
	}
	return entity, nil
}

// Update persists the given entity, inserting new entities and rewriting
// existing ones. If no property changed on an existing entity, no call is
// issued. Versioned types send an external version so concurrent writers
// collide with an optimistic lock error.
func (e *Elastic) Update(ctx context.Context, entity mixing.Entity) error {
	return e.update(ctx, entity, false)
}

// ForceUpdate persists the given entity without an optimistic lock check.
func (e *Elastic) ForceUpdate(ctx context.Context, entity mixing.Entity) error {
	return e.update(ctx, entity, true)
}

func (e *Elastic) update(ctx context.Context, entity mixing.Entity, force bool) error {
	ed, err := e.registry.DescriptorFor(entity)
	if err != nil {
		return err
	}
	if err := ed.BeforeSave(ctx, entity); err != nil {
		return err
	}

	if !entity.IsNew() && !e.anyChanged(ed, entity) {
		return ed.AfterSave(ctx, entity)
	}

	if err := e.determineID(ed, entity); err != nil {
		return err
	}
	index, err := e.determineIndex(ed, entity.ID())
	if err != nil {
		return err
	}
	if err := e.ensureYearlyIndex(ctx, ed, index); err != nil {
		return err
	}

	document, err := e.toDocument(ed, entity)
	if err != nil {
		return err
	}
	version := e.determineVersion(ed, entity, force)

	if _, err := e.client.Index(ctx, index, entity.ID(), e.determineRouting(ed, entity), version, document); err != nil {
		if lockErr, ok := err.(*mixing.OptimisticLockError); ok {
			lockErr.Type = ed.TypeName()
			lockErr.ID = entity.ID()
		}
		return err
	}
	if ed.IsVersioned() {
		entity.SetVersion(entity.Version() + 1)
	}
	return ed.AfterSave(ctx, entity)
}

func (e *Elastic) anyChanged(ed *mixing.EntityDescriptor, entity mixing.Entity) bool {
	for _, p := range ed.Properties() {
		if p.Transient() {
			continue
		}
		if ed.IsChanged(entity, p) {
			return true
		}
	}
	return false
}

// Delete removes the given entity, honoring the optimistic lock for
// versioned types.
func (e *Elastic) Delete(ctx context.Context, entity mixing.Entity) error {
	return e.delete(ctx, entity, false)
}

// ForceDelete removes the given entity without an optimistic lock check.
func (e *Elastic) ForceDelete(ctx context.Context, entity mixing.Entity) error {
	return e.delete(ctx, entity, true)
}

func (e *Elastic) delete(ctx context.Context, entity mixing.Entity, force bool) error {
	if entity.IsNew() {
		return nil
	}
	ed, err := e.registry.DescriptorFor(entity)
	if err != nil {
		return err
	}
	if err := ed.BeforeDelete(ctx, entity); err != nil {
		return err
	}

	index, err := e.determineIndex(ed, entity.ID())
	if err != nil {
		return err
	}
	version := e.determineVersion(ed, entity, force)
	if err := e.client.Delete(ctx, index, entity.ID(), e.determineRouting(ed, entity), version); err != nil {
		if lockErr, ok := err.(*mixing.OptimisticLockError); ok {
			lockErr.Type = ed.TypeName()
			lockErr.ID = entity.ID()
		}
		return err
	}
	return ed.AfterDelete(ctx, entity)
}

// Find fetches the entity of the given type with the given id. Reading a
// routed type without routing still works but triggers a cluster-wide
// lookup, which is logged as a misuse warning.
func (e *Elastic) Find(ctx context.Context, typeName, id, routing string) (mixing.Entity, bool, error) {
	ed, err := e.registry.Descriptor(typeName)
	if err != nil {
		return nil, false, err
	}
	if id == "" {
		return nil, false, nil
	}
	if ed.RoutedByProperty() != nil && routing == "" {
		e.log.Warn("read of routed entity type without routing",
			zap.String("type", typeName),
			zap.String("id", id))
	}

	index, err := e.determineIndex(ed, id)
	if err != nil {
		return nil, false, err
	}
	response, found, err := e.client.Get(ctx, index, id, routing)
	if err != nil || !found {
		return nil, false, err
	}

	source, _ := response["_source"].(map[string]interface{})
	var version int64
	if v, ok := response["_version"].(float64); ok {
		version = int64(v)
	}
	entity, err := e.entityFromDocument(ed, id, version, source)
	if err != nil {
		return nil, false, err
	}
	return entity, true, nil
}

// FindOrFail fetches the entity of the given type with the given id and
// fails with ErrNotFound if it does not exist.
func (e *Elastic) FindOrFail(ctx context.Context, typeName, id, routing string) (mixing.Entity, error) {
	entity, found, err := e.Find(ctx, typeName, id, routing)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s '%s': %w", typeName, id, mixing.ErrNotFound)
	}
	return entity, nil
}

// AssertUnique verifies that no other entity of the same type holds the
// given value in the given property.
func (e *Elastic) AssertUnique(ctx context.Context, entity mixing.Entity, property string, value interface{}) error {
	ed, err := e.registry.DescriptorFor(entity)
	if err != nil {
		return err
	}
	p, err := ed.Property(property)
	if err != nil {
		return err
	}

	must := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{p.ColumnName(): value}},
	}
	query := map[string]interface{}{
		"bool": map[string]interface{}{"must": must},
	}
	if !entity.IsNew() {
		query["bool"].(map[string]interface{})["must_not"] = []interface{}{
			map[string]interface{}{"ids": map[string]interface{}{"values": []string{entity.ID()}}},
		}
	}

	count, err := e.client.Count(ctx, e.searchIndices(ed), "", map[string]interface{}{"query": query})
	if err != nil {
		return err
	}
	if count > 0 {
		return &mixing.ValidationError{
			Type:     ed.TypeName(),
			Property: p.Name(),
			Message:  fmt.Sprintf("the value '%v' is already in use", value),
		}
	}
	return nil
}

// searchIndices yields the index pattern covering all documents of a type,
// including every yearly stripe for store-per-year types.
func (e *Elastic) searchIndices(ed *mixing.EntityDescriptor) string {
	if ed.DiscriminatorProperty() != nil {
		return ed.Relation() + "-*"
	}
	return ed.Relation()
}

// CountReferencing counts entities of the given type whose reference
// property points to the given id.
func (e *Elastic) CountReferencing(ctx context.Context, typeName, property, id string) (int64, error) {
	ed, p, err := e.refProperty(typeName, property)
	if err != nil {
		return 0, err
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{p.ColumnName(): id},
		},
	}
	return e.client.Count(ctx, e.searchIndices(ed), "", query)
}

// DeleteReferencing deletes all entities of the given type whose reference
// property points to the given id. Entities are loaded and deleted one by
// one so their lifecycle hooks run and cascades propagate.
func (e *Elastic) DeleteReferencing(ctx context.Context, typeName, property, id string) error {
	ed, p, err := e.refProperty(typeName, property)
	if err != nil {
		return err
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{p.ColumnName(): id},
		},
		"size": 256,
	}
	for {
		response, err := e.client.Search(ctx, e.searchIndices(ed), "", query)
		if err != nil {
			return err
		}
		hits := extractHits(response)
		if len(hits) == 0 {
			return nil
		}
		for _, hit := range hits {
			victim, err := e.entityFromHit(ed, hit)
			if err != nil {
				return err
			}
			if err := e.ForceDelete(ctx, victim); err != nil {
				return err
			}
		}
	}
}

// ClearReferences clears the reference property on all entities of the
// given type which point to the given id, using a bulk scripted update.
func (e *Elastic) ClearReferences(ctx context.Context, typeName, property, id string) error {
	ed, p, err := e.refProperty(typeName, property)
	if err != nil {
		return err
	}
	body := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{p.ColumnName(): id},
		},
		"script": map[string]interface{}{
			"source": fmt.Sprintf("ctx._source.%s = null", p.ColumnName()),
			"lang":   "painless",
		},
	}
	_, err = e.client.UpdateByQuery(ctx, e.searchIndices(ed), "", body)
	return err
}

func (e *Elastic) refProperty(typeName, property string) (*mixing.EntityDescriptor, *mixing.Property, error) {
	ed, err := e.registry.Descriptor(typeName)
	if err != nil {
		return nil, nil, err
	}
	p, err := ed.Property(property)
	if err != nil {
		return nil, nil, err
	}
	return ed, p, nil
}

func (e *Elastic) entityFromHit(ed *mixing.EntityDescriptor, hit map[string]interface{}) (mixing.Entity, error) {
	id, _ := hit["_id"].(string)
	source, _ := hit["_source"].(map[string]interface{})
	var version int64
	if v, ok := hit["_version"].(float64); ok {
		version = int64(v)
	}
	return e.entityFromDocument(ed, id, version, source)
}

func extractHits(response map[string]interface{}) []map[string]interface{} {
	outer, _ := response["hits"].(map[string]interface{})
	raw, _ := outer["hits"].([]interface{})
	hits := make([]map[string]interface{}, 0, len(raw))
	for _, entry := range raw {
		if hit, ok := entry.(map[string]interface{}); ok {
			hits = append(hits, hit)
		}
	}
	return hits
}
