package jdbc

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mixing-db/mixing/internal/mixing"
)

// OMA is the object mapper for relational databases. It persists, deletes
// and queries entities whose descriptors are registered with kind SQL.
type OMA struct {
	db       *sql.DB
	registry *mixing.Registry
	log      *zap.Logger
}

// NewOMA creates a mapper on top of the given database handle.
func NewOMA(db *sql.DB, registry *mixing.Registry, log *zap.Logger) *OMA {
	if log == nil {
		log = zap.NewNop()
	}
	return &OMA{db: db, registry: registry, log: log}
}

// DB exposes the underlying database handle for schema maintenance.
func (o *OMA) DB() *sql.DB {
	return o.db
}

// Select starts a query against the given entity type.
func (o *OMA) Select(typeName string) *SmartQuery {
	return &SmartQuery{oma: o, typeName: typeName}
}

// Update persists the given entity. New entities are inserted, existing
// ones are updated with an optimistic lock check if the descriptor is
// versioned. If no property changed, no write is issued.
func (o *OMA) Update(ctx context.Context, e mixing.Entity) error {
	return o.update(ctx, e, false)
}

// ForceUpdate persists the given entity without an optimistic lock check.
func (o *OMA) ForceUpdate(ctx context.Context, e mixing.Entity) error {
	return o.update(ctx, e, true)
}

func (o *OMA) update(ctx context.Context, e mixing.Entity, force bool) error {
	ed, err := o.registry.DescriptorFor(e)
	if err != nil {
		return err
	}
	if err := ed.BeforeSave(ctx, e); err != nil {
		return err
	}

	start := time.Now()
	if e.IsNew() {
		err = o.insert(ctx, ed, e)
	} else {
		err = o.updateExisting(ctx, ed, e, force)
	}
	if err != nil {
		return err
	}
	o.log.Debug("entity persisted",
		zap.String("type", ed.TypeName()),
		zap.String("id", e.ID()),
		zap.Duration("duration", time.Since(start)))

	return ed.AfterSave(ctx, e)
}

func (o *OMA) insert(ctx context.Context, ed *mixing.EntityDescriptor, e mixing.Entity) error {
	e.SetID(mixing.GenerateID())

	columns := []string{"id"}
	values := []interface{}{e.ID()}
	if ed.IsVersioned() {
		e.SetVersion(1)
		columns = append(columns, "version")
		values = append(values, int64(1))
	}
	for _, p := range ed.Properties() {
		if p.Transient() {
			continue
		}
		value, err := p.ValueForDatasource(mixing.SQL, e)
		if err != nil {
			return err
		}
		columns = append(columns, p.ColumnName())
		values = append(values, value)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ed.Relation(), strings.Join(columns, ", "), placeholders)

	if _, err := o.db.ExecContext(ctx, query, values...); err != nil {
		e.SetID("")
		return translateError("insert "+ed.TypeName(), err)
	}
	return nil
}

func (o *OMA) updateExisting(ctx context.Context, ed *mixing.EntityDescriptor, e mixing.Entity, force bool) error {
	var assignments []string
	var values []interface{}
	for _, p := range ed.Properties() {
		if p.Transient() || !ed.IsChanged(e, p) {
			continue
		}
		value, err := p.ValueForDatasource(mixing.SQL, e)
		if err != nil {
			return err
		}
		assignments = append(assignments, p.ColumnName()+" = ?")
		values = append(values, value)
	}
	if len(assignments) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", ed.Relation(), strings.Join(assignments, ", "))
	if ed.IsVersioned() {
		query = fmt.Sprintf("UPDATE %s SET version = version + 1, %s WHERE id = ?",
			ed.Relation(), strings.Join(assignments, ", "))
	}
	values = append(values, e.ID())
	if ed.IsVersioned() && !force {
		query += " AND version = ?"
		values = append(values, e.Version())
	}

	result, err := o.db.ExecContext(ctx, query, values...)
	if err != nil {
		return translateError("update "+ed.TypeName(), err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return translateError("update "+ed.TypeName(), err)
	}
	if affected == 0 {
		if ed.IsVersioned() && !force {
			return &mixing.OptimisticLockError{
				Type:   ed.TypeName(),
				ID:     e.ID(),
				Reason: "the entity was modified or deleted concurrently",
			}
		}
		return fmt.Errorf("update %s '%s': %w", ed.TypeName(), e.ID(), mixing.ErrNotFound)
	}
	if ed.IsVersioned() {
		e.SetVersion(e.Version() + 1)
	}
	return nil
}

// Delete removes the given entity. For versioned descriptors the stored
// version must still match, otherwise an optimistic lock error is
// reported.
func (o *OMA) Delete(ctx context.Context, e mixing.Entity) error {
	return o.delete(ctx, e, false)
}

// ForceDelete removes the given entity without an optimistic lock check.
func (o *OMA) ForceDelete(ctx context.Context, e mixing.Entity) error {
	return o.delete(ctx, e, true)
}

func (o *OMA) delete(ctx context.Context, e mixing.Entity, force bool) error {
	if e.IsNew() {
		return nil
	}
	ed, err := o.registry.DescriptorFor(e)
	if err != nil {
		return err
	}
	if err := ed.BeforeDelete(ctx, e); err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", ed.Relation())
	values := []interface{}{e.ID()}
	if ed.IsVersioned() && !force {
		query += " AND version = ?"
		values = append(values, e.Version())
	}

	result, err := o.db.ExecContext(ctx, query, values...)
	if err != nil {
		return translateError("delete "+ed.TypeName(), err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return translateError("delete "+ed.TypeName(), err)
	}
	if affected == 0 && ed.IsVersioned() && !force {
		return &mixing.OptimisticLockError{
			Type:   ed.TypeName(),
			ID:     e.ID(),
			Reason: "the entity was modified or deleted concurrently",
		}
	}

	return ed.AfterDelete(ctx, e)
}

// Find fetches the entity of the given type with the given id. An absent
// entity is reported via the bool result, not as an error.
func (o *OMA) Find(ctx context.Context, typeName, id string) (mixing.Entity, bool, error) {
	ed, err := o.registry.Descriptor(typeName)
	if err != nil {
		return nil, false, err
	}
	if id == "" {
		return nil, false, nil
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE id = ?", ed.Relation())
	rows, err := o.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, false, translateError("find "+typeName, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, translateError("find "+typeName, err)
		}
		return nil, false, nil
	}
	row, err := readRow(rows)
	if err != nil {
		return nil, false, translateError("find "+typeName, err)
	}
	entity, err := entityFromRow(ed, row)
	if err != nil {
		return nil, false, err
	}
	return entity, true, nil
}

// FindOrFail fetches the entity of the given type with the given id and
// fails with ErrNotFound if it does not exist.
func (o *OMA) FindOrFail(ctx context.Context, typeName, id string) (mixing.Entity, error) {
	entity, found, err := o.Find(ctx, typeName, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s '%s': %w", typeName, id, mixing.ErrNotFound)
	}
	return entity, nil
}

// Refresh re-fetches the persisted state of the given entity.
func (o *OMA) Refresh(ctx context.Context, e mixing.Entity) (mixing.Entity, bool, error) {
	return o.Find(ctx, e.TypeName(), e.ID())
}

// CountReferencing counts entities of the given type whose reference
// property points to the given id.
func (o *OMA) CountReferencing(ctx context.Context, typeName, property, id string) (int64, error) {
	ed, p, err := o.refProperty(typeName, property)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", ed.Relation(), p.ColumnName())
	var count int64
	if err := o.db.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
		return 0, translateError("count "+typeName, err)
	}
	return count, nil
}

// DeleteReferencing deletes all entities of the given type whose reference
// property points to the given id. Each entity is loaded and deleted
// individually so that delete handlers cascade properly.
func (o *OMA) DeleteReferencing(ctx context.Context, typeName, property, id string) error {
	ed, p, err := o.refProperty(typeName, property)
	if err != nil {
		return err
	}

	for {
		query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ? LIMIT 256", ed.Relation(), p.ColumnName())
		rows, err := o.db.QueryContext(ctx, query, id)
		if err != nil {
			return translateError("cascade "+typeName, err)
		}

		var victims []mixing.Entity
		for rows.Next() {
			row, err := readRow(rows)
			if err != nil {
				rows.Close()
				return translateError("cascade "+typeName, err)
			}
			entity, err := entityFromRow(ed, row)
			if err != nil {
				rows.Close()
				return err
			}
			victims = append(victims, entity)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return translateError("cascade "+typeName, err)
		}
		rows.Close()

		if len(victims) == 0 {
			return nil
		}
		for _, victim := range victims {
			if err := o.ForceDelete(ctx, victim); err != nil {
				return err
			}
		}
	}
}

// ClearReferences sets the reference property to null in all entities of
// the given type which point to the given id.
func (o *OMA) ClearReferences(ctx context.Context, typeName, property, id string) error {
	ed, p, err := o.refProperty(typeName, property)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = ?",
		ed.Relation(), p.ColumnName(), p.ColumnName())
	if _, err := o.db.ExecContext(ctx, query, id); err != nil {
		return translateError("clear references "+typeName, err)
	}
	return nil
}

func (o *OMA) refProperty(typeName, property string) (*mixing.EntityDescriptor, *mixing.Property, error) {
	ed, err := o.registry.Descriptor(typeName)
	if err != nil {
		return nil, nil, err
	}
	p, err := ed.Property(property)
	if err != nil {
		return nil, nil, err
	}
	return ed, p, nil
}
