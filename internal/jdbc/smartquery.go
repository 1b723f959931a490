package jdbc

import (
	"context"
	"fmt"
	"strings"

	"github.com/mixing-db/mixing/internal/mixing"
)

// Compiler accumulates the WHERE clause, join clauses and positional
// parameters while a constraint tree is compiled. A compiler instance is
// exclusively owned by the single query compilation that created it.
type Compiler struct {
	registry *mixing.Registry
	ed       *mixing.EntityDescriptor

	alias        string
	aliasCounter int

	where  *strings.Builder
	joins  *strings.Builder
	params []interface{}

	err error
}

// TranslationState is the saved alias/descriptor/join state of a compiler,
// captured by correlated subqueries before they switch to a fresh alias
// and restored afterwards.
type TranslationState struct {
	ed    *mixing.EntityDescriptor
	alias string
	joins *strings.Builder
}

// NewCompiler creates a compiler for queries against the given descriptor.
func NewCompiler(registry *mixing.Registry, ed *mixing.EntityDescriptor) *Compiler {
	c := &Compiler{
		registry: registry,
		ed:       ed,
		where:    &strings.Builder{},
		joins:    &strings.Builder{},
	}
	c.alias = c.GenerateTableAlias()
	return c
}

// WHEREBuilder returns the currently active WHERE clause builder.
func (c *Compiler) WHEREBuilder() *strings.Builder {
	return c.where
}

// SetWHEREBuilder replaces the active WHERE clause builder. Used by
// correlated subqueries to compile into a private buffer.
func (c *Compiler) SetWHEREBuilder(builder *strings.Builder) {
	c.where = builder
}

// GenerateTableAlias returns the next unique table alias.
func (c *Compiler) GenerateTableAlias() string {
	c.aliasCounter++
	return fmt.Sprintf("e%d", c.aliasCounter)
}

// DefaultAlias returns the alias of the primary table of the query.
func (c *Compiler) DefaultAlias() string {
	return c.alias
}

// TranslateColumnName resolves a mapping into a qualified column name
// using the current alias and descriptor. The id and version columns
// exist on every relation without being declared as properties.
func (c *Compiler) TranslateColumnName(field mixing.Mapping) string {
	name := strings.ToLower(field.Name())
	if name == "id" || name == "version" {
		return c.currentAlias() + "." + name
	}
	p, err := c.ed.Property(field.Name())
	if err != nil {
		c.fail(err)
		return c.currentAlias() + "." + name
	}
	return c.currentAlias() + "." + p.ColumnName()
}

func (c *Compiler) currentAlias() string {
	return c.alias
}

// CaptureAndReplaceTranslationState saves the current alias, descriptor
// and join builder and installs the given ones.
func (c *Compiler) CaptureAndReplaceTranslationState(newAlias string, ed *mixing.EntityDescriptor) TranslationState {
	state := TranslationState{ed: c.ed, alias: c.alias, joins: c.joins}
	c.ed = ed
	c.alias = newAlias
	c.joins = &strings.Builder{}
	return state
}

// RestoreTranslationState restores a previously captured state.
func (c *Compiler) RestoreTranslationState(state TranslationState) {
	c.ed = state.ed
	c.alias = state.alias
	c.joins = state.joins
}

// Joins returns the join clauses accumulated for the current state.
func (c *Compiler) Joins() string {
	return c.joins.String()
}

// AddJoin appends a join clause for the current state.
func (c *Compiler) AddJoin(clause string) {
	c.joins.WriteString(clause)
}

// AddParameter appends a positional parameter.
func (c *Compiler) AddParameter(value interface{}) {
	c.params = append(c.params, value)
}

// Parameters returns the accumulated positional parameters.
func (c *Compiler) Parameters() []interface{} {
	return c.params
}

// Descriptor resolves another entity type, needed by EXISTS subqueries.
func (c *Compiler) Descriptor(typeName string) (*mixing.EntityDescriptor, error) {
	return c.registry.Descriptor(typeName)
}

// fail records the first compilation error. Constraints report errors here
// since AppendSQL accumulates into builders.
func (c *Compiler) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Err returns the first error recorded during compilation.
func (c *Compiler) Err() error {
	return c.err
}

// SmartQuery builds and executes a constraint-based SELECT against one
// entity type.
type SmartQuery struct {
	oma      *OMA
	typeName string

	constraints []Constraint
	orderBy     []string
	limit       int
	skip        int
}

// Where adds constraints to the query (combined with AND).
func (q *SmartQuery) Where(constraints ...Constraint) *SmartQuery {
	q.constraints = append(q.constraints, constraints...)
	return q
}

// OrderAsc appends an ascending sort on the given field.
func (q *SmartQuery) OrderAsc(field mixing.Mapping) *SmartQuery {
	q.orderBy = append(q.orderBy, field.Name()+" ASC")
	return q
}

// OrderDesc appends a descending sort on the given field.
func (q *SmartQuery) OrderDesc(field mixing.Mapping) *SmartQuery {
	q.orderBy = append(q.orderBy, field.Name()+" DESC")
	return q
}

// Limit restricts the number of returned entities.
func (q *SmartQuery) Limit(limit int) *SmartQuery {
	q.limit = limit
	return q
}

// Skip skips the given number of entities.
func (q *SmartQuery) Skip(skip int) *SmartQuery {
	q.skip = skip
	return q
}

// Compile builds the effective statement for the given columns clause.
func (q *SmartQuery) Compile(selectClause string) (*Statement, *mixing.EntityDescriptor, error) {
	ed, err := q.oma.registry.Descriptor(q.typeName)
	if err != nil {
		return nil, nil, err
	}

	compiler := NewCompiler(q.oma.registry, ed)
	appendWhere(compiler, q.constraints)

	var sql strings.Builder
	sql.WriteString("SELECT " + strings.ReplaceAll(selectClause, "{alias}", compiler.DefaultAlias()))
	sql.WriteString(" FROM " + ed.Relation() + " " + compiler.DefaultAlias())
	sql.WriteString(compiler.Joins())
	sql.WriteString(compiler.WHEREBuilder().String())

	if len(q.orderBy) > 0 {
		translated := make([]string, 0, len(q.orderBy))
		for _, order := range q.orderBy {
			parts := strings.SplitN(order, " ", 2)
			p, err := ed.Property(parts[0])
			if err != nil {
				return nil, nil, err
			}
			translated = append(translated, compiler.DefaultAlias()+"."+p.ColumnName()+" "+parts[1])
		}
		sql.WriteString(" ORDER BY " + strings.Join(translated, ", "))
	}
	if q.limit > 0 {
		sql.WriteString(fmt.Sprintf(" LIMIT %d", q.limit))
	}
	if q.skip > 0 {
		sql.WriteString(fmt.Sprintf(" OFFSET %d", q.skip))
	}

	if compiler.Err() != nil {
		return nil, nil, compiler.Err()
	}
	return &Statement{SQL: sql.String(), Params: compiler.Parameters()}, ed, nil
}

// appendWhere compiles the effective constraints into " WHERE ..." within
// the given compiler. Constraints which add nothing are omitted.
func appendWhere(compiler *Compiler, constraints []Constraint) {
	first := true
	for _, constraint := range constraints {
		if !constraint.AddsConstraint() {
			continue
		}
		if first {
			compiler.WHEREBuilder().WriteString(" WHERE ")
			first = false
		} else {
			compiler.WHEREBuilder().WriteString(" AND ")
		}
		constraint.AppendSQL(compiler)
	}
}

// All executes the query and returns all matching entities.
func (q *SmartQuery) All(ctx context.Context) ([]mixing.Entity, error) {
	stmt, ed, err := q.Compile("{alias}.*")
	if err != nil {
		return nil, err
	}

	rows, err := q.oma.db.QueryContext(ctx, stmt.SQL, stmt.Params...)
	if err != nil {
		return nil, translateError("query "+ed.TypeName(), err)
	}
	defer rows.Close()

	var result []mixing.Entity
	for rows.Next() {
		row, err := readRow(rows)
		if err != nil {
			return nil, translateError("read "+ed.TypeName(), err)
		}
		entity, err := entityFromRow(ed, row)
		if err != nil {
			return nil, err
		}
		result = append(result, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("query "+ed.TypeName(), err)
	}
	return result, nil
}

// First executes the query and returns the first matching entity, if any.
func (q *SmartQuery) First(ctx context.Context) (mixing.Entity, bool, error) {
	entities, err := q.Limit(1).All(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(entities) == 0 {
		return nil, false, nil
	}
	return entities[0], true, nil
}

// Count executes the query and returns the number of matching entities.
func (q *SmartQuery) Count(ctx context.Context) (int64, error) {
	stmt, ed, err := q.Compile("COUNT(*)")
	if err != nil {
		return 0, err
	}

	var count int64
	if err := q.oma.db.QueryRowContext(ctx, stmt.SQL, stmt.Params...).Scan(&count); err != nil {
		return 0, translateError("count "+ed.TypeName(), err)
	}
	return count, nil
}

// Exists determines if the query matches at least one entity.
func (q *SmartQuery) Exists(ctx context.Context) (bool, error) {
	count, err := q.Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
