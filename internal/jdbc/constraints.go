package jdbc

import (
	"fmt"
	"strings"

	"github.com/mixing-db/mixing/internal/mixing"
)

// Constraint is one node of a composable predicate tree which knows how to
// append itself into the WHERE clause of a query compiler.
type Constraint interface {
	// AddsConstraint determines if compiling this node emits anything. A
	// node which adds no constraint is omitted transparently.
	AddsConstraint() bool

	// AppendSQL generates the appropriate SQL into the given compiler.
	AppendSQL(compiler *Compiler)
}

// Operator enumerates the supported relational operators.
type Operator int

const (
	OpEQ Operator = iota
	OpNE
	OpLT
	OpLTEq
	OpGT
	OpGTEq
)

// String returns the SQL representation of the operator.
func (o Operator) String() string {
	switch o {
	case OpEQ:
		return "="
	case OpNE:
		return "<>"
	case OpLT:
		return "<"
	case OpLTEq:
		return "<="
	case OpGT:
		return ">"
	case OpGTEq:
		return ">="
	default:
		return "?"
	}
}

// FieldOperator applies a relational operator on a field.
type FieldOperator struct {
	field      mixing.Mapping
	value      interface{}
	op         Operator
	hasOp      bool
	ignoreNull bool
}

// On creates a new constraint on the given field. The operator is set by
// one of the fluent comparison methods.
func On(field mixing.Mapping) *FieldOperator {
	return &FieldOperator{field: field}
}

// Eq generates a constraint like field = value.
func (f *FieldOperator) Eq(value interface{}) *FieldOperator {
	return f.with(OpEQ, value)
}

// NotEq generates a constraint like field <> value.
func (f *FieldOperator) NotEq(value interface{}) *FieldOperator {
	return f.with(OpNE, value)
}

// LessThan generates a constraint like field < value.
func (f *FieldOperator) LessThan(value interface{}) *FieldOperator {
	return f.with(OpLT, value)
}

// LessOrEqual generates a constraint like field <= value.
func (f *FieldOperator) LessOrEqual(value interface{}) *FieldOperator {
	return f.with(OpLTEq, value)
}

// GreaterThan generates a constraint like field > value.
func (f *FieldOperator) GreaterThan(value interface{}) *FieldOperator {
	return f.with(OpGT, value)
}

// GreaterOrEqual generates a constraint like field >= value.
func (f *FieldOperator) GreaterOrEqual(value interface{}) *FieldOperator {
	return f.with(OpGTEq, value)
}

// IgnoreNull skips this constraint entirely if the filter value is nil.
func (f *FieldOperator) IgnoreNull() *FieldOperator {
	f.ignoreNull = true
	return f
}

func (f *FieldOperator) with(op Operator, value interface{}) *FieldOperator {
	f.op = op
	f.hasOp = true
	f.value = value
	return f
}

// AddsConstraint implements Constraint.
func (f *FieldOperator) AddsConstraint() bool {
	return !f.ignoreNull || f.value != nil
}

// AppendSQL implements Constraint. A nil value combined with equality or
// inequality compiles to IS NULL / IS NOT NULL instead of binding a
// parameter, which would never match under three-valued logic.
func (f *FieldOperator) AppendSQL(compiler *Compiler) {
	if !f.hasOp {
		compiler.fail(fmt.Errorf("operator not set for field '%s'", f.field.Name()))
		return
	}
	if !f.AddsConstraint() {
		return
	}
	if f.value == nil {
		if f.op == OpEQ {
			compiler.WHEREBuilder().WriteString(compiler.TranslateColumnName(f.field) + " IS NULL")
			return
		}
		if f.op == OpNE {
			compiler.WHEREBuilder().WriteString(compiler.TranslateColumnName(f.field) + " IS NOT NULL")
			return
		}
	}
	compiler.WHEREBuilder().WriteString(compiler.TranslateColumnName(f.field) + " " + f.op.String() + " ?")
	compiler.AddParameter(convertValue(f.value))
}

// convertValue maps entity and reference values to their identifiers
// before binding.
func convertValue(value interface{}) interface{} {
	switch v := value.(type) {
	case mixing.Entity:
		return v.ID()
	case interface{ ID() string }:
		return v.ID()
	default:
		return value
	}
}

// combination joins sub-constraints with AND or OR.
type combination struct {
	connector   string
	constraints []Constraint
}

// And combines the given constraints with AND.
func And(constraints ...Constraint) Constraint {
	return &combination{connector: " AND ", constraints: constraints}
}

// Or combines the given constraints with OR.
func Or(constraints ...Constraint) Constraint {
	return &combination{connector: " OR ", constraints: constraints}
}

// AddsConstraint implements Constraint.
func (c *combination) AddsConstraint() bool {
	for _, constraint := range c.constraints {
		if constraint.AddsConstraint() {
			return true
		}
	}
	return false
}

// AppendSQL implements Constraint.
func (c *combination) AppendSQL(compiler *Compiler) {
	var effective []Constraint
	for _, constraint := range c.constraints {
		if constraint.AddsConstraint() {
			effective = append(effective, constraint)
		}
	}
	if len(effective) == 0 {
		return
	}
	if len(effective) == 1 {
		effective[0].AppendSQL(compiler)
		return
	}
	compiler.WHEREBuilder().WriteString("(")
	for i, constraint := range effective {
		if i > 0 {
			compiler.WHEREBuilder().WriteString(c.connector)
		}
		constraint.AppendSQL(compiler)
	}
	compiler.WHEREBuilder().WriteString(")")
}

// filled checks a column for presence or absence of a value.
type filled struct {
	field    mixing.Mapping
	notNull  bool
}

// Filled generates a constraint like field IS NOT NULL.
func Filled(field mixing.Mapping) Constraint {
	return &filled{field: field, notNull: true}
}

// NotFilled generates a constraint like field IS NULL.
func NotFilled(field mixing.Mapping) Constraint {
	return &filled{field: field}
}

// AddsConstraint implements Constraint.
func (f *filled) AddsConstraint() bool {
	return true
}

// AppendSQL implements Constraint.
func (f *filled) AppendSQL(compiler *Compiler) {
	if f.notNull {
		compiler.WHEREBuilder().WriteString(compiler.TranslateColumnName(f.field) + " IS NOT NULL")
		return
	}
	compiler.WHEREBuilder().WriteString(compiler.TranslateColumnName(f.field) + " IS NULL")
}

// Exists generates an EXISTS subquery mapping the given field to a field
// of the queried entity type.
type Exists struct {
	outerColumn mixing.Mapping
	innerColumn mixing.Mapping
	other       string
	constraints []Constraint
	not         bool
}

// MatchingIn generates an EXISTS clause:
// EXISTS(SELECT * FROM other WHERE outerColumn = other.innerColumn).
func MatchingIn(outerColumn mixing.Mapping, other string, innerColumn mixing.Mapping) *Exists {
	return &Exists{outerColumn: outerColumn, innerColumn: innerColumn, other: other}
}

// NotMatchingIn generates a NOT EXISTS clause:
// NOT EXISTS(SELECT * FROM other WHERE outerColumn = other.innerColumn).
func NotMatchingIn(outerColumn mixing.Mapping, other string, innerColumn mixing.Mapping) *Exists {
	return &Exists{outerColumn: outerColumn, innerColumn: innerColumn, other: other, not: true}
}

// Where adds an additional constraint on the entities which must or must
// not exist.
func (e *Exists) Where(constraint Constraint) *Exists {
	e.constraints = append(e.constraints, constraint)
	return e
}

// AddsConstraint implements Constraint.
func (e *Exists) AddsConstraint() bool {
	return true
}

// AppendSQL implements Constraint. The subquery is compiled against a
// fresh alias into its own WHERE builder, then spliced back into the outer
// builder as a parenthesized EXISTS expression without disturbing the
// outer builder's in-progress state.
func (e *Exists) AppendSQL(compiler *Compiler) {
	ed, err := compiler.Descriptor(e.other)
	if err != nil {
		compiler.fail(err)
		return
	}
	newAlias := compiler.GenerateTableAlias()

	originalWHEREBuilder := compiler.WHEREBuilder()
	compiler.SetWHEREBuilder(&strings.Builder{})

	// The outer column must be translated against the outer state, the
	// inner column against the new one, so the translation state is
	// switched just in time.
	compiler.WHEREBuilder().WriteString(" WHERE " + compiler.TranslateColumnName(e.outerColumn) + " = ")
	state := compiler.CaptureAndReplaceTranslationState(newAlias, ed)
	compiler.WHEREBuilder().WriteString(compiler.TranslateColumnName(e.innerColumn))

	for _, constraint := range e.constraints {
		if constraint.AddsConstraint() {
			compiler.WHEREBuilder().WriteString(" AND ")
			constraint.AppendSQL(compiler)
		}
	}

	var existsBuilder strings.Builder
	if e.not {
		existsBuilder.WriteString("NOT ")
	}
	existsBuilder.WriteString("EXISTS(SELECT * FROM " + ed.Relation() + " " + newAlias)
	existsBuilder.WriteString(compiler.Joins())

	compiler.RestoreTranslationState(state)
	existsWHEREBuilder := compiler.WHEREBuilder()
	compiler.SetWHEREBuilder(originalWHEREBuilder)
	compiler.WHEREBuilder().WriteString(existsBuilder.String() + existsWHEREBuilder.String() + ")")
}
