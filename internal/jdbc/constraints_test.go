package jdbc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixing-db/mixing/internal/mixing"
)

func compileConstraints(t *testing.T, typeName string, constraints ...Constraint) (*Compiler, string) {
	t.Helper()
	registry := newTestRegistry(t)
	ed, err := registry.Descriptor(typeName)
	require.NoError(t, err)

	compiler := NewCompiler(registry, ed)
	appendWhere(compiler, constraints)
	require.NoError(t, compiler.Err())
	return compiler, compiler.WHEREBuilder().String()
}

func TestFieldOperatorEquality(t *testing.T) {
	compiler, where := compileConstraints(t, "Customer",
		On(mixing.Named("Name")).Eq("bob"))
	assert.Equal(t, " WHERE e1.name = ?", where)
	assert.Equal(t, []interface{}{"bob"}, compiler.Parameters())
}

func TestFieldOperatorNullCompilesToIsNull(t *testing.T) {
	compiler, where := compileConstraints(t, "Customer",
		On(mixing.Named("Name")).Eq(nil))
	assert.Equal(t, " WHERE e1.name IS NULL", where)
	assert.Empty(t, compiler.Parameters(), "null must never be bound as a parameter")
}

func TestFieldOperatorNullInequalityCompilesToIsNotNull(t *testing.T) {
	compiler, where := compileConstraints(t, "Customer",
		On(mixing.Named("Name")).NotEq(nil))
	assert.Equal(t, " WHERE e1.name IS NOT NULL", where)
	assert.Empty(t, compiler.Parameters())
}

func TestFieldOperatorIgnoreNullOmitsConstraint(t *testing.T) {
	compiler, where := compileConstraints(t, "Customer",
		On(mixing.Named("Name")).Eq(nil).IgnoreNull(),
		On(mixing.Named("Email")).Eq("a@b.c"))
	assert.Equal(t, " WHERE e1.email = ?", where)
	assert.Equal(t, []interface{}{"a@b.c"}, compiler.Parameters())
}

func TestFieldOperatorBindsEntityID(t *testing.T) {
	alice := &customer{Name: "Alice"}
	alice.SetID("c1")

	compiler, where := compileConstraints(t, "Purchase",
		On(mixing.Named("Customer")).Eq(alice))
	assert.Equal(t, " WHERE e1.customer = ?", where)
	assert.Equal(t, []interface{}{"c1"}, compiler.Parameters())
}

func TestFieldOperatorComparisons(t *testing.T) {
	_, where := compileConstraints(t, "Purchase",
		On(mixing.Named("Amount")).GreaterOrEqual(10),
		On(mixing.Named("Amount")).LessThan(100))
	assert.Equal(t, " WHERE e1.amount >= ? AND e1.amount < ?", where)
}

func TestCombinationParenthesizes(t *testing.T) {
	_, where := compileConstraints(t, "Customer",
		Or(
			On(mixing.Named("Name")).Eq("bob"),
			On(mixing.Named("Email")).Eq("bob@b.c"),
		))
	assert.Equal(t, " WHERE (e1.name = ? OR e1.email = ?)", where)
}

func TestCombinationUnwrapsSingleEffectiveConstraint(t *testing.T) {
	_, where := compileConstraints(t, "Customer",
		Or(
			On(mixing.Named("Name")).Eq(nil).IgnoreNull(),
			On(mixing.Named("Email")).Eq("bob@b.c"),
		))
	assert.Equal(t, " WHERE e1.email = ?", where)
}

func TestFilledAndNotFilled(t *testing.T) {
	_, where := compileConstraints(t, "Customer",
		Filled(mixing.Named("Name")),
		NotFilled(mixing.Named("Email")))
	assert.Equal(t, " WHERE e1.name IS NOT NULL AND e1.email IS NULL", where)
}

func TestExistsSubquery(t *testing.T) {
	compiler, where := compileConstraints(t, "Customer",
		MatchingIn(mixing.Named("id"), "Purchase", mixing.Named("Customer")))
	assert.Equal(t, " WHERE EXISTS(SELECT * FROM purchase e2 WHERE e1.id = e2.customer)", where)
	assert.Empty(t, compiler.Parameters())
}

func TestNotExistsSubquery(t *testing.T) {
	_, where := compileConstraints(t, "Customer",
		NotMatchingIn(mixing.Named("id"), "Purchase", mixing.Named("Customer")))
	assert.Equal(t, " WHERE NOT EXISTS(SELECT * FROM purchase e2 WHERE e1.id = e2.customer)", where)
}

func TestExistsSubqueryWithInnerConstraint(t *testing.T) {
	compiler, where := compileConstraints(t, "Customer",
		MatchingIn(mixing.Named("id"), "Purchase", mixing.Named("Customer")).
			Where(On(mixing.Named("Amount")).GreaterThan(100)))
	assert.Equal(t,
		" WHERE EXISTS(SELECT * FROM purchase e2 WHERE e1.id = e2.customer AND e2.amount > ?)",
		where)
	assert.Equal(t, []interface{}{100}, compiler.Parameters())
}

func TestExistsSubqueryKeepsOuterStateIntact(t *testing.T) {
	_, where := compileConstraints(t, "Customer",
		MatchingIn(mixing.Named("id"), "Purchase", mixing.Named("Customer")),
		On(mixing.Named("Name")).Eq("bob"))
	assert.Equal(t,
		" WHERE EXISTS(SELECT * FROM purchase e2 WHERE e1.id = e2.customer) AND e1.name = ?",
		where)
}

func TestExistsUnknownTypeFailsCompilation(t *testing.T) {
	registry := newTestRegistry(t)
	ed, err := registry.Descriptor("Customer")
	require.NoError(t, err)

	compiler := NewCompiler(registry, ed)
	appendWhere(compiler, []Constraint{
		MatchingIn(mixing.Named("id"), "Nope", mixing.Named("Customer")),
	})
	require.Error(t, compiler.Err())
}

func TestSmartQueryCompile(t *testing.T) {
	registry := newTestRegistry(t)
	oma := NewOMA(nil, registry, nil)

	stmt, ed, err := oma.Select("Customer").
		Where(On(mixing.Named("Name")).Eq("bob")).
		OrderAsc(mixing.Named("Email")).
		Limit(10).
		Skip(5).
		Compile("{alias}.*")
	require.NoError(t, err)
	assert.Equal(t, "Customer", ed.TypeName())
	assert.Equal(t,
		"SELECT e1.* FROM customer e1 WHERE e1.name = ? ORDER BY e1.email ASC LIMIT 10 OFFSET 5",
		stmt.SQL)
	assert.Equal(t, []interface{}{"bob"}, stmt.Params)
}
