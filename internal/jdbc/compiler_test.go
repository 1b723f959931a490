package jdbc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixing-db/mixing/internal/mixing"
)

func TestCompileStatementPlainSubstitution(t *testing.T) {
	stmt, err := CompileStatement("SELECT * FROM customers WHERE name = ${name}", Context{"name": "bob"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM customers WHERE name =  ? ", stmt.SQL)
	assert.Equal(t, []interface{}{"bob"}, stmt.Params)
}

func TestCompileStatementOptionalBlockIncluded(t *testing.T) {
	stmt, err := CompileStatement("SELECT * FROM t WHERE 1=1 [AND name = ${name}]", Context{"name": "bob"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE 1=1 AND name =  ? ", stmt.SQL)
	assert.Equal(t, []interface{}{"bob"}, stmt.Params)
}

func TestCompileStatementOptionalBlockOmittedForEmptyString(t *testing.T) {
	stmt, err := CompileStatement("SELECT * FROM t WHERE 1=1 [AND name = ${name}]", Context{"name": ""})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE 1=1 ", stmt.SQL)
	assert.Empty(t, stmt.Params)
}

func TestCompileStatementOptionalBlockOmittedForNil(t *testing.T) {
	stmt, err := CompileStatement("SELECT * FROM t WHERE 1=1 [AND name = ${name}]", Context{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE 1=1 ", stmt.SQL)
	assert.Empty(t, stmt.Params)
}

func TestCompileStatementMultipleBlocks(t *testing.T) {
	stmt, err := CompileStatement(
		"SELECT * FROM t WHERE 1=1 [AND name = ${name}] [AND age = ${age}]",
		Context{"name": "", "age": 42})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE 1=1  AND age =  ? ", stmt.SQL)
	assert.Equal(t, []interface{}{42}, stmt.Params)
}

func TestCompileStatementLikeSubstitution(t *testing.T) {
	stmt, err := CompileStatement("SELECT * FROM t WHERE name LIKE #{name}", Context{"name": "A*c"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE name LIKE  ? ", stmt.SQL)
	assert.Equal(t, []interface{}{"%a%c%"}, stmt.Params)
}

func TestCompileStatementLikeWithNilStaysNil(t *testing.T) {
	stmt, err := CompileStatement("SELECT * FROM t WHERE 1=1 [AND name LIKE #{name}]", Context{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE 1=1 ", stmt.SQL)
	assert.Empty(t, stmt.Params)
}

func TestCompileStatementCollectionExpansion(t *testing.T) {
	stmt, err := CompileStatement("SELECT * FROM t WHERE id IN (${ids})",
		Context{"ids": []string{"a", "b", "c"}})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE id IN ( ? , ? , ? )", stmt.SQL)
	assert.Equal(t, []interface{}{"a", "b", "c"}, stmt.Params)
}

func TestCompileStatementEmptyCollectionOmitsBlock(t *testing.T) {
	stmt, err := CompileStatement("SELECT * FROM t WHERE 1=1 [AND id IN (${ids})]",
		Context{"ids": []string{}})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE 1=1 ", stmt.SQL)
	assert.Empty(t, stmt.Params)
}

func TestCompileStatementAccessPath(t *testing.T) {
	stmt, err := CompileStatement("SELECT * FROM t WHERE name = ${customer.name}",
		Context{"customer": map[string]interface{}{"name": "bob"}})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"bob"}, stmt.Params)
}

type fieldHolder map[string]interface{}

func (f fieldHolder) FieldValue(name string) (interface{}, bool) {
	value, found := f[name]
	return value, found
}

func TestCompileStatementAccessPathViaFieldValuer(t *testing.T) {
	stmt, err := CompileStatement("SELECT * FROM t WHERE city = ${customer.address.city}",
		Context{"customer": fieldHolder{"address": fieldHolder{"city": "Remshalden"}}})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"Remshalden"}, stmt.Params)
}

func TestCompileStatementUnknownAccessPath(t *testing.T) {
	_, err := CompileStatement("SELECT * FROM t WHERE name = ${customer.nope}",
		Context{"customer": map[string]interface{}{"name": "bob"}})
	require.Error(t, err)

	var compileErr *mixing.CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Contains(t, compileErr.Detail, "access path")
}

func TestCompileStatementUnbalancedBracket(t *testing.T) {
	_, err := CompileStatement("SELECT * FROM t WHERE 1=1 [AND name = ${name}", Context{"name": "x"})
	require.Error(t, err)

	var compileErr *mixing.CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Contains(t, compileErr.Detail, "unbalanced")
}

func TestCompileStatementNestedBlocks(t *testing.T) {
	_, err := CompileStatement("SELECT * FROM t [WHERE [x = ${x}]]", Context{"x": 1})
	require.Error(t, err)

	var compileErr *mixing.CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Contains(t, compileErr.Detail, "nest")
}

func TestCompileStatementUnterminatedMarker(t *testing.T) {
	_, err := CompileStatement("SELECT * FROM t WHERE name = ${name", Context{"name": "x"})
	require.Error(t, err)

	var compileErr *mixing.CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Contains(t, compileErr.Detail, "unterminated")
}

func TestAddSQLWildcard(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wildcardLeft bool
		expected     string
	}{
		{"plain word", "abc", true, "%abc%"},
		{"star converted", "a*c", true, "%a%c%"},
		{"star only converted without percent", "a*c%", true, "%a*c%"},
		{"empty input", "", true, "%"},
		{"no left wildcard", "abc", false, "abc%"},
		{"already trailing percent", "abc%", true, "%abc%"},
		{"already wrapped", "%abc%", true, "%abc%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AddSQLWildcard(tt.input, tt.wildcardLeft))
		})
	}
}
