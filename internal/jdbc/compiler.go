// Package jdbc implements the relational backend: a statement compiler for
// parameterized SQL templates with optional blocks, a constraint-to-WHERE
// compiler and the OMA mapper which persists entities via database/sql.
package jdbc

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mixing-db/mixing/internal/mixing"
)

// Context provides the named parameters available to a statement template.
type Context map[string]interface{}

// FieldValuer resolves one segment of a dotted parameter access path.
// Values stored in a Context may implement it to expose nested fields.
type FieldValuer interface {
	FieldValue(name string) (interface{}, bool)
}

// Statement is a compiled SQL statement with its positional parameters.
type Statement struct {
	SQL    string
	Params []interface{}
}

// CompileStatement builds a statement from a template where references to
// parameters (${param} for plain substitution, #{param} for LIKE
// substitution) are replaced by placeholders. Blocks delimited by [ and ]
// are only included if at least one parameter referenced inside resolves
// to a filled value (non-nil, non-empty string, non-empty slice). A
// slice-valued parameter expands into one placeholder per element.
func CompileStatement(query string, context Context) (*Statement, error) {
	compiler := &statementCompiler{original: query, context: context}
	if err := compiler.parseSection(query); err != nil {
		return nil, err
	}

	result := &Statement{SQL: compiler.sql.String()}
	for _, param := range compiler.params {
		if elements, ok := sliceValues(param); ok {
			result.Params = append(result.Params, elements...)
		} else {
			result.Params = append(result.Params, param)
		}
	}
	return result, nil
}

type statementCompiler struct {
	sql      strings.Builder
	params   []interface{}
	original string
	context  Context
}

// parseSection searches for an occurrence of a block [ .. ]. Everything
// before the [ is compiled and added to the result SQL. Everything between
// the brackets is compiled and only added if a filled parameter was found.
// The part after the ] is parsed recursively.
func (c *statementCompiler) parseSection(sql string) error {
	index := strings.Index(sql, "[")
	if index < 0 {
		return c.compileSection(false, sql)
	}

	nextClose := strings.Index(sql[index+1:], "]")
	if nextClose < 0 {
		return &mixing.CompileError{Index: index, Template: c.original, Detail: "unbalanced ["}
	}
	nextClose += index + 1
	nextOpen := strings.Index(sql[index+1:], "[")
	if nextOpen > -1 && nextOpen+index+1 < nextClose {
		return &mixing.CompileError{Index: index, Template: c.original, Detail: "cannot nest blocks of angular brackets"}
	}

	if err := c.compileSection(false, sql[:index]); err != nil {
		return err
	}
	if err := c.compileSection(true, sql[index+1:nextClose]); err != nil {
		return err
	}
	return c.parseSection(sql[nextClose+1:])
}

// compileSection replaces all occurrences of ${..} or #{..} by parameters
// given in the context.
func (c *statementCompiler) compileSection(ignoreIfParamsEmpty bool, sql string) error {
	var tempParams []interface{}
	var sqlBuilder strings.Builder

	appendToStatement, err := c.compileSectionPart(sql, &tempParams, &sqlBuilder, !ignoreIfParamsEmpty)
	if err != nil {
		return err
	}
	if appendToStatement {
		c.sql.WriteString(sqlBuilder.String())
		c.params = append(c.params, tempParams...)
	}
	return nil
}

func (c *statementCompiler) compileSectionPart(sql string,
	tempParams *[]interface{},
	sqlBuilder *strings.Builder,
	appendToStatement bool) (bool, error) {

	index, plain, found := nextRelevantIndex(sql)
	if !found {
		if appendToStatement {
			sqlBuilder.WriteString(sql)
		}
		return appendToStatement, nil
	}

	endIndex := strings.Index(sql[index:], "}")
	if endIndex < 0 {
		return false, &mixing.CompileError{Index: index, Template: c.original, Detail: "unterminated substitution marker"}
	}
	endIndex += index

	parameterName := sql[index+2 : endIndex]
	paramValue, err := c.effectiveParameterValue(parameterName)
	if err != nil {
		return false, err
	}

	if plain || paramValue == nil {
		*tempParams = append(*tempParams, paramValue)
	} else {
		*tempParams = append(*tempParams, AddSQLWildcard(strings.ToLower(fmt.Sprintf("%v", paramValue)), true))
	}

	sqlBuilder.WriteString(sql[:index])
	appendPlaceholders(sqlBuilder, paramValue)

	return c.compileSectionPart(sql[endIndex+1:], tempParams, sqlBuilder, appendToStatement || isParameterFilled(paramValue))
}

// effectiveParameterValue resolves a parameter name, traversing a dotted
// access path against the context value if one is given.
func (c *statementCompiler) effectiveParameterValue(fullParameterName string) (interface{}, error) {
	parameterName := fullParameterName
	accessPath := ""
	if dot := strings.Index(fullParameterName, "."); dot > -1 {
		accessPath = fullParameterName[dot+1:]
		parameterName = fullParameterName[:dot]
	}

	paramValue := c.context[parameterName]
	if accessPath == "" || paramValue == nil {
		return paramValue, nil
	}

	current := paramValue
	for _, segment := range strings.Split(accessPath, ".") {
		next, found := resolveSegment(current, segment)
		if !found {
			return nil, &mixing.CompileError{
				Index:    strings.Index(c.original, fullParameterName),
				Template: c.original,
				Detail:   fmt.Sprintf("cannot evaluate access path '%s' for parameter '%s'", accessPath, parameterName),
			}
		}
		current = next
		if current == nil {
			return nil, nil
		}
	}
	return current, nil
}

func resolveSegment(value interface{}, segment string) (interface{}, bool) {
	switch v := value.(type) {
	case map[string]interface{}:
		result, found := v[segment]
		return result, found
	case Context:
		result, found := v[segment]
		return result, found
	case FieldValuer:
		return v.FieldValue(segment)
	default:
		return nil, false
	}
}

// appendPlaceholders emits one placeholder per element for slice values
// and a single placeholder otherwise.
func appendPlaceholders(sqlBuilder *strings.Builder, paramValue interface{}) {
	if elements, ok := sliceValues(paramValue); ok {
		for i := range elements {
			if i > 0 {
				sqlBuilder.WriteString(",")
			}
			sqlBuilder.WriteString(" ? ")
		}
		return
	}
	sqlBuilder.WriteString(" ? ")
}

func isParameterFilled(paramValue interface{}) bool {
	if paramValue == nil {
		return false
	}
	if elements, ok := sliceValues(paramValue); ok {
		return len(elements) > 0
	}
	if s, ok := paramValue.(string); ok {
		return s != ""
	}
	return true
}

// nextRelevantIndex returns the next index of ${ or #{ in the given
// string. The second result is true for the plain marker.
func nextRelevantIndex(sql string) (int, bool, bool) {
	index := strings.Index(sql, "${")
	sharpIndex := strings.Index(sql, "#{")
	if sharpIndex > -1 && (index < 0 || sharpIndex < index) {
		return sharpIndex, false, true
	}
	if index > -1 {
		return index, true, true
	}
	return 0, false, false
}

// sliceValues flattens a slice-valued parameter into its elements. Strings
// and byte slices do not count as parameter collections.
func sliceValues(value interface{}) ([]interface{}, bool) {
	if value == nil {
		return nil, false
	}
	switch value.(type) {
	case string, []byte:
		return nil, false
	}
	v := reflect.ValueOf(value)
	if v.Kind() != reflect.Slice {
		return nil, false
	}
	elements := make([]interface{}, v.Len())
	for i := 0; i < v.Len(); i++ {
		elements[i] = v.Index(i).Interface()
	}
	return elements, true
}

// AddSQLWildcard makes the given search string conform with SQL 92 LIKE
// syntax: all * are converted to % (only if no % is already present) and a
// trailing % is appended. With wildcardLeft a leading % is ensured as
// well. The *-conversion only runs when the input carries no % of its own,
// also for inputs mixing both characters.
func AddSQLWildcard(query string, wildcardLeft bool) string {
	if query == "" {
		return "%"
	}

	result := query
	if !strings.Contains(result, "%") && strings.Contains(result, "*") {
		result = strings.ReplaceAll(result, "*", "%")
	}
	if !strings.HasSuffix(result, "%") {
		result += "%"
	}
	if wildcardLeft && !strings.HasPrefix(result, "%") {
		result = "%" + result
	}
	return result
}
