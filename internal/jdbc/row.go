package jdbc

import (
	"database/sql"
	"strings"

	"github.com/mixing-db/mixing/internal/mixing"
)

// Row is a small wrapper representing one result row with case-insensitive
// column access.
type Row struct {
	fields map[string]interface{}
}

// NewRow creates a row from parallel column and value slices. Byte-slice
// values are normalized to strings, matching how drivers report text
// columns.
func NewRow(columns []string, values []interface{}) Row {
	fields := make(map[string]interface{}, len(columns))
	for i, column := range columns {
		value := values[i]
		if raw, ok := value.([]byte); ok {
			value = string(raw)
		}
		fields[strings.ToUpper(column)] = value
	}
	return Row{fields: fields}
}

// HasValue determines if a value for the given column is present, even if
// it is nil.
func (r Row) HasValue(column string) bool {
	_, found := r.fields[strings.ToUpper(column)]
	return found
}

// Value returns the value stored for the given column.
func (r Row) Value(column string) interface{} {
	return r.fields[strings.ToUpper(column)]
}

// readRow materializes the current result-set row.
func readRow(rows *sql.Rows) (Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return Row{}, err
	}
	values := make([]interface{}, len(columns))
	pointers := make([]interface{}, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}
	if err := rows.Scan(pointers...); err != nil {
		return Row{}, err
	}
	return NewRow(columns, values), nil
}

// entityFromRow builds an entity from a result row, filling the persisted
// shadow copy for every fetched column.
func entityFromRow(ed *mixing.EntityDescriptor, row Row) (mixing.Entity, error) {
	entity, err := ed.Make(mixing.SQL, func(column string) (interface{}, bool) {
		if !row.HasValue(column) {
			return nil, false
		}
		return row.Value(column), true
	})
	if err != nil {
		return nil, err
	}

	if row.HasValue("id") {
		if id, ok := row.Value("id").(string); ok {
			entity.SetID(id)
		}
	}
	if ed.IsVersioned() && row.HasValue("version") {
		entity.SetVersion(asInt64(row.Value("version")))
	}
	return entity, nil
}

func asInt64(value interface{}) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
