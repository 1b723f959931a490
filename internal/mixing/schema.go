package mixing

// The schema description emitted per descriptor is consumed by an external
// migration tool which diffs it against the live database and applies DDL.
// The core itself never executes DDL.

// Table describes the expected relational schema for one entity type.
type Table struct {
	Name        string
	Columns     []TableColumn
	PrimaryKey  []string
	Keys        []Key
	ForeignKeys []ForeignKey
}

// TableColumn describes one column of a table.
type TableColumn struct {
	Name     string
	Type     FieldType
	Length   int
	Nullable bool
	Default  interface{}
}

// Key describes an index over one or more columns.
type Key struct {
	Name    string
	Columns []string
	Unique  bool
}

// ForeignKey describes a reference to another table.
type ForeignKey struct {
	Name           string
	Column         string
	ReferencedType string
}

// CreateTable builds the schema description for this descriptor: the id
// column, the version column for versioned types and one column per
// non-transient property. Reference properties contribute foreign keys.
func (ed *EntityDescriptor) CreateTable() *Table {
	table := &Table{
		Name:       ed.relationName,
		PrimaryKey: []string{"id"},
	}
	table.Columns = append(table.Columns, TableColumn{Name: "id", Type: TypeString, Length: 50})
	if ed.versioned {
		table.Columns = append(table.Columns, TableColumn{Name: "version", Type: TypeInt})
	}
	for _, p := range ed.properties {
		if p.Transient() {
			continue
		}
		table.Columns = append(table.Columns, TableColumn{
			Name:     p.ColumnName(),
			Type:     p.Type(),
			Length:   p.Length(),
			Nullable: p.Nullable(),
			Default:  p.DefaultValue(),
		})
		if p.Ref() != nil {
			table.ForeignKeys = append(table.ForeignKeys, ForeignKey{
				Name:           "fk_" + ed.relationName + "_" + p.ColumnName(),
				Column:         p.ColumnName(),
				ReferencedType: p.Ref().Target,
			})
		}
	}
	return table
}
