package table

type (
	Row struct {
		// The list of column names, same order as ColVals. Shared by every row of a file, do not modify.
		ColNames []string
		// The list of column values, same order as ColNames
		ColVals []string
	}

	Column struct {
		Name string
		// Avro type name of the column, informational only
		Type string
	}

	Schema struct {
		Name    string
		Columns []Column

		names []string
	}

	// Record maps field names to values. A missing key is an absent field.
	Record map[string]Value
)

func NewSchema(name string, cols []Column) Schema {
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	return Schema{
		Name:    name,
		Columns: cols,
		names:   names,
	}
}

// ColumnNames returns the column names in declaration order.
func (s Schema) ColumnNames() []string {
	if s.names != nil {
		return s.names
	}
	names := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		names[i] = col.Name
	}
	return names
}

// Flatten converts a record into a row with one value per schema column, in declaration order.
// Absent and null fields become empty strings.
func Flatten(rec Record, schema Schema) Row {
	names := schema.ColumnNames()
	vals := make([]string, len(names))
	for i, name := range names {
		v, ok := rec[name]
		if !ok || v.IsNull() {
			continue
		}
		vals[i] = v.String()
	}
	return Row{
		ColNames: names,
		ColVals:  vals,
	}
}

// Get returns the value of the named column, or false if the row has no such column.
func (r Row) Get(col string) (string, bool) {
	for i, name := range r.ColNames {
		if name == col {
			return r.ColVals[i], true
		}
	}
	return "", false
}
