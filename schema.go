package docdb

import "fmt"

// Field type tags understood by the default validator.
const (
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeString = "string"
	TypeBool   = "bool"
	TypeAny    = "any"
)

// FieldDef describes one declared field. It is plain data: validation
// and foreign-key behavior derive from it, no behavior is attached.
type FieldDef struct {
	Name       string `msgpack:"n"`
	Type       string `msgpack:"t"`
	Required   bool   `msgpack:"r,omitempty"`
	Indexed    bool   `msgpack:"i,omitempty"`
	Unique     bool   `msgpack:"u,omitempty"`
	References string `msgpack:"fk,omitempty"` // target table for foreign keys
}

// TableSchema declares one table: its fields and the constraints on
// them. Unique fields are implicitly indexed.
type TableSchema struct {
	Name   string
	Fields []FieldDef
}

func (ts *TableSchema) Field(name string) (FieldDef, bool) {
	for _, f := range ts.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

func (ts *TableSchema) IndexedFields() []string {
	var out []string
	for _, f := range ts.Fields {
		if f.Indexed || f.Unique {
			out = append(out, f.Name)
		}
	}
	return out
}

func (ts *TableSchema) UniqueFields() []string {
	var out []string
	for _, f := range ts.Fields {
		if f.Unique {
			out = append(out, f.Name)
		}
	}
	return out
}

func (ts *TableSchema) validate() error {
	if ts.Name == "" {
		return fmt.Errorf("schema: table with empty name")
	}
	seen := make(map[string]bool, len(ts.Fields))
	for _, f := range ts.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema: %s: field with empty name", ts.Name)
		}
		if f.Name == FieldID || f.Name == FieldCreatedAt || f.Name == FieldUpdatedAt {
			return fmt.Errorf("schema: %s: field %q is reserved", ts.Name, f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema: %s: duplicate field %q", ts.Name, f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case TypeInt, TypeFloat, TypeString, TypeBool, TypeAny, "":
		default:
			return fmt.Errorf("schema: %s.%s: unknown type %q", ts.Name, f.Name, f.Type)
		}
	}
	return nil
}

// Discoverer enumerates the table schemas declared by the hosting
// application. It is consumed once, by migration, when the store opens;
// there is no global registry.
type Discoverer interface {
	DiscoverTables() ([]TableSchema, error)
}

// Tables is a static Discoverer over a fixed schema list.
func Tables(schemas ...TableSchema) Discoverer {
	return staticTables(schemas)
}

type staticTables []TableSchema

func (s staticTables) DiscoverTables() ([]TableSchema, error) {
	return []TableSchema(s), nil
}

// Validator normalizes raw input against a table schema before every
// create and update. A non-empty FieldError list rejects the write.
type Validator interface {
	Validate(schema *TableSchema, raw map[string]any) (map[string]any, []FieldError)
}
