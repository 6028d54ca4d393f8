package docdb

import (
	"fmt"
	"sort"
	"strings"
)

// FieldError describes a single field rejected by schema validation.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationError is returned when the schema rejects input. Nothing is
// written when it occurs.
type ValidationError struct {
	Table  string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Table)
	buf.WriteString(": validation failed")
	for _, fe := range e.Fields {
		buf.WriteString(": ")
		buf.WriteString(fe.Error())
	}
	return buf.String()
}

// ConstraintViolation is returned when a write would break a unique
// constraint, or when migration tries to add a unique constraint over
// data that already violates it. Nothing is written when it occurs.
type ConstraintViolation struct {
	Table string
	Field string
	Value any
}

func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("%s.%s: duplicate value %v", e.Table, e.Field, e.Value)
}

// ReferenceError is returned when a foreign key references a document
// that does not exist in the target table.
type ReferenceError struct {
	Table  string
	Field  string
	Target string
	Value  any
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s.%s: no %s document with id %v", e.Table, e.Field, e.Target, e.Value)
}

// QueryError indicates a malformed query (unknown table, unrecognized
// operator, invalid operand). It is raised at plan build time, before
// any I/O.
type QueryError struct {
	Msg string
}

func (e *QueryError) Error() string {
	return "query: " + e.Msg
}

func queryErrf(format string, args ...any) error {
	return &QueryError{Msg: fmt.Sprintf(format, args...)}
}

// StorageError wraps an I/O failure. The table state is unchanged.
type StorageError struct {
	Table string
	Err   error
}

func (e *StorageError) Error() string {
	if e.Table == "" {
		return "storage: " + e.Err.Error()
	}
	return "storage: " + e.Table + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErrf(table string, err error, format string, args ...any) error {
	if format != "" {
		err = fmt.Errorf(format+": %w", append(args, err)...)
	}
	return &StorageError{Table: table, Err: err}
}

// CorruptionError means persisted state is unreadable. The affected
// table stays unavailable until repaired or restored from a backup; it
// is never silently reset.
type CorruptionError struct {
	Table string
	Path  string
	Err   error
}

func (e *CorruptionError) Error() string {
	s := "corrupt table " + e.Table
	if e.Path != "" {
		s += " (" + e.Path + ")"
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// MigrationError collects per-table migration failures. Tables whose
// migration failed keep their previous persisted schema; independent
// tables are migrated regardless.
type MigrationError struct {
	Failures map[string]error
}

func (e *MigrationError) Error() string {
	tables := make([]string, 0, len(e.Failures))
	for t := range e.Failures {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	var buf strings.Builder
	fmt.Fprintf(&buf, "migration failed for %d table(s)", len(tables))
	for _, t := range tables {
		fmt.Fprintf(&buf, "; %s: %v", t, e.Failures[t])
	}
	return buf.String()
}
