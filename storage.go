package docdb

import "context"

// TableData is a table's full durable state: the committed document set
// in identifier order plus the identifier sequence. The sequence only
// grows, so identifiers are never reused even after deletion.
type TableData struct {
	Seq  uint64      `msgpack:"seq"`
	Docs []*Document `msgpack:"docs"`
}

func (td *TableData) clone() *TableData {
	return &TableData{Seq: td.Seq, Docs: cloneDocs(td.Docs)}
}

// Driver is a durable storage backend (file-per-table, Bolt, in-memory).
//
// Get returns a table's committed state; a table that was never written
// reads as empty. Put atomically replaces a table's full state: readers
// never observe a partial write. Append persists one new document and
// returns its assigned identifier.
//
// I/O failures surface as *StorageError with the table state unchanged.
// Unreadable persisted state surfaces as *CorruptionError and keeps the
// table unavailable until it is repaired or restored, never silently
// reset.
type Driver interface {
	Get(ctx context.Context, table string) (*TableData, error)
	Put(ctx context.Context, table string, data *TableData) error
	Append(ctx context.Context, table string, doc *Document) (uint64, error)

	// Tables enumerates tables present in storage (for backup).
	Tables(ctx context.Context) ([]string, error)

	// LoadMeta and StoreMeta access the schema metadata unit. LoadMeta
	// returns an empty SchemaMeta if none was stored yet.
	LoadMeta(ctx context.Context) (*SchemaMeta, error)
	StoreMeta(ctx context.Context, meta *SchemaMeta) error

	Close() error
}
