package docdb

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// MemDriver keeps everything in memory. It backs tests, including the
// zero-writes idempotency checks (Writes counts Put/Append/StoreMeta
// calls) and cache-equivalence checks.
type MemDriver struct {
	mu     sync.Mutex
	tables map[string]*TableData
	meta   *SchemaMeta

	// Writes counts mutating driver calls.
	Writes atomic.Int64
}

func NewMemDriver() *MemDriver {
	return &MemDriver{
		tables: make(map[string]*TableData),
		meta:   newSchemaMeta(),
	}
}

func (d *MemDriver) Get(ctx context.Context, table string) (*TableData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	td := d.tables[table]
	if td == nil {
		return &TableData{}, nil
	}
	return td.clone(), nil
}

func (d *MemDriver) Put(ctx context.Context, table string, data *TableData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.Writes.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[table] = data.clone()
	return nil
}

func (d *MemDriver) Append(ctx context.Context, table string, doc *Document) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.Writes.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	td := d.tables[table]
	if td == nil {
		td = &TableData{}
		d.tables[table] = td
	}
	td.Seq++
	doc.ID = td.Seq
	td.Docs = append(td.Docs, doc.clone())
	return doc.ID, nil
}

func (d *MemDriver) Tables(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.tables))
	for t := range d.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (d *MemDriver) LoadMeta(ctx context.Context) (*SchemaMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.meta.clone(), nil
}

func (d *MemDriver) StoreMeta(ctx context.Context, meta *SchemaMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.Writes.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.meta = meta.clone()
	return nil
}

func (d *MemDriver) Close() error { return nil }
