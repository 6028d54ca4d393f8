package docdb

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// DB is the composition root: repository operations flow middleware →
// cache → query engine → index manager → storage driver.
type DB struct {
	driver    Driver
	validator Validator
	logger    *slog.Logger
	cache     *resultCache
	queries   singleflight.Group
	meta      *SchemaMeta

	before []Handler
	after  []Handler

	mu     sync.RWMutex
	tables map[string]*tableState

	stats statCounters
}

// Options configures Open. The zero value opens a file store at Path
// with default cache size and no logging.
type Options struct {
	// Driver overrides the storage backend. When nil, a FileDriver
	// rooted at Path is used.
	Driver Driver

	// Path is the file store's root directory (ignored when Driver is
	// set).
	Path string

	// Codec optionally compresses table payloads (file driver only).
	Codec Codec

	// CacheSize bounds the result cache entry count; 0 means
	// DefaultCacheSize. NoCache disables result caching entirely,
	// which changes latency but never results.
	CacheSize int
	NoCache   bool

	Logger    *slog.Logger
	Validator Validator
}

// Open opens the store, discovers declared schemas, and migrates
// persisted metadata to match. When some tables fail to migrate, Open
// returns both a usable *DB and a *MigrationError describing them; the
// failed tables keep their previous schema.
func Open(ctx context.Context, disc Discoverer, opt Options) (*DB, error) {
	driver := opt.Driver
	if driver == nil {
		var err error
		driver, err = NewFileDriver(opt.Path, opt.Codec)
		if err != nil {
			return nil, err
		}
	}

	logger := opt.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	validator := opt.Validator
	if validator == nil {
		validator = SchemaValidator{}
	}
	cacheSize := opt.CacheSize
	if cacheSize == 0 {
		cacheSize = DefaultCacheSize
	}
	if opt.NoCache {
		cacheSize = 0
	}

	meta, err := driver.LoadMeta(ctx)
	if err != nil {
		return nil, err
	}

	db := &DB{
		driver:    driver,
		validator: validator,
		logger:    logger,
		cache:     newResultCache(cacheSize),
		meta:      meta,
		tables:    make(map[string]*tableState),
	}

	migErr := db.migrate(ctx, disc)
	if migErr != nil {
		if _, partial := migErr.(*MigrationError); !partial {
			return nil, migErr
		}
	}

	db.rebuildTableStates()
	db.logger.Info("store opened", "tables", len(db.tables))
	return db, migErr
}

func (db *DB) Close() error {
	return db.driver.Close()
}

// Driver exposes the storage backend (for Repair and similar
// driver-specific maintenance).
func (db *DB) Driver() Driver { return db.driver }

// rebuildTableStates derives live table states from persisted metadata.
func (db *DB) rebuildTableStates() {
	db.mu.Lock()
	defer db.mu.Unlock()
	tables := make(map[string]*tableState, len(db.meta.Tables))
	for name, tm := range db.meta.Tables {
		tables[name] = newTableState(name, tm.schema(name))
	}
	db.tables = tables
}

// Table names the store's known tables, sorted.
func (db *DB) Tables() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]string, 0, len(db.tables))
	for name := range db.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Schema returns a table's effective schema, or nil for an unknown
// table.
func (db *DB) Schema(table string) *TableSchema {
	db.mu.RLock()
	defer db.mu.RUnlock()
	ts := db.tables[table]
	if ts == nil {
		return nil
	}
	return ts.schema
}

func (db *DB) table(name string) (*tableState, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	ts := db.tables[name]
	if ts == nil {
		return nil, queryErrf("unknown table %q", name)
	}
	return ts, nil
}

// tableState is one table's live state: schema, committed snapshot and
// built indexes. The write path is exclusive per table; readers take
// the last committed snapshot without locking.
type tableState struct {
	name    string
	schema  *TableSchema
	indexed map[string]bool

	// writeMu serializes the table's write path: at most one in-flight
	// write per table.
	writeMu sync.Mutex

	// gen counts committed writes. It is bumped before cache
	// invalidation so in-flight reads cannot re-populate the cache
	// with pre-write results.
	gen atomic.Uint64

	loadMu sync.Mutex
	loaded bool
	snap   atomic.Pointer[snapshot]

	idx *tableIndex
}

// snapshot is a table's committed document set in identifier order,
// plus the identifier sequence. Snapshots are immutable; writes build
// and swap a new one.
type snapshot struct {
	docs []*Document
	seq  uint64
}

func newTableState(name string, schema *TableSchema) *tableState {
	ts := &tableState{
		name:    name,
		schema:  schema,
		indexed: make(map[string]bool),
		idx:     newTableIndex(),
	}
	for _, f := range schema.IndexedFields() {
		ts.indexed[f] = true
	}
	ts.snap.Store(&snapshot{})
	return ts
}

// snapshotOf returns the table's committed snapshot, loading it from
// the driver on first access. Corruption and I/O errors surface here;
// a corrupt table keeps failing until repaired or restored.
func (db *DB) snapshotOf(ctx context.Context, ts *tableState) (*snapshot, error) {
	if ts.isLoaded() {
		return ts.snap.Load(), nil
	}
	ts.loadMu.Lock()
	defer ts.loadMu.Unlock()
	if ts.loaded {
		return ts.snap.Load(), nil
	}
	td, err := db.driver.Get(ctx, ts.name)
	if err != nil {
		return nil, err
	}
	snap := &snapshot{docs: td.Docs, seq: td.Seq}
	ts.snap.Store(snap)
	ts.loaded = true
	return snap, nil
}

func (ts *tableState) isLoaded() bool {
	ts.loadMu.Lock()
	defer ts.loadMu.Unlock()
	return ts.loaded
}

// commit publishes a new snapshot after a successful driver write and
// synchronously invalidates the table's cached results.
func (db *DB) commit(ts *tableState, snap *snapshot, old, next *Document) {
	ts.snap.Store(snap)
	ts.gen.Add(1)
	ts.idx.patch(old, next)
	db.cache.invalidate(ts.name)
}

// findByID locates a document in a snapshot by binary search (documents
// are kept in ascending identifier order).
func (s *snapshot) findByID(id uint64) (int, *Document) {
	pos := sort.Search(len(s.docs), func(i int) bool {
		return s.docs[i].ID >= id
	})
	if pos < len(s.docs) && s.docs[pos].ID == id {
		return pos, s.docs[pos]
	}
	return -1, nil
}
