package docdb

import (
	"context"
	"sync/atomic"
	"time"
)

type statCounters struct {
	queries    atomic.Int64
	creates    atomic.Int64
	updates    atomic.Int64
	deletes    atomic.Int64
	queryNanos atomic.Int64
}

// TableStats describes one table's live state.
type TableStats struct {
	Rows    int
	Indexes int
	Version uint64
}

// Stats is a point-in-time snapshot of the store's activity counters
// and per-table sizes.
type Stats struct {
	Queries      int64
	Creates      int64
	Updates      int64
	Deletes      int64
	CacheHits    int64
	CacheMisses  int64
	CacheEntries int
	QueryTime    time.Duration

	Tables map[string]TableStats
}

// Stats reports activity counters and per-table row counts. Tables that
// were never read are loaded to count their rows.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		Queries:      db.stats.queries.Load(),
		Creates:      db.stats.creates.Load(),
		Updates:      db.stats.updates.Load(),
		Deletes:      db.stats.deletes.Load(),
		CacheHits:    db.cache.hits.Load(),
		CacheMisses:  db.cache.misses.Load(),
		CacheEntries: db.cache.size(),
		QueryTime:    time.Duration(db.stats.queryNanos.Load()),
		Tables:       make(map[string]TableStats),
	}

	db.mu.RLock()
	states := make([]*tableState, 0, len(db.tables))
	for _, ts := range db.tables {
		states = append(states, ts)
	}
	meta := db.meta
	db.mu.RUnlock()

	for _, ts := range states {
		snap, err := db.snapshotOf(ctx, ts)
		if err != nil {
			return st, err
		}
		var version uint64
		if tm := meta.Tables[ts.name]; tm != nil {
			version = tm.Version
		}
		st.Tables[ts.name] = TableStats{
			Rows:    len(snap.docs),
			Indexes: len(ts.indexed),
			Version: version,
		}
	}
	return st, nil
}
