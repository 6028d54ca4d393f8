package docdb

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const backupMagic = "dbak"

// backupSnapshot is the durable backup payload: schema metadata plus
// every table's full state, including identifier sequences, so a
// restored store never re-issues an identifier the backup had seen.
type backupSnapshot struct {
	CreatedAt int64                 `msgpack:"at"`
	Meta      *SchemaMeta           `msgpack:"m"`
	Tables    map[string]*TableData `msgpack:"t"`
}

// Backup writes a compressed snapshot of the whole store to w. Tables
// are captured from their committed snapshots; a concurrent writer
// either lands in the backup or does not, per table.
func (db *DB) Backup(ctx context.Context, w io.Writer) error {
	db.mu.RLock()
	states := make([]*tableState, 0, len(db.tables))
	for _, ts := range db.tables {
		states = append(states, ts)
	}
	meta := db.meta.clone()
	db.mu.RUnlock()

	bs := backupSnapshot{
		CreatedAt: time.Now().UnixNano(),
		Meta:      meta,
		Tables:    make(map[string]*TableData, len(states)),
	}
	for _, ts := range states {
		snap, err := db.snapshotOf(ctx, ts)
		if err != nil {
			return err
		}
		bs.Tables[ts.name] = &TableData{Seq: snap.seq, Docs: snap.docs}
	}

	payload, err := msgpack.Marshal(&bs)
	if err != nil {
		return storageErrf("", err, "encoding backup")
	}
	raw, err := encodeFrame(backupMagic, S2Codec{}, payload)
	if err != nil {
		return storageErrf("", err, "encoding backup")
	}
	if _, err := w.Write(raw); err != nil {
		return storageErrf("", err, "writing backup")
	}
	db.logger.Info("backup written", "tables", len(bs.Tables), "bytes", len(raw))
	return nil
}

// Restore replaces the whole store with a backup's contents: schema
// metadata, every table it holds, and empty state for tables the backup
// does not mention. Cached results and built indexes are discarded.
// Restoring over a corrupt table repairs it.
func (db *DB) Restore(ctx context.Context, r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return storageErrf("", err, "reading backup")
	}
	payload, err := decodeFrame(backupMagic, raw)
	if err != nil {
		return &CorruptionError{Table: "_backup", Err: err}
	}
	var bs backupSnapshot
	if err := msgpack.Unmarshal(payload, &bs); err != nil {
		return &CorruptionError{Table: "_backup", Err: err}
	}
	if bs.Meta == nil || bs.Meta.Tables == nil {
		return &CorruptionError{Table: "_backup", Err: io.ErrUnexpectedEOF}
	}

	// Quiesce every table's write path before touching shared state;
	// write locks are taken before db.mu so in-flight writers (which
	// resolve tables under db.mu while holding their write lock) cannot
	// deadlock against us.
	db.mu.RLock()
	old := make([]*tableState, 0, len(db.tables))
	for _, ts := range db.tables {
		old = append(old, ts)
	}
	db.mu.RUnlock()
	sort.Slice(old, func(i, j int) bool { return old[i].name < old[j].name })
	for _, ts := range old {
		ts.writeMu.Lock()
		defer ts.writeMu.Unlock()
	}

	existing, err := db.driver.Tables(ctx)
	if err != nil {
		return err
	}
	for name, td := range bs.Tables {
		if err := db.driver.Put(ctx, name, td); err != nil {
			return err
		}
	}
	for _, name := range existing {
		if _, ok := bs.Tables[name]; !ok {
			if err := db.driver.Put(ctx, name, &TableData{}); err != nil {
				return err
			}
		}
	}
	if err := db.driver.StoreMeta(ctx, bs.Meta); err != nil {
		return err
	}

	db.mu.Lock()
	db.meta = bs.Meta
	for _, ts := range old {
		ts.gen.Add(1)
	}
	tables := make(map[string]*tableState, len(bs.Meta.Tables))
	for name, tm := range bs.Meta.Tables {
		ts := newTableState(name, tm.schema(name))
		if td := bs.Tables[name]; td != nil {
			ts.snap.Store(&snapshot{docs: td.Docs, seq: td.Seq})
		}
		ts.loaded = true
		tables[name] = ts
	}
	db.tables = tables
	db.mu.Unlock()

	db.cache.purge()
	db.logger.Info("store restored", "tables", len(tables))
	return nil
}
