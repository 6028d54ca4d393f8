package docdb

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var (
	boltMetaBucket   = []byte("_meta")
	boltSchemaKey    = []byte("schema")
	boltSeqKeyPrefix = "seq:"
)

// BoltDriver stores all tables in a single bbolt file, one bucket per
// table with one key per document. Bolt transactions give the
// write-then-swap guarantee: a Put either commits as a whole or leaves
// the old state intact.
type BoltDriver struct {
	bdb *bbolt.DB
}

func NewBoltDriver(path string) (*BoltDriver, error) {
	bdb, err := bbolt.Open(path, 0o666, &bbolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, storageErrf("", err, "opening %s", path)
	}
	return &BoltDriver{bdb: bdb}, nil
}

func (d *BoltDriver) Get(ctx context.Context, table string) (*TableData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	td := &TableData{}
	err := d.bdb.View(func(btx *bbolt.Tx) error {
		if mb := btx.Bucket(boltMetaBucket); mb != nil {
			td.Seq = bytesToKey(mb.Get([]byte(boltSeqKeyPrefix + table)))
		}
		b := btx.Bucket([]byte(table))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var doc Document
			if err := msgpack.Unmarshal(v, &doc); err != nil {
				return &CorruptionError{Table: table, Err: err}
			}
			td.Docs = append(td.Docs, &doc)
			return nil
		})
	})
	if err != nil {
		if ce, ok := err.(*CorruptionError); ok {
			return nil, ce
		}
		return nil, storageErrf(table, err, "")
	}
	return td, nil
}

func (d *BoltDriver) Put(ctx context.Context, table string, data *TableData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := d.bdb.Update(func(btx *bbolt.Tx) error {
		name := []byte(table)
		if btx.Bucket(name) != nil {
			if err := btx.DeleteBucket(name); err != nil {
				return err
			}
		}
		b, err := btx.CreateBucket(name)
		if err != nil {
			return err
		}
		for _, doc := range data.Docs {
			raw, err := msgpack.Marshal(doc)
			if err != nil {
				return err
			}
			if err := b.Put(keyToBytes(doc.ID), raw); err != nil {
				return err
			}
		}
		mb, err := btx.CreateBucketIfNotExists(boltMetaBucket)
		if err != nil {
			return err
		}
		return mb.Put([]byte(boltSeqKeyPrefix+table), keyToBytes(data.Seq))
	})
	if err != nil {
		return storageErrf(table, err, "")
	}
	return nil
}

func (d *BoltDriver) Append(ctx context.Context, table string, doc *Document) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	err := d.bdb.Update(func(btx *bbolt.Tx) error {
		mb, err := btx.CreateBucketIfNotExists(boltMetaBucket)
		if err != nil {
			return err
		}
		seqKey := []byte(boltSeqKeyPrefix + table)
		seq := bytesToKey(mb.Get(seqKey)) + 1
		doc.ID = seq
		b, err := btx.CreateBucketIfNotExists([]byte(table))
		if err != nil {
			return err
		}
		raw, err := msgpack.Marshal(doc)
		if err != nil {
			return err
		}
		if err := b.Put(keyToBytes(seq), raw); err != nil {
			return err
		}
		return mb.Put(seqKey, keyToBytes(seq))
	})
	if err != nil {
		return 0, storageErrf(table, err, "")
	}
	return doc.ID, nil
}

func (d *BoltDriver) Tables(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []string
	err := d.bdb.View(func(btx *bbolt.Tx) error {
		return btx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if string(name) != string(boltMetaBucket) {
				out = append(out, string(name))
			}
			return nil
		})
	})
	if err != nil {
		return nil, storageErrf("", err, "")
	}
	return out, nil
}

func (d *BoltDriver) LoadMeta(ctx context.Context) (*SchemaMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meta := newSchemaMeta()
	err := d.bdb.View(func(btx *bbolt.Tx) error {
		mb := btx.Bucket(boltMetaBucket)
		if mb == nil {
			return nil
		}
		raw := mb.Get(boltSchemaKey)
		if raw == nil {
			return nil
		}
		if err := msgpack.Unmarshal(raw, meta); err != nil {
			return &CorruptionError{Table: "_schema", Err: err}
		}
		return nil
	})
	if err != nil {
		if ce, ok := err.(*CorruptionError); ok {
			return nil, ce
		}
		return nil, storageErrf("", err, "reading schema metadata")
	}
	if meta.Tables == nil {
		meta.Tables = make(map[string]*TableMeta)
	}
	return meta, nil
}

func (d *BoltDriver) StoreMeta(ctx context.Context, meta *SchemaMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := msgpack.Marshal(meta)
	if err != nil {
		return storageErrf("", err, "encoding schema metadata")
	}
	err = d.bdb.Update(func(btx *bbolt.Tx) error {
		mb, err := btx.CreateBucketIfNotExists(boltMetaBucket)
		if err != nil {
			return err
		}
		return mb.Put(boltSchemaKey, raw)
	})
	if err != nil {
		return storageErrf("", err, "")
	}
	return nil
}

func (d *BoltDriver) Close() error {
	return d.bdb.Close()
}
