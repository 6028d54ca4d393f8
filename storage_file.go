package docdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/natefinch/atomic"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	tableMagic   = "docb"
	tableFormVer = 1
	tableFileExt = ".tbl"
	metaFileName = "schema.meta"
)

// FileDriver persists one file per table under a root directory, plus
// one file for schema metadata. Every write goes to a temporary file
// first and is then renamed over the old one, so readers never observe
// a partially written table.
type FileDriver struct {
	root  string
	codec Codec

	mu  sync.Mutex
	bad map[string]*CorruptionError
}

// NewFileDriver opens (creating if needed) a store rooted at dir. A nil
// codec means no payload transformation.
func NewFileDriver(dir string, codec Codec) (*FileDriver, error) {
	if codec == nil {
		codec = RawCodec{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storageErrf("", err, "creating %s", dir)
	}
	return &FileDriver{
		root:  dir,
		codec: codec,
		bad:   make(map[string]*CorruptionError),
	}, nil
}

func (d *FileDriver) tablePath(table string) string {
	return filepath.Join(d.root, table+tableFileExt)
}

func (d *FileDriver) checkAvailable(table string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.bad[table]; err != nil {
		return err
	}
	return nil
}

func (d *FileDriver) markCorrupt(table, path string, err error) error {
	ce := &CorruptionError{Table: table, Path: path, Err: err}
	d.mu.Lock()
	d.bad[table] = ce
	d.mu.Unlock()
	return ce
}

func (d *FileDriver) Get(ctx context.Context, table string) (*TableData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.checkAvailable(table); err != nil {
		return nil, err
	}
	path := d.tablePath(table)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &TableData{}, nil
	}
	if err != nil {
		return nil, storageErrf(table, err, "")
	}
	payload, err := decodeFrame(tableMagic, raw)
	if err != nil {
		return nil, d.markCorrupt(table, path, err)
	}
	var td TableData
	if err := msgpack.Unmarshal(payload, &td); err != nil {
		return nil, d.markCorrupt(table, path, err)
	}
	return &td, nil
}

func (d *FileDriver) Put(ctx context.Context, table string, data *TableData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(table, `/\`) {
		return storageErrf(table, fmt.Errorf("invalid table name"), "")
	}
	payload, err := msgpack.Marshal(data)
	if err != nil {
		return storageErrf(table, err, "encoding")
	}
	raw, err := encodeFrame(tableMagic, d.codec, payload)
	if err != nil {
		return storageErrf(table, err, "encoding")
	}
	if err := atomic.WriteFile(d.tablePath(table), bytes.NewReader(raw)); err != nil {
		return storageErrf(table, err, "")
	}
	// A full replace supersedes whatever was unreadable before.
	d.mu.Lock()
	delete(d.bad, table)
	d.mu.Unlock()
	return nil
}

func (d *FileDriver) Append(ctx context.Context, table string, doc *Document) (uint64, error) {
	td, err := d.Get(ctx, table)
	if err != nil {
		return 0, err
	}
	td.Seq++
	doc.ID = td.Seq
	td.Docs = append(td.Docs, doc)
	if err := d.Put(ctx, table, td); err != nil {
		return 0, err
	}
	return doc.ID, nil
}

func (d *FileDriver) Tables(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, storageErrf("", err, "")
	}
	var out []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), tableFileExt); ok && !e.IsDir() {
			out = append(out, name)
		}
	}
	return out, nil
}

func (d *FileDriver) LoadMeta(ctx context.Context) (*SchemaMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(d.root, metaFileName)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return newSchemaMeta(), nil
	}
	if err != nil {
		return nil, storageErrf("", err, "reading schema metadata")
	}
	payload, err := decodeFrame(tableMagic, raw)
	if err != nil {
		return nil, &CorruptionError{Table: "_schema", Path: path, Err: err}
	}
	var meta SchemaMeta
	if err := msgpack.Unmarshal(payload, &meta); err != nil {
		return nil, &CorruptionError{Table: "_schema", Path: path, Err: err}
	}
	if meta.Tables == nil {
		meta.Tables = make(map[string]*TableMeta)
	}
	return &meta, nil
}

func (d *FileDriver) StoreMeta(ctx context.Context, meta *SchemaMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := msgpack.Marshal(meta)
	if err != nil {
		return storageErrf("", err, "encoding schema metadata")
	}
	raw, err := encodeFrame(tableMagic, d.codec, payload)
	if err != nil {
		return storageErrf("", err, "encoding schema metadata")
	}
	if err := atomic.WriteFile(filepath.Join(d.root, metaFileName), bytes.NewReader(raw)); err != nil {
		return storageErrf("", err, "")
	}
	return nil
}

// Repair clears a table's corruption mark and re-reads it to verify the
// operator actually fixed (or replaced) the file. The table stays
// unavailable if it is still unreadable.
func (d *FileDriver) Repair(ctx context.Context, table string) error {
	d.mu.Lock()
	delete(d.bad, table)
	d.mu.Unlock()
	_, err := d.Get(ctx, table)
	return err
}

func (d *FileDriver) Close() error { return nil }

// encodeFrame wraps payload with magic, format version, codec name and
// an xxhash64 checksum of the codec output.
func encodeFrame(magic string, codec Codec, payload []byte) ([]byte, error) {
	enc, err := codec.Encode(payload)
	if err != nil {
		return nil, err
	}
	name := codec.Name()
	buf := make([]byte, 0, len(magic)+len(name)+16+len(enc))
	buf = append(buf, magic...)
	buf = binary.AppendUvarint(buf, tableFormVer)
	buf = binary.AppendUvarint(buf, uint64(len(name)))
	buf = append(buf, name...)
	buf = binary.BigEndian.AppendUint64(buf, xxhash.Sum64(enc))
	buf = append(buf, enc...)
	return buf, nil
}

func decodeFrame(magic string, raw []byte) ([]byte, error) {
	if len(raw) < len(magic) || string(raw[:len(magic)]) != magic {
		return nil, fmt.Errorf("bad magic")
	}
	rest := raw[len(magic):]
	ver, n := binary.Uvarint(rest)
	if n <= 0 || ver != tableFormVer {
		return nil, fmt.Errorf("unsupported format version %d", ver)
	}
	rest = rest[n:]
	nameLen, n := binary.Uvarint(rest)
	if n <= 0 || uint64(len(rest)-n) < nameLen {
		return nil, fmt.Errorf("truncated header")
	}
	rest = rest[n:]
	codecName := string(rest[:nameLen])
	rest = rest[nameLen:]
	if len(rest) < 8 {
		return nil, fmt.Errorf("truncated header")
	}
	sum := binary.BigEndian.Uint64(rest[:8])
	enc := rest[8:]
	if xxhash.Sum64(enc) != sum {
		return nil, fmt.Errorf("checksum mismatch")
	}
	codec, ok := CodecByName(codecName)
	if !ok {
		return nil, fmt.Errorf("unknown codec %q", codecName)
	}
	return codec.Decode(enc)
}
