/*
Package docdb implements a file-backed document store with secondary
indexes, cached query execution and additive schema migration.

We implement:

1. Tables, named collections of schema-described documents. Each document
is an opaque field/value map plus a monotonically increasing identifier
and creation/update timestamps. Identifiers are never reused, even after
deletion.

2. Indexes, in-memory per-field lookup structures built lazily on first
use and patched incrementally on every write. Fields declared unique are
enforced at write time.

3. Queries, AND-combined field/operator/value predicates with multi-key
sorting, limit/offset and optional projection. Predicates on indexed
fields use index lookups; everything else falls back to a scan. The two
paths always produce identical results.

4. A result cache keyed by a deterministic query fingerprint, invalidated
per table on every successful write.

5. Schema migration driven by persisted metadata: declared schemas are
diffed against the stored description and only additive changes are
applied (create table, add field, add index, add unique constraint).

# Technical Details

**Drivers.**
Durability goes through a Driver. The file driver keeps one file per
table and replaces it atomically (write to a temp file, then rename).
The bolt driver stores a bucket per table in a single bbolt file. An
in-memory driver backs tests.

**Table file format** (file driver):
1. Magic "docb" (4 bytes).
2. Format version (uvarint).
3. Codec name length (uvarint), codec name bytes.
4. xxhash64 of the encoded payload (8 bytes, big endian).
5. Payload: msgpack of the table data, passed through the named codec.

The codec is transparent compression (s2 by default when enabled); it is
recorded in the header so files are self-describing and must round-trip
exactly.

**Schema metadata.**
One durable unit holds the persisted description of every table: fields,
indexed fields, unique fields and a per-table schema version. Migration
diffs declared schemas against this unit, never against live documents,
and running it twice with no delta performs zero writes.

**Concurrency.**
Each table has an exclusive write path (one in-flight write at a time).
Readers operate on the last committed snapshot, which is swapped as a
whole after every write, so a backup reads consistent table states
without blocking writers for longer than the copy.
*/
package docdb
