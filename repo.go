package docdb

import (
	"context"

	"github.com/vmihailenco/msgpack/v5"
)

// Record pairs a typed value with its document metadata.
type Record[T any] struct {
	ID        uint64
	CreatedAt int64
	UpdatedAt int64
	Data      T
}

// Repo is a typed view over one table. Values are mapped to document
// fields through their msgpack struct tags, so the same tags describe
// both the durable layout and the queryable field names.
type Repo[T any] struct {
	db    *DB
	table string
}

func NewRepo[T any](db *DB, table string) *Repo[T] {
	return &Repo[T]{db: db, table: table}
}

func (r *Repo[T]) Table() string { return r.table }

func (r *Repo[T]) Create(ctx context.Context, v T) (*Record[T], error) {
	fields, err := encodeFields(v)
	if err != nil {
		return nil, err
	}
	doc, err := r.db.Create(ctx, r.table, fields)
	if err != nil {
		return nil, err
	}
	return r.record(doc)
}

func (r *Repo[T]) Get(ctx context.Context, id uint64) (*Record[T], error) {
	doc, err := r.db.Get(ctx, r.table, id)
	if err != nil || doc == nil {
		return nil, err
	}
	return r.record(doc)
}

// Find runs a query built with Q(repo.Table()) and decodes the results.
func (r *Repo[T]) Find(ctx context.Context, q *Query) ([]*Record[T], error) {
	docs, err := r.db.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]*Record[T], len(docs))
	for i, doc := range docs {
		if out[i], err = r.record(doc); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Repo[T]) FindOne(ctx context.Context, q *Query) (*Record[T], error) {
	doc, err := r.db.FindOne(ctx, q)
	if err != nil || doc == nil {
		return nil, err
	}
	return r.record(doc)
}

// Update merges v's encoded fields into the document. Fields omitted
// from the encoding (msgpack omitempty) keep their stored values.
func (r *Repo[T]) Update(ctx context.Context, id uint64, v T) (*Record[T], error) {
	fields, err := encodeFields(v)
	if err != nil {
		return nil, err
	}
	doc, err := r.db.Update(ctx, r.table, id, fields)
	if err != nil || doc == nil {
		return nil, err
	}
	return r.record(doc)
}

// Patch merges the given field changes into the document.
func (r *Repo[T]) Patch(ctx context.Context, id uint64, changes map[string]any) (*Record[T], error) {
	doc, err := r.db.Update(ctx, r.table, id, changes)
	if err != nil || doc == nil {
		return nil, err
	}
	return r.record(doc)
}

func (r *Repo[T]) Delete(ctx context.Context, id uint64) (bool, error) {
	return r.db.Delete(ctx, r.table, id)
}

func (r *Repo[T]) Count(ctx context.Context, q *Query) (int, error) {
	return r.db.Count(ctx, q)
}

func (r *Repo[T]) record(doc *Document) (*Record[T], error) {
	var data T
	raw, err := msgpack.Marshal(doc.Fields)
	if err != nil {
		return nil, err
	}
	if err := msgpack.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return &Record[T]{
		ID:        doc.ID,
		CreatedAt: doc.CreatedAt.UnixNano(),
		UpdatedAt: doc.UpdatedAt.UnixNano(),
		Data:      data,
	}, nil
}

// encodeFields maps a typed value to a field map through its msgpack
// encoding.
func encodeFields[T any](v T) (map[string]any, error) {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := msgpack.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
