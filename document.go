package docdb

import (
	"maps"
	"time"
)

// Reserved field names resolved against document metadata rather than
// the field map.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// Document is one stored record: a field/value mapping plus an implicit
// identifier and timestamps. Identifiers are unique per table, assigned
// in increasing order and never reused after deletion.
//
// Documents returned from queries are snapshots; mutating them has no
// effect on stored state.
type Document struct {
	ID        uint64         `msgpack:"id"`
	CreatedAt time.Time      `msgpack:"ct"`
	UpdatedAt time.Time      `msgpack:"ut"`
	Fields    map[string]any `msgpack:"f"`
}

// Field resolves a field by name, treating id/created_at/updated_at as
// virtual fields. A field absent from the map reads as nil.
func (d *Document) Field(name string) any {
	switch name {
	case FieldID:
		return d.ID
	case FieldCreatedAt:
		return d.CreatedAt.UnixNano()
	case FieldUpdatedAt:
		return d.UpdatedAt.UnixNano()
	}
	return d.Fields[name]
}

func (d *Document) clone() *Document {
	c := *d
	c.Fields = maps.Clone(d.Fields)
	return &c
}

func cloneDocs(docs []*Document) []*Document {
	out := make([]*Document, len(docs))
	for i, d := range docs {
		out[i] = d.clone()
	}
	return out
}
