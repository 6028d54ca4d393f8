package docdb

import (
	"context"
	"maps"
	"math"
	"slices"
	"strconv"
	"time"
)

// Create validates fields against the table's schema and persists a new
// document. The identifier is assigned by the storage driver and never
// reused; created_at and updated_at are set to the current time.
//
// Fails with *ValidationError for schema violations, *ConstraintViolation
// for duplicate unique values and *ReferenceError for dangling foreign
// keys. On any error nothing is persisted.
func (db *DB) Create(ctx context.Context, table string, fields map[string]any) (*Document, error) {
	ts, err := db.table(table)
	if err != nil {
		return nil, err
	}
	data, err := runHandlers(ctx, db.before, OpCreate, table, fields)
	if err != nil {
		return nil, err
	}
	if data != nil {
		m, ok := data.(map[string]any)
		if !ok {
			return nil, queryErrf("create middleware returned %T, want map[string]any", data)
		}
		fields = m
	}
	clean, ferrs := db.validator.Validate(ts.schema, fields)
	if len(ferrs) > 0 {
		return nil, &ValidationError{Table: table, Fields: ferrs}
	}

	ts.writeMu.Lock()
	doc, err := db.createLocked(ctx, ts, clean)
	ts.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	db.stats.creates.Add(1)
	db.logger.Debug("document created", "table", table, "id", doc.ID)
	if _, err := runHandlers(ctx, db.after, OpCreate, table, doc.clone()); err != nil {
		return nil, err
	}
	return doc.clone(), nil
}

func (db *DB) createLocked(ctx context.Context, ts *tableState, fields map[string]any) (*Document, error) {
	snap, err := db.snapshotOf(ctx, ts)
	if err != nil {
		return nil, err
	}
	if err := db.checkUnique(ts, snap, fields, 0); err != nil {
		return nil, err
	}
	if err := db.checkReferences(ctx, ts, fields); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc := &Document{CreatedAt: now, UpdatedAt: now, Fields: fields}
	id, err := db.driver.Append(ctx, ts.name, doc)
	if err != nil {
		return nil, err
	}
	doc.ID = id

	next := &snapshot{docs: append(slices.Clip(snap.docs), doc), seq: id}
	db.commit(ts, next, nil, doc)
	return doc, nil
}

// Get fetches one document by identifier, or nil if it does not exist.
func (db *DB) Get(ctx context.Context, table string, id uint64) (*Document, error) {
	ts, err := db.table(table)
	if err != nil {
		return nil, err
	}
	snap, err := db.snapshotOf(ctx, ts)
	if err != nil {
		return nil, err
	}
	_, doc := snap.findByID(id)
	if doc == nil {
		return nil, nil
	}
	return doc.clone(), nil
}

// Find runs a query and returns matching documents. Results come from
// the result cache when a structurally equivalent query was answered
// since the table's last write; concurrent cache misses for the same
// query share a single evaluation.
func (db *DB) Find(ctx context.Context, q *Query) ([]*Document, error) {
	start := time.Now()
	plan, err := q.plan()
	if err != nil {
		return nil, err
	}
	data, err := runHandlers(ctx, db.before, OpSelect, plan.table, q)
	if err != nil {
		return nil, err
	}
	if q2, ok := data.(*Query); ok && q2 != q {
		if plan, err = q2.plan(); err != nil {
			return nil, err
		}
	}
	ts, err := db.table(plan.table)
	if err != nil {
		return nil, err
	}

	fp := plan.fingerprint()
	docs, hit := db.cache.get(fp)
	if !hit {
		v, err, _ := db.queries.Do(strconv.FormatUint(fp, 16), func() (any, error) {
			gen := ts.gen.Load()
			snap, err := db.snapshotOf(ctx, ts)
			if err != nil {
				return nil, err
			}
			res := db.execPlan(ts, snap, plan)
			db.cache.putChecked(fp, plan.table, res, gen, &ts.gen)
			return res, nil
		})
		if err != nil {
			return nil, err
		}
		docs = cloneDocs(v.([]*Document))
	}

	db.stats.queries.Add(1)
	db.stats.queryNanos.Add(int64(time.Since(start)))

	out, err := runHandlers(ctx, db.after, OpSelect, plan.table, docs)
	if err != nil {
		return nil, err
	}
	if transformed, ok := out.([]*Document); ok {
		return transformed, nil
	}
	return docs, nil
}

// FindOne runs the query with a limit of one and returns the first
// match, or nil if nothing matches.
func (db *DB) FindOne(ctx context.Context, q *Query) (*Document, error) {
	one := *q
	one.limit = 1
	docs, err := db.Find(ctx, &one)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// GetAll returns the table's documents in identifier order. A limit of
// zero or less means no limit.
func (db *DB) GetAll(ctx context.Context, table string, limit, offset int) ([]*Document, error) {
	q := Q(table).Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return db.Find(ctx, q)
}

// Count returns the number of documents matching the query's
// predicates. Limit and offset are ignored.
func (db *DB) Count(ctx context.Context, q *Query) (int, error) {
	plan, err := q.plan()
	if err != nil {
		return 0, err
	}
	data, err := runHandlers(ctx, db.before, OpSelect, plan.table, q)
	if err != nil {
		return 0, err
	}
	if q2, ok := data.(*Query); ok && q2 != q {
		if plan, err = q2.plan(); err != nil {
			return 0, err
		}
	}
	ts, err := db.table(plan.table)
	if err != nil {
		return 0, err
	}
	snap, err := db.snapshotOf(ctx, ts)
	if err != nil {
		return 0, err
	}
	n := len(db.filterPlan(ts, snap, plan))
	db.stats.queries.Add(1)
	if _, err := runHandlers(ctx, db.after, OpSelect, plan.table, n); err != nil {
		return 0, err
	}
	return n, nil
}

// Update merges changes into the identified document, validates the
// merged field set and persists the result with a fresh updated_at.
// Returns nil if the document does not exist. Setting a field to nil
// stores an explicit null.
func (db *DB) Update(ctx context.Context, table string, id uint64, changes map[string]any) (*Document, error) {
	ts, err := db.table(table)
	if err != nil {
		return nil, err
	}
	data, err := runHandlers(ctx, db.before, OpUpdate, table, changes)
	if err != nil {
		return nil, err
	}
	if data != nil {
		m, ok := data.(map[string]any)
		if !ok {
			return nil, queryErrf("update middleware returned %T, want map[string]any", data)
		}
		changes = m
	}

	ts.writeMu.Lock()
	doc, err := db.updateLocked(ctx, ts, id, changes)
	ts.writeMu.Unlock()
	if err != nil || doc == nil {
		return nil, err
	}

	db.stats.updates.Add(1)
	db.logger.Debug("document updated", "table", table, "id", id)
	if _, err := runHandlers(ctx, db.after, OpUpdate, table, doc.clone()); err != nil {
		return nil, err
	}
	return doc.clone(), nil
}

func (db *DB) updateLocked(ctx context.Context, ts *tableState, id uint64, changes map[string]any) (*Document, error) {
	snap, err := db.snapshotOf(ctx, ts)
	if err != nil {
		return nil, err
	}
	pos, old := snap.findByID(id)
	if old == nil {
		return nil, nil
	}

	merged := maps.Clone(old.Fields)
	if merged == nil {
		merged = make(map[string]any, len(changes))
	}
	for k, v := range changes {
		merged[k] = v
	}
	clean, ferrs := db.validator.Validate(ts.schema, merged)
	if len(ferrs) > 0 {
		return nil, &ValidationError{Table: ts.name, Fields: ferrs}
	}
	if err := db.checkUnique(ts, snap, clean, id); err != nil {
		return nil, err
	}
	if err := db.checkReferences(ctx, ts, clean); err != nil {
		return nil, err
	}

	next := old.clone()
	next.Fields = clean
	next.UpdatedAt = time.Now().UTC()

	docs := make([]*Document, len(snap.docs))
	copy(docs, snap.docs)
	docs[pos] = next
	if err := db.driver.Put(ctx, ts.name, &TableData{Seq: snap.seq, Docs: docs}); err != nil {
		return nil, err
	}
	db.commit(ts, &snapshot{docs: docs, seq: snap.seq}, old, next)
	return next, nil
}

// Delete removes the identified document and reports whether it
// existed. The identifier sequence is unaffected: a deleted id is never
// handed out again.
func (db *DB) Delete(ctx context.Context, table string, id uint64) (bool, error) {
	ts, err := db.table(table)
	if err != nil {
		return false, err
	}
	if _, err := runHandlers(ctx, db.before, OpDelete, table, id); err != nil {
		return false, err
	}

	ts.writeMu.Lock()
	old, err := db.deleteLocked(ctx, ts, id)
	ts.writeMu.Unlock()
	if err != nil {
		return false, err
	}
	if old == nil {
		return false, nil
	}

	db.stats.deletes.Add(1)
	db.logger.Debug("document deleted", "table", table, "id", id)
	if _, err := runHandlers(ctx, db.after, OpDelete, table, old.clone()); err != nil {
		return false, err
	}
	return true, nil
}

func (db *DB) deleteLocked(ctx context.Context, ts *tableState, id uint64) (*Document, error) {
	snap, err := db.snapshotOf(ctx, ts)
	if err != nil {
		return nil, err
	}
	pos, old := snap.findByID(id)
	if old == nil {
		return nil, nil
	}

	docs := make([]*Document, 0, len(snap.docs)-1)
	docs = append(docs, snap.docs[:pos]...)
	docs = append(docs, snap.docs[pos+1:]...)
	if err := db.driver.Put(ctx, ts.name, &TableData{Seq: snap.seq, Docs: docs}); err != nil {
		return nil, err
	}
	db.commit(ts, &snapshot{docs: docs, seq: snap.seq}, old, nil)
	return old, nil
}

// checkUnique rejects field values already present on another document.
// Unique fields are always indexed, so the check is a bucket lookup.
// Null values are exempt.
func (db *DB) checkUnique(ts *tableState, snap *snapshot, fields map[string]any, excludeID uint64) error {
	for _, field := range ts.schema.UniqueFields() {
		key := normalizeValue(fields[field])
		if key.isNull() {
			continue
		}
		for id := range ts.idx.searchEq(field, snap.docs, fields[field]) {
			if id != excludeID {
				return &ConstraintViolation{Table: ts.name, Field: field, Value: fields[field]}
			}
		}
	}
	return nil
}

// checkReferences verifies every non-null foreign key resolves to an
// existing document in its target table.
func (db *DB) checkReferences(ctx context.Context, ts *tableState, fields map[string]any) error {
	for _, fd := range ts.schema.Fields {
		if fd.References == "" {
			continue
		}
		v := fields[fd.Name]
		if normalizeValue(v).isNull() {
			continue
		}
		refErr := &ReferenceError{Table: ts.name, Field: fd.Name, Target: fd.References, Value: v}
		id, ok := refID(v)
		if !ok {
			return refErr
		}
		target, err := db.table(fd.References)
		if err != nil {
			return refErr
		}
		snap, err := db.snapshotOf(ctx, target)
		if err != nil {
			return err
		}
		if _, doc := snap.findByID(id); doc == nil {
			return refErr
		}
	}
	return nil
}

func refID(v any) (uint64, bool) {
	k := normalizeValue(v)
	if k.kind != kindNumber || k.num < 0 || k.num != math.Trunc(k.num) {
		return 0, false
	}
	return uint64(k.num), true
}

// AggFunc names an aggregation over a filtered document set.
type AggFunc string

const (
	AggCount AggFunc = "count"
	AggSum   AggFunc = "sum"
	AggAvg   AggFunc = "avg"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
)

// Aggregate applies fn over the documents matching the query's
// predicates; limit and offset are ignored. Count returns an int64.
// Sum and Avg return float64, skipping non-numeric values; Avg divides
// by the full filtered count and returns nil over an empty set. Min and
// Max compare with the store's value ordering, skip nulls, and return
// nil when every value is null.
func (db *DB) Aggregate(ctx context.Context, q *Query, fn AggFunc, field string) (any, error) {
	plan, err := q.plan()
	if err != nil {
		return nil, err
	}
	if fn != AggCount && field == "" {
		return nil, queryErrf("aggregate %s requires a field", fn)
	}
	data, err := runHandlers(ctx, db.before, OpSelect, plan.table, q)
	if err != nil {
		return nil, err
	}
	if q2, ok := data.(*Query); ok && q2 != q {
		if plan, err = q2.plan(); err != nil {
			return nil, err
		}
	}
	ts, err := db.table(plan.table)
	if err != nil {
		return nil, err
	}
	snap, err := db.snapshotOf(ctx, ts)
	if err != nil {
		return nil, err
	}
	docs := db.filterPlan(ts, snap, plan)
	db.stats.queries.Add(1)

	res, err := aggregate(docs, fn, field)
	if err != nil {
		return nil, err
	}
	if _, err := runHandlers(ctx, db.after, OpSelect, plan.table, res); err != nil {
		return nil, err
	}
	return res, nil
}

func aggregate(docs []*Document, fn AggFunc, field string) (any, error) {
	switch fn {
	case AggCount:
		return int64(len(docs)), nil
	case AggSum, AggAvg:
		var sum float64
		for _, d := range docs {
			if k := normalizeValue(d.Field(field)); k.kind == kindNumber {
				sum += k.num
			}
		}
		if fn == AggSum {
			return sum, nil
		}
		if len(docs) == 0 {
			return nil, nil
		}
		return sum / float64(len(docs)), nil
	case AggMin, AggMax:
		var best any
		found := false
		for _, d := range docs {
			v := d.Field(field)
			if normalizeValue(v).isNull() {
				continue
			}
			if !found {
				best, found = v, true
				continue
			}
			c := compareValues(v, best)
			if (fn == AggMin && c < 0) || (fn == AggMax && c > 0) {
				best = v
			}
		}
		return best, nil
	default:
		return nil, queryErrf("unknown aggregate %q", string(fn))
	}
}
