package docdb

import (
	"slices"
	"sort"
	"sync"
)

type idSet map[uint64]struct{}

func (s idSet) add(id uint64)      { s[id] = struct{}{} }
func (s idSet) has(id uint64) bool { _, ok := s[id]; return ok }

func (s idSet) clone() idSet {
	out := make(idSet, len(s))
	for id := range s {
		out.add(id)
	}
	return out
}

func intersectSets(sets []idSet) idSet {
	if len(sets) == 0 {
		return nil
	}
	smallest := sets[0]
	for _, s := range sets[1:] {
		if len(s) < len(smallest) {
			smallest = s
		}
	}
	out := make(idSet, len(smallest))
next:
	for id := range smallest {
		for _, s := range sets {
			if !s.has(id) {
				continue next
			}
		}
		out.add(id)
	}
	return out
}

// fieldIndex maps normalized field values to document id sets, with
// keys kept in sorted order so range operators can binary-search.
// Null values are not indexed; predicates testing nullness scan.
type fieldIndex struct {
	keys    []indexKey
	buckets map[indexKey]idSet
}

func buildFieldIndex(field string, docs []*Document) *fieldIndex {
	fi := &fieldIndex{buckets: make(map[indexKey]idSet)}
	for _, doc := range docs {
		fi.insert(normalizeValue(doc.Field(field)), doc.ID)
	}
	return fi
}

func (fi *fieldIndex) insert(key indexKey, id uint64) {
	if key.isNull() {
		return
	}
	set := fi.buckets[key]
	if set == nil {
		set = make(idSet)
		fi.buckets[key] = set
		pos := sort.Search(len(fi.keys), func(i int) bool {
			return compareKeys(fi.keys[i], key) >= 0
		})
		fi.keys = slices.Insert(fi.keys, pos, key)
	}
	set.add(id)
}

func (fi *fieldIndex) delete(key indexKey, id uint64) {
	if key.isNull() {
		return
	}
	set := fi.buckets[key]
	if set == nil {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(fi.buckets, key)
		pos := sort.Search(len(fi.keys), func(i int) bool {
			return compareKeys(fi.keys[i], key) >= 0
		})
		if pos < len(fi.keys) && compareKeys(fi.keys[pos], key) == 0 {
			fi.keys = slices.Delete(fi.keys, pos, pos+1)
		}
	}
}

func (fi *fieldIndex) lookup(key indexKey) idSet {
	return fi.buckets[key]
}

func (fi *fieldIndex) lookupIn(list []any) idSet {
	out := make(idSet)
	for _, v := range list {
		for id := range fi.buckets[normalizeValue(v)] {
			out.add(id)
		}
	}
	return out
}

// lookupRange collects ids for gt/gte/lt/lte against bound. Comparisons
// only match values of the bound's kind, so the scan stays within the
// kind's contiguous key region.
func (fi *fieldIndex) lookupRange(op Op, bound indexKey) idSet {
	var start, end int
	switch op {
	case OpGt:
		start = sort.Search(len(fi.keys), func(i int) bool {
			return compareKeys(fi.keys[i], bound) > 0
		})
		end = fi.kindEnd(bound.kind)
	case OpGte:
		start = sort.Search(len(fi.keys), func(i int) bool {
			return compareKeys(fi.keys[i], bound) >= 0
		})
		end = fi.kindEnd(bound.kind)
	case OpLt:
		start = fi.kindStart(bound.kind)
		end = sort.Search(len(fi.keys), func(i int) bool {
			return compareKeys(fi.keys[i], bound) >= 0
		})
	case OpLte:
		start = fi.kindStart(bound.kind)
		end = sort.Search(len(fi.keys), func(i int) bool {
			return compareKeys(fi.keys[i], bound) > 0
		})
	default:
		panic("not a range operator")
	}
	out := make(idSet)
	for _, key := range fi.keys[start:min(end, len(fi.keys)):len(fi.keys)] {
		for id := range fi.buckets[key] {
			out.add(id)
		}
	}
	return out
}

func (fi *fieldIndex) kindStart(k valueKind) int {
	return sort.Search(len(fi.keys), func(i int) bool {
		return fi.keys[i].kind >= k
	})
}

func (fi *fieldIndex) kindEnd(k valueKind) int {
	return sort.Search(len(fi.keys), func(i int) bool {
		return fi.keys[i].kind > k
	})
}

// tableIndex holds a table's built field indexes. Indexes build lazily
// on first use and are patched on every write; patching is idempotent
// (set semantics), so a concurrent build from a newer snapshot followed
// by the same patch converges to the same state.
type tableIndex struct {
	mu     sync.Mutex
	fields map[string]*fieldIndex
}

func newTableIndex() *tableIndex {
	return &tableIndex{fields: make(map[string]*fieldIndex)}
}

func (ti *tableIndex) ensureLocked(field string, docs []*Document) *fieldIndex {
	fi := ti.fields[field]
	if fi == nil {
		fi = buildFieldIndex(field, docs)
		ti.fields[field] = fi
	}
	return fi
}

// search evaluates one index-capable predicate against the field's
// index, building it from docs on first use. The lock is held for the
// whole lookup and the returned set is owned by the caller, so patch
// can run concurrently with readers.
func (ti *tableIndex) search(field string, docs []*Document, pr Predicate) idSet {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	fi := ti.ensureLocked(field, docs)
	switch pr.Op {
	case OpEq:
		return fi.lookup(normalizeValue(pr.Value)).clone()
	case OpIn:
		list, _ := valueList(pr.Value)
		return fi.lookupIn(list)
	default:
		return fi.lookupRange(pr.Op, normalizeValue(pr.Value))
	}
}

// searchEq reports the ids holding exactly value in field.
func (ti *tableIndex) searchEq(field string, docs []*Document, value any) idSet {
	return ti.search(field, docs, Predicate{Field: field, Op: OpEq, Value: value})
}

// patch updates built indexes for one document change. old is nil on
// create, next is nil on delete. Only buckets whose value actually
// changed are touched.
func (ti *tableIndex) patch(old, next *Document) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	for field, fi := range ti.fields {
		var oldKey, newKey indexKey
		oldKey.kind = kindNull
		newKey.kind = kindNull
		if old != nil {
			oldKey = normalizeValue(old.Field(field))
		}
		if next != nil {
			newKey = normalizeValue(next.Field(field))
		}
		if old != nil && next != nil && old.ID == next.ID && compareKeys(oldKey, newKey) == 0 {
			continue
		}
		if old != nil {
			fi.delete(oldKey, old.ID)
		}
		if next != nil {
			fi.insert(newKey, next.ID)
		}
	}
}

// drop discards all built indexes (used on restore and repair).
func (ti *tableIndex) drop() {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.fields = make(map[string]*fieldIndex)
}
