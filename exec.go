package docdb

import "slices"

// filterPlan evaluates the plan's predicates against the table's
// committed snapshot and returns matching documents in id order,
// without sorting, pagination or projection.
//
// Index-capable predicates on indexed fields contribute candidate id
// sets (intersected across predicates); remaining predicates filter by
// scan. Every predicate is re-checked against the candidate documents,
// so an index can change performance but never results.
func (db *DB) filterPlan(ts *tableState, snap *snapshot, p *queryPlan) []*Document {
	var sets []idSet
	usedIndex := false
	for _, pr := range p.preds {
		if !pr.indexable() || !ts.indexed[pr.Field] {
			continue
		}
		set := ts.idx.search(pr.Field, snap.docs, pr)
		if set == nil {
			set = idSet{}
		}
		sets = append(sets, set)
		usedIndex = true
	}

	var candidates idSet
	if usedIndex {
		candidates = intersectSets(sets)
	}

	var out []*Document
docs:
	for _, doc := range snap.docs {
		if usedIndex && !candidates.has(doc.ID) {
			continue
		}
		for _, pr := range p.preds {
			if !pr.match(doc) {
				continue docs
			}
		}
		out = append(out, doc)
	}
	return out
}

// execPlan runs the full pipeline: filter, stable multi-key sort with
// id tiebreak, offset/limit, then snapshot isolation via clone (with
// projection applied if requested).
func (db *DB) execPlan(ts *tableState, snap *snapshot, p *queryPlan) []*Document {
	out := db.filterPlan(ts, snap, p)
	sortDocs(out, p.sort)

	if p.offset > 0 {
		if p.offset >= len(out) {
			out = nil
		} else {
			out = out[p.offset:]
		}
	}
	if p.limit >= 0 && p.limit < len(out) {
		out = out[:p.limit]
	}

	result := make([]*Document, len(out))
	for i, doc := range out {
		c := doc.clone()
		if len(p.project) > 0 {
			kept := make(map[string]any, len(p.project))
			for _, f := range p.project {
				if v, ok := c.Fields[f]; ok {
					kept[f] = v
				}
			}
			c.Fields = kept
		}
		result[i] = c
	}
	return result
}

// sortDocs sorts in place: stable across the given keys in order, with
// ties always broken by ascending identifier. With no keys, documents
// stay in identifier order.
func sortDocs(docs []*Document, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	slices.SortStableFunc(docs, func(a, b *Document) int {
		for _, k := range keys {
			c := compareValues(a.Field(k.Field), b.Field(k.Field))
			if c != 0 {
				if k.Desc {
					return -c
				}
				return c
			}
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
}
