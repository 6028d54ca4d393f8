package docdb

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Op is a predicate operator.
type Op uint8

const (
	OpEq Op = iota
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
	OpLike  // case-sensitive substring
	OpILike // case-insensitive substring
	OpIn
	OpNotIn
	OpIsNull
	OpIsNotNull
)

var opNames = map[Op]string{
	OpEq:        "eq",
	OpNe:        "ne",
	OpGt:        "gt",
	OpGte:       "gte",
	OpLt:        "lt",
	OpLte:       "lte",
	OpLike:      "like",
	OpILike:     "ilike",
	OpIn:        "in",
	OpNotIn:     "not_in",
	OpIsNull:    "is_null",
	OpIsNotNull: "is_not_null",
}

func (op Op) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", op)
}

// ParseOp resolves an operator by its textual name ("eq", "gte", ...).
func ParseOp(s string) (Op, bool) {
	for op, name := range opNames {
		if name == s {
			return op, true
		}
	}
	return 0, false
}

// Predicate is one field/operator/value test. Predicates in a query are
// combined with logical AND.
type Predicate struct {
	Field string
	Op    Op
	Value any
}

// match reports whether doc satisfies the predicate. An absent field is
// treated as null: only is_null (and eq/ne with a nil operand, which
// explicitly test nullness) can match it; comparisons and substring
// operators never do. not_in follows membership semantics: null is not
// a member of any list.
func (p Predicate) match(doc *Document) bool {
	rv := doc.Field(p.Field)
	rk := normalizeValue(rv)
	switch p.Op {
	case OpEq:
		if p.Value == nil {
			return rk.isNull()
		}
		return !rk.isNull() && equalValues(rv, p.Value)
	case OpNe:
		if p.Value == nil {
			return !rk.isNull()
		}
		return !rk.isNull() && !equalValues(rv, p.Value)
	case OpGt, OpGte, OpLt, OpLte:
		bound := normalizeValue(p.Value)
		if rk.isNull() || bound.isNull() || rk.kind != bound.kind {
			return false
		}
		c := compareKeys(rk, bound)
		switch p.Op {
		case OpGt:
			return c > 0
		case OpGte:
			return c >= 0
		case OpLt:
			return c < 0
		default:
			return c <= 0
		}
	case OpLike, OpILike:
		s, ok := rv.(string)
		if !ok {
			return false
		}
		needle, ok := p.Value.(string)
		if !ok {
			return false
		}
		if p.Op == OpILike {
			return strings.Contains(strings.ToLower(s), strings.ToLower(needle))
		}
		return strings.Contains(s, needle)
	case OpIn:
		list, _ := valueList(p.Value)
		return listContains(list, rv)
	case OpNotIn:
		list, _ := valueList(p.Value)
		return !listContains(list, rv)
	case OpIsNull:
		return rk.isNull()
	case OpIsNotNull:
		return !rk.isNull()
	default:
		return false
	}
}

// indexable reports whether the predicate can be answered from an
// index bucket lookup or range scan. Null operands disqualify: nulls
// are never indexed, but eq-null and in-with-null can still match
// null documents on a scan.
func (p Predicate) indexable() bool {
	switch p.Op {
	case OpEq:
		return p.Value != nil
	case OpIn:
		list, ok := valueList(p.Value)
		if !ok {
			return false
		}
		for _, v := range list {
			if normalizeValue(v).isNull() {
				return false
			}
		}
		return true
	case OpGt, OpGte, OpLt, OpLte:
		return !normalizeValue(p.Value).isNull()
	default:
		return false
	}
}

// SortKey is one key of a multi-key sort.
type SortKey struct {
	Field string
	Desc  bool
}

// Query is a declarative filter/sort/paginate description for one
// table, built fluently and validated when it is planned.
type Query struct {
	table   string
	preds   []Predicate
	sort    []SortKey
	limit   int
	offset  int
	project []string
	err     error
}

// Q starts a query against a table.
func Q(table string) *Query {
	return &Query{table: table, limit: -1}
}

func (q *Query) Table() string { return q.table }

// Where adds a predicate.
func (q *Query) Where(field string, op Op, value any) *Query {
	q.preds = append(q.preds, Predicate{Field: field, Op: op, Value: value})
	return q
}

// WhereCond adds a predicate from a combined "field__operator" key; a
// key without "__" means equality.
func (q *Query) WhereCond(cond string, value any) *Query {
	field, opName, found := strings.Cut(cond, "__")
	if !found {
		return q.Where(field, OpEq, value)
	}
	op, ok := ParseOp(opName)
	if !ok {
		if q.err == nil {
			q.err = queryErrf("unrecognized operator %q in %q", opName, cond)
		}
		return q
	}
	return q.Where(field, op, value)
}

// Match adds one predicate per map entry, parsing "field__operator"
// keys.
func (q *Query) Match(conds map[string]any) *Query {
	keys := make([]string, 0, len(conds))
	for k := range conds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.WhereCond(k, conds[k])
	}
	return q
}

// OrderBy appends an ascending sort key.
func (q *Query) OrderBy(field string) *Query {
	q.sort = append(q.sort, SortKey{Field: field})
	return q
}

// OrderByDesc appends a descending sort key.
func (q *Query) OrderByDesc(field string) *Query {
	q.sort = append(q.sort, SortKey{Field: field, Desc: true})
	return q
}

func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

func (q *Query) Offset(n int) *Query {
	q.offset = n
	return q
}

// Select restricts returned documents to the named fields.
func (q *Query) Select(fields ...string) *Query {
	q.project = append(q.project, fields...)
	return q
}

// plan validates the query. It fails with *QueryError before any I/O.
func (q *Query) plan() (*queryPlan, error) {
	if q.err != nil {
		return nil, q.err
	}
	if q.table == "" {
		return nil, queryErrf("no table")
	}
	if q.offset < 0 {
		return nil, queryErrf("negative offset %d", q.offset)
	}
	for _, p := range q.preds {
		if p.Field == "" {
			return nil, queryErrf("predicate with empty field")
		}
		if _, ok := opNames[p.Op]; !ok {
			return nil, queryErrf("unrecognized operator %d on %q", p.Op, p.Field)
		}
		if p.Op == OpIn || p.Op == OpNotIn {
			if _, ok := valueList(p.Value); !ok {
				return nil, queryErrf("%s on %q requires a list, got %T", p.Op, p.Field, p.Value)
			}
		}
	}
	return &queryPlan{
		table:   q.table,
		preds:   q.preds,
		sort:    q.sort,
		limit:   q.limit,
		offset:  q.offset,
		project: q.project,
	}, nil
}

type queryPlan struct {
	table   string
	preds   []Predicate
	sort    []SortKey
	limit   int
	offset  int
	project []string
}

// fingerprint hashes the plan's shape. The predicate set is normalized
// by sorting canonical predicate strings, so equivalent queries built
// in any order share a key.
func (p *queryPlan) fingerprint() uint64 {
	preds := make([]string, len(p.preds))
	for i, pr := range p.preds {
		preds[i] = pr.Field + "\x01" + pr.Op.String() + "\x01" + canonValue(pr.Value)
	}
	sort.Strings(preds)

	h := xxhash.New()
	writeFp := func(s string) {
		must(h.WriteString(s))
		must(h.Write([]byte{0}))
	}
	writeFp(p.table)
	for _, s := range preds {
		writeFp(s)
	}
	writeFp("\x02")
	for _, sk := range p.sort {
		if sk.Desc {
			writeFp("-" + sk.Field)
		} else {
			writeFp("+" + sk.Field)
		}
	}
	writeFp(fmt.Sprintf("l%d,o%d", p.limit, p.offset))
	for _, f := range p.project {
		writeFp("p" + f)
	}
	return h.Sum64()
}

func canonValue(v any) string {
	if list, ok := valueList(v); ok {
		parts := make([]string, len(list))
		for i, item := range list {
			parts[i] = normalizeValue(item).String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return normalizeValue(v).String()
}
