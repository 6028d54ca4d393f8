package docdb

import (
	"fmt"
	"strings"
)

// valueKind is the coarse type of a document field value. Kinds impose a
// total order (null < bool < number < string < other) so mixed-type
// fields still sort and range-scan deterministically.
type valueKind uint8

const (
	kindNull valueKind = iota
	kindBool
	kindNumber
	kindString
	kindOther
)

// indexKey is the normalized, comparable form of a field value. It is
// used both as an index bucket key and as a sort key.
type indexKey struct {
	kind valueKind
	num  float64
	str  string
	b    bool
}

func normalizeValue(v any) indexKey {
	switch v := v.(type) {
	case nil:
		return indexKey{kind: kindNull}
	case bool:
		return indexKey{kind: kindBool, b: v}
	case int:
		return indexKey{kind: kindNumber, num: float64(v)}
	case int8:
		return indexKey{kind: kindNumber, num: float64(v)}
	case int16:
		return indexKey{kind: kindNumber, num: float64(v)}
	case int32:
		return indexKey{kind: kindNumber, num: float64(v)}
	case int64:
		return indexKey{kind: kindNumber, num: float64(v)}
	case uint:
		return indexKey{kind: kindNumber, num: float64(v)}
	case uint8:
		return indexKey{kind: kindNumber, num: float64(v)}
	case uint16:
		return indexKey{kind: kindNumber, num: float64(v)}
	case uint32:
		return indexKey{kind: kindNumber, num: float64(v)}
	case uint64:
		return indexKey{kind: kindNumber, num: float64(v)}
	case float32:
		return indexKey{kind: kindNumber, num: float64(v)}
	case float64:
		return indexKey{kind: kindNumber, num: v}
	case string:
		return indexKey{kind: kindString, str: v}
	default:
		return indexKey{kind: kindOther, str: fmt.Sprint(v)}
	}
}

func (k indexKey) isNull() bool { return k.kind == kindNull }

// String returns a canonical textual form, used for fingerprinting.
func (k indexKey) String() string {
	switch k.kind {
	case kindNull:
		return "null"
	case kindBool:
		if k.b {
			return "b:true"
		}
		return "b:false"
	case kindNumber:
		return fmt.Sprintf("n:%g", k.num)
	case kindString:
		return "s:" + k.str
	default:
		return "o:" + k.str
	}
}

func compareKeys(a, b indexKey) int {
	if a.kind != b.kind {
		return int(a.kind) - int(b.kind)
	}
	switch a.kind {
	case kindNull:
		return 0
	case kindBool:
		switch {
		case a.b == b.b:
			return 0
		case b.b:
			return -1
		default:
			return 1
		}
	case kindNumber:
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		default:
			return 0
		}
	default:
		return strings.Compare(a.str, b.str)
	}
}

func compareValues(a, b any) int {
	return compareKeys(normalizeValue(a), normalizeValue(b))
}

func equalValues(a, b any) bool {
	ka, kb := normalizeValue(a), normalizeValue(b)
	if ka.kind != kb.kind {
		return false
	}
	return compareKeys(ka, kb) == 0
}

// valueList coerces an operand of "in" / "not_in" to its element list.
func valueList(v any) ([]any, bool) {
	switch v := v.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, true
	case []int64:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, true
	case []uint64:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}

func listContains(list []any, v any) bool {
	for _, item := range list {
		if equalValues(item, v) {
			return true
		}
	}
	return false
}
