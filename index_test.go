package docdb

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func doc(id uint64, fields map[string]any) *Document {
	return &Document{ID: id, Fields: fields}
}

func TestFieldIndexLookup(t *testing.T) {
	docs := []*Document{
		doc(1, map[string]any{"age": 30}),
		doc(2, map[string]any{"age": 20}),
		doc(3, map[string]any{"age": 30}),
		doc(4, map[string]any{"age": nil}),
		doc(5, map[string]any{"name": "x"}),
	}
	fi := buildFieldIndex("age", docs)

	require.ElementsMatch(t, []uint64{1, 3}, setIDs(fi.lookup(normalizeValue(30))))
	require.ElementsMatch(t, []uint64{2}, setIDs(fi.lookup(normalizeValue(20))))
	require.Empty(t, setIDs(fi.lookup(normalizeValue(99))))

	// Nulls and absent fields are not indexed.
	require.Empty(t, setIDs(fi.lookup(normalizeValue(nil))))

	require.ElementsMatch(t, []uint64{1, 2, 3},
		setIDs(fi.lookupIn([]any{20, 30, 99})))
}

func TestFieldIndexRange(t *testing.T) {
	docs := []*Document{
		doc(1, map[string]any{"v": 10}),
		doc(2, map[string]any{"v": 20}),
		doc(3, map[string]any{"v": 30}),
		doc(4, map[string]any{"v": "str"}),
		doc(5, map[string]any{"v": true}),
	}
	fi := buildFieldIndex("v", docs)

	require.ElementsMatch(t, []uint64{2, 3}, setIDs(fi.lookupRange(OpGt, normalizeValue(10))))
	require.ElementsMatch(t, []uint64{1, 2, 3}, setIDs(fi.lookupRange(OpGte, normalizeValue(10))))
	require.ElementsMatch(t, []uint64{1}, setIDs(fi.lookupRange(OpLt, normalizeValue(20))))
	require.ElementsMatch(t, []uint64{1, 2}, setIDs(fi.lookupRange(OpLte, normalizeValue(20))))

	// Ranges stay within the operand's kind: no string or bool bleeds
	// into a numeric range.
	require.ElementsMatch(t, []uint64{1, 2, 3}, setIDs(fi.lookupRange(OpGt, normalizeValue(-1))))
	require.ElementsMatch(t, []uint64{4}, setIDs(fi.lookupRange(OpGte, normalizeValue("a"))))
}

func TestTableIndexPatchIdempotent(t *testing.T) {
	docs := []*Document{
		doc(1, map[string]any{"age": 30}),
		doc(2, map[string]any{"age": 20}),
	}
	ti := newTableIndex()
	ti.searchEq("age", docs, 30) // builds the field index

	next := doc(1, map[string]any{"age": 35})
	ti.patch(docs[0], next)
	ti.patch(docs[0], next) // replay converges

	require.Empty(t, setIDs(ti.searchEq("age", nil, 30)))
	require.ElementsMatch(t, []uint64{1}, setIDs(ti.searchEq("age", nil, 35)))

	ti.patch(next, nil)
	require.Empty(t, setIDs(ti.searchEq("age", nil, 35)))
	require.ElementsMatch(t, []uint64{2}, setIDs(ti.searchEq("age", nil, 20)))
}

// An index changes the execution plan, never the results.
func TestIndexScanEquivalence(t *testing.T) {
	drv := NewMemDriver()
	disc := Tables(TableSchema{Name: "people", Fields: []FieldDef{
		{Name: "age", Type: TypeInt, Indexed: true},
		{Name: "shadow", Type: TypeInt}, // same values, not indexed
	}})
	db, err := Open(context.Background(), disc, Options{Driver: drv})
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		age := rng.Intn(90)
		_, err := db.Create(ctx, "people", map[string]any{"age": age, "shadow": age})
		require.NoError(t, err)
	}

	for _, tc := range []struct {
		op    Op
		bound int
	}{
		{OpEq, 42}, {OpGt, 60}, {OpGte, 60}, {OpLt, 18}, {OpLte, 18},
	} {
		t.Run(fmt.Sprintf("%s_%d", tc.op, tc.bound), func(t *testing.T) {
			indexed, err := db.Find(ctx, Q("people").Where("age", tc.op, tc.bound))
			require.NoError(t, err)
			scanned, err := db.Find(ctx, Q("people").Where("shadow", tc.op, tc.bound))
			require.NoError(t, err)
			require.Equal(t, ids(scanned), ids(indexed))
			require.NotEmpty(t, indexed)
		})
	}

	// Combined indexed + scanned predicates intersect correctly.
	both, err := db.Find(ctx, Q("people").
		Where("age", OpGte, 30).
		Where("shadow", OpLt, 40))
	require.NoError(t, err)
	for _, d := range both {
		age := d.Fields["age"].(int64)
		require.GreaterOrEqual(t, age, int64(30))
		require.Less(t, age, int64(40))
	}
	require.NotEmpty(t, both)
}

// Indexed lookups keep working while writes patch the same index.
// Meant to run under the race detector.
func TestIndexedQueriesDuringWrites(t *testing.T) {
	disc := Tables(TableSchema{Name: "people", Fields: []FieldDef{
		{Name: "age", Type: TypeInt, Indexed: true},
		{Name: "city", Type: TypeString, Indexed: true},
	}})
	db, err := Open(context.Background(), disc, Options{Driver: NewMemDriver(), NoCache: true})
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		_, err := db.Create(ctx, "people", map[string]any{"age": i, "city": "aarhus"})
		require.NoError(t, err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				docs, err := db.Find(ctx, Q("people").
					Where("age", OpGte, 10).
					Where("city", OpEq, "aarhus"))
				if err != nil {
					t.Error(err)
					return
				}
				for _, d := range docs {
					if d.Fields["age"].(int64) < 10 {
						t.Errorf("age %v below bound", d.Fields["age"])
						return
					}
				}
			}
		}()
	}

	for i := uint64(1); i <= 50; i++ {
		_, err := db.Update(ctx, "people", i, map[string]any{"age": int(i) + 100})
		require.NoError(t, err)
		_, err = db.Create(ctx, "people", map[string]any{"age": int(i), "city": "odense"})
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}

// A null in an in-list matches null documents whether or not the field
// is indexed.
func TestInListWithNull(t *testing.T) {
	disc := Tables(TableSchema{Name: "people", Fields: []FieldDef{
		{Name: "age", Type: TypeInt, Indexed: true},
		{Name: "shadow", Type: TypeInt}, // same values, not indexed
	}})
	db, err := Open(context.Background(), disc, Options{Driver: NewMemDriver()})
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	for _, row := range []map[string]any{
		{"age": 30, "shadow": 30},
		{"age": nil, "shadow": nil},
		{"age": 7, "shadow": 7},
	} {
		_, err := db.Create(ctx, "people", row)
		require.NoError(t, err)
	}

	indexed, err := db.Find(ctx, Q("people").Where("age", OpIn, []any{nil, 30}))
	require.NoError(t, err)
	scanned, err := db.Find(ctx, Q("people").Where("shadow", OpIn, []any{nil, 30}))
	require.NoError(t, err)

	require.Equal(t, []uint64{1, 2}, ids(indexed))
	require.Equal(t, ids(scanned), ids(indexed))
}

func setIDs(s idSet) []uint64 {
	var out []uint64
	for id := range s {
		out = append(out, id)
	}
	return out
}
