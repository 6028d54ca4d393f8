package docdb

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheHitAndInvalidation(t *testing.T) {
	db, _ := openTestDB(t)
	seedUsers(t, db)
	ctx := context.Background()

	q := func() *Query { return Q("users").Where("age", OpGte, 30) }

	first, err := db.Find(ctx, q())
	require.NoError(t, err)
	misses := db.cache.misses.Load()

	second, err := db.Find(ctx, q())
	require.NoError(t, err)
	require.Equal(t, ids(first), ids(second))
	require.Equal(t, misses, db.cache.misses.Load())
	require.Positive(t, db.cache.hits.Load())

	// Any write to the table drops its cached results.
	mkUser(t, db, "zoe@example.com", 77)
	third, err := db.Find(ctx, q())
	require.NoError(t, err)
	require.Len(t, third, len(first)+1)
	require.Greater(t, db.cache.misses.Load(), misses)
}

func TestCacheInvalidationIsPerTable(t *testing.T) {
	db, _ := openTestDB(t)
	seedUsers(t, db)
	ctx := context.Background()

	_, err := db.Find(ctx, Q("users").Where("age", OpGte, 30))
	require.NoError(t, err)
	require.Equal(t, 1, db.cache.size())

	// A write to another table leaves the entry alone.
	_, err = db.Create(ctx, "posts", map[string]any{"title": "x"})
	require.NoError(t, err)
	require.Equal(t, 1, db.cache.size())

	hits := db.cache.hits.Load()
	_, err = db.Find(ctx, Q("users").Where("age", OpGte, 30))
	require.NoError(t, err)
	require.Equal(t, hits+1, db.cache.hits.Load())
}

func TestCacheEviction(t *testing.T) {
	c := newResultCache(2)
	c.put(1, "t", []*Document{doc(1, nil)})
	c.put(2, "t", []*Document{doc(2, nil)})
	c.put(3, "t", []*Document{doc(3, nil)})
	require.Equal(t, 2, c.size())

	// Oldest entry is gone, newest remain.
	_, ok := c.get(1)
	require.False(t, ok)
	_, ok = c.get(2)
	require.True(t, ok)
	_, ok = c.get(3)
	require.True(t, ok)

	// A hit refreshes recency.
	_, _ = c.get(2)
	c.put(4, "t", []*Document{doc(4, nil)})
	_, ok = c.get(2)
	require.True(t, ok)
	_, ok = c.get(3)
	require.False(t, ok)
}

// A result computed before a write must not enter the cache after that
// write invalidated the table.
func TestCachePutCheckedRejectsStaleGeneration(t *testing.T) {
	c := newResultCache(8)
	var gen atomic.Uint64

	snapshotGen := gen.Load()
	gen.Add(1) // concurrent write lands
	c.invalidate("t")

	c.putChecked(7, "t", []*Document{doc(1, nil)}, snapshotGen, &gen)
	_, ok := c.get(7)
	require.False(t, ok)

	// With no intervening write the result is stored.
	c.putChecked(7, "t", []*Document{doc(1, nil)}, gen.Load(), &gen)
	_, ok = c.get(7)
	require.True(t, ok)
}

func TestDisabledCacheSameResults(t *testing.T) {
	drv := NewMemDriver()
	ctx := context.Background()
	cached, err := Open(ctx, testSchemas(), Options{Driver: drv})
	require.NoError(t, err)
	defer cached.Close()
	seedUsers(t, cached)

	d2 := NewMemDriver()
	uncached, err := Open(ctx, testSchemas(), Options{Driver: d2, NoCache: true})
	require.NoError(t, err)
	defer uncached.Close()
	seedUsers(t, uncached)

	for _, q := range []func() *Query{
		func() *Query { return Q("users").Where("age", OpGte, 30).OrderByDesc("age") },
		func() *Query { return Q("users").Where("name", OpILike, "an") },
	} {
		a, err := cached.Find(ctx, q())
		require.NoError(t, err)
		b, err := uncached.Find(ctx, q())
		require.NoError(t, err)
		require.Equal(t, ids(a), ids(b))

		// Run twice: the second cached read comes from the cache.
		a2, err := cached.Find(ctx, q())
		require.NoError(t, err)
		require.Equal(t, ids(a), ids(a2))
	}
	require.Zero(t, uncached.cache.size())
}

func TestCachedResultsAreIsolated(t *testing.T) {
	db, _ := openTestDB(t)
	seedUsers(t, db)
	ctx := context.Background()

	q := func() *Query { return Q("users").Where("age", OpEq, 34) }
	first, err := db.Find(ctx, q())
	require.NoError(t, err)
	first[0].Fields["name"] = "mutated"

	second, err := db.Find(ctx, q())
	require.NoError(t, err)
	require.Equal(t, "Ann", second[0].Fields["name"])
}
