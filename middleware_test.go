package docdb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBeforeCreateTransformsInput(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	db.Before(func(ctx context.Context, op Operation, table string, data any) (any, error) {
		if op != OpCreate || table != "users" {
			return data, nil
		}
		fields := data.(map[string]any)
		if _, ok := fields["active"]; !ok {
			fields["active"] = true
		}
		return fields, nil
	})

	doc, err := db.Create(ctx, "users", map[string]any{"email": "ann@example.com"})
	require.NoError(t, err)
	require.Equal(t, true, doc.Fields["active"])
}

func TestMiddlewareErrorAborts(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	boom := errors.New("rejected")
	db.Before(func(ctx context.Context, op Operation, table string, data any) (any, error) {
		if op == OpCreate {
			return nil, boom
		}
		return data, nil
	})

	_, err := db.Create(ctx, "users", map[string]any{"email": "ann@example.com"})
	require.ErrorIs(t, err, boom)

	// Nothing was persisted.
	n, err := db.Count(ctx, Q("users"))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestMiddlewareOrderAndOperations(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	var trace []string
	record := func(tag string) Handler {
		return func(ctx context.Context, op Operation, table string, data any) (any, error) {
			trace = append(trace, tag+":"+string(op))
			return data, nil
		}
	}
	db.Before(record("b1"))
	db.Before(record("b2"))
	db.After(record("a1"))

	doc, err := db.Create(ctx, "users", map[string]any{"email": "ann@example.com"})
	require.NoError(t, err)
	_, err = db.Update(ctx, "users", doc.ID, map[string]any{"name": "Ann"})
	require.NoError(t, err)
	_, err = db.Find(ctx, Q("users"))
	require.NoError(t, err)
	_, err = db.Delete(ctx, "users", doc.ID)
	require.NoError(t, err)

	require.Equal(t, []string{
		"b1:create", "b2:create", "a1:create",
		"b1:update", "b2:update", "a1:update",
		"b1:select", "b2:select", "a1:select",
		"b1:delete", "b2:delete", "a1:delete",
	}, trace)
}

func TestAfterSelectObservesResults(t *testing.T) {
	db, _ := openTestDB(t)
	seedUsers(t, db)
	ctx := context.Background()

	var seen int
	db.After(func(ctx context.Context, op Operation, table string, data any) (any, error) {
		if op == OpSelect {
			seen = len(data.([]*Document))
		}
		return data, nil
	})

	docs, err := db.Find(ctx, Q("users").Where("age", OpGte, 30))
	require.NoError(t, err)
	require.Equal(t, len(docs), seen)
}

func TestCountAndAggregateRunSelectHooks(t *testing.T) {
	db, _ := openTestDB(t)
	seedUsers(t, db)
	ctx := context.Background()

	var trace []string
	var observed []any
	db.Before(func(ctx context.Context, op Operation, table string, data any) (any, error) {
		trace = append(trace, "before:"+string(op))
		return data, nil
	})
	db.After(func(ctx context.Context, op Operation, table string, data any) (any, error) {
		trace = append(trace, "after:"+string(op))
		observed = append(observed, data)
		return data, nil
	})

	n, err := db.Count(ctx, Q("users").Where("active", OpEq, true))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	avg, err := db.Aggregate(ctx, Q("users"), AggAvg, "age")
	require.NoError(t, err)

	require.Equal(t, []string{
		"before:select", "after:select",
		"before:select", "after:select",
	}, trace)
	require.Equal(t, []any{n, avg}, observed)
}

func TestBeforeSelectNarrowsCount(t *testing.T) {
	db, _ := openTestDB(t)
	seedUsers(t, db)
	ctx := context.Background()

	db.Before(func(ctx context.Context, op Operation, table string, data any) (any, error) {
		if op == OpSelect {
			return Q(table).Where("active", OpEq, true), nil
		}
		return data, nil
	})

	n, err := db.Count(ctx, Q("users"))
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
