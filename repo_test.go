package docdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type testUser struct {
	Email string `msgpack:"email"`
	Name  string `msgpack:"name,omitempty"`
	Age   int64  `msgpack:"age,omitempty"`
}

func TestRepoLifecycle(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()
	users := NewRepo[testUser](db, "users")

	rec, err := users.Create(ctx, testUser{Email: "ann@example.com", Name: "Ann", Age: 34})
	require.NoError(t, err)
	require.Equal(t, uint64(1), rec.ID)
	require.Positive(t, rec.CreatedAt)
	require.Equal(t, "Ann", rec.Data.Name)

	got, err := users.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.Data, got.Data)

	missing, err := users.Get(ctx, 99)
	require.NoError(t, err)
	require.Nil(t, missing)

	patched, err := users.Patch(ctx, rec.ID, map[string]any{"age": 35})
	require.NoError(t, err)
	require.Equal(t, int64(35), patched.Data.Age)
	require.Equal(t, "Ann", patched.Data.Name)

	ok, err := users.Delete(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRepoQueries(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()
	users := NewRepo[testUser](db, "users")

	for _, u := range []testUser{
		{Email: "ann@example.com", Name: "Ann", Age: 34},
		{Email: "bob@example.com", Name: "Bob", Age: 28},
		{Email: "cleo@example.com", Name: "Cleo", Age: 41},
	} {
		_, err := users.Create(ctx, u)
		require.NoError(t, err)
	}

	recs, err := users.Find(ctx, Q(users.Table()).Where("age", OpGte, 30).OrderByDesc("age"))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "Cleo", recs[0].Data.Name)
	require.Equal(t, "Ann", recs[1].Data.Name)

	one, err := users.FindOne(ctx, Q(users.Table()).Where("email", OpEq, "bob@example.com"))
	require.NoError(t, err)
	require.Equal(t, int64(28), one.Data.Age)

	none, err := users.FindOne(ctx, Q(users.Table()).Where("email", OpEq, "nope"))
	require.NoError(t, err)
	require.Nil(t, none)

	n, err := users.Count(ctx, Q(users.Table()).Where("age", OpLt, 40))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// Typed constraints still apply.
	_, err = users.Create(ctx, testUser{Email: "ann@example.com"})
	var cv *ConstraintViolation
	require.ErrorAs(t, err, &cv)
}

func TestRepoUpdate(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()
	users := NewRepo[testUser](db, "users")

	rec, err := users.Create(ctx, testUser{Email: "ann@example.com", Name: "Ann", Age: 34})
	require.NoError(t, err)

	// omitempty drops zero fields from the update, so merge keeps them.
	updated, err := users.Update(ctx, rec.ID, testUser{Email: "ann@example.com", Age: 35})
	require.NoError(t, err)
	require.Equal(t, int64(35), updated.Data.Age)
	require.Equal(t, "Ann", updated.Data.Name)
}
