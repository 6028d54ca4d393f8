package docdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeValueKinds(t *testing.T) {
	require.Equal(t, kindNull, normalizeValue(nil).kind)
	require.Equal(t, kindBool, normalizeValue(true).kind)
	require.Equal(t, kindNumber, normalizeValue(7).kind)
	require.Equal(t, kindNumber, normalizeValue(int64(7)).kind)
	require.Equal(t, kindNumber, normalizeValue(uint8(7)).kind)
	require.Equal(t, kindNumber, normalizeValue(7.5).kind)
	require.Equal(t, kindString, normalizeValue("x").kind)
	require.Equal(t, kindOther, normalizeValue([]byte("x")).kind)
}

func TestEqualValuesAcrossNumericTypes(t *testing.T) {
	require.True(t, equalValues(int(5), float64(5)))
	require.True(t, equalValues(int64(5), uint32(5)))
	require.False(t, equalValues(int(5), int(6)))
	require.False(t, equalValues(5, "5"))
	require.False(t, equalValues(1, true))
	require.True(t, equalValues("a", "a"))
}

func TestCompareValuesTotalOrder(t *testing.T) {
	// null < bool < number < string
	ordered := []any{nil, false, true, -2, 0, 3.5, int64(10), "", "a", "b"}
	for i := 0; i < len(ordered)-1; i++ {
		require.Negative(t, compareValues(ordered[i], ordered[i+1]),
			"%v should sort before %v", ordered[i], ordered[i+1])
	}
	require.Zero(t, compareValues(int(3), float64(3)))
}

func TestValueList(t *testing.T) {
	list, ok := valueList([]any{1, "a"})
	require.True(t, ok)
	require.Len(t, list, 2)

	list, ok = valueList([]int{1, 2, 3})
	require.True(t, ok)
	require.Len(t, list, 3)

	list, ok = valueList([]string{"a"})
	require.True(t, ok)
	require.Len(t, list, 1)

	_, ok = valueList(42)
	require.False(t, ok)

	require.True(t, listContains([]any{1, 2}, int64(2)))
	require.False(t, listContains([]any{1, 2}, 3))
	require.False(t, listContains([]any{1, 2}, nil))
}

func TestIndexKeyCanonicalString(t *testing.T) {
	// Equal values share a canonical form regardless of input type.
	require.Equal(t, normalizeValue(5).String(), normalizeValue(5.0).String())
	require.NotEqual(t, normalizeValue(5).String(), normalizeValue("5").String())
	require.Equal(t, "null", normalizeValue(nil).String())
}
