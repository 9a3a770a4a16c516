package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "goldenacorn", Normalize("  Golden\tAcorn "))
	assert.Equal(t, "", Normalize(" \n"))
}

func TestNameIndex_Lookup(t *testing.T) {
	x := NewNameIndex()
	_, ok := x.Lookup("anything")
	assert.False(t, ok)

	x.Add("Acorn", "acorn")
	x.Add("Golden Acorn", "golden_acorn")
	x.Add("Mushroom", "mushroom")
	x.Add("Truffle", "truffle")
	require.Equal(t, 4, x.Len())

	// substring hits win, in sorted name order; otherwise the nearest
	// name at or after the input, then the greatest name.
	cases := []struct {
		in   string
		want string
	}{
		{"acorn", "acorn"},
		{"GOLDEN acorn", "golden_acorn"},
		{"room", "mushroom"},
		{"corn", "acorn"},
		{"bz", "golden_acorn"},
		{"zzz", "truffle"},
	}
	for _, tc := range cases {
		got, ok := x.Lookup(tc.in)
		require.True(t, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}
