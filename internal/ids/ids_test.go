package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIsMonotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 1000; i++ {
		next := New()
		require.Less(t, prev, next)
		prev = next
	}
	require.True(t, Valid(prev))
	require.False(t, Valid("not-an-id"))
}
