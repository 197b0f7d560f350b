package idx_test

import (
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/idx"
	"github.com/stretchr/testify/require"
)

func TestNewAndParse(t *testing.T) {
	id := idx.New()
	require.Len(t, id.String(), 26)

	parsed, err := idx.Parse(" " + id.String() + " ")
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	lower, err := idx.Parse(strings.ToLower(id.String()))
	require.NoError(t, err)
	require.Equal(t, id, lower, "parsing canonicalises case")
}

func TestMonotonicWithinMillisecond(t *testing.T) {
	at := time.Unix(1700000000, 0).UTC()
	prev := idx.NewAt(at)
	for range 100 {
		next := idx.NewAt(at)
		require.Less(t, prev.String(), next.String())
		prev = next
	}
}

func TestTimeExtraction(t *testing.T) {
	tm := time.Unix(1700000000, 0).UTC()
	require.WithinDuration(t, tm, idx.NewAt(tm).Time(), time.Millisecond)
	require.True(t, idx.ID("").Time().IsZero())
}

func TestValid(t *testing.T) {
	require.True(t, idx.Valid("01HQ7T3Z1MZ0JQ3M6MZQ1FQ3ZV"))
	require.False(t, idx.Valid(""))
	require.False(t, idx.Valid("not-a-ulid"))
	require.False(t, idx.Valid("../../etc/passwd"))
}
