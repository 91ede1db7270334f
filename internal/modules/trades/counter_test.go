package trades

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	htesting "github.com/heraldlabs/herald/internal/testing"
)

func TestCounterMonotonic(t *testing.T) {
	db, cleanup := htesting.NewTestDB(t, "ledger")
	defer cleanup()

	counter := NewCounter(db.Conn(), zerolog.Nop())

	for want := int64(1); want <= 5; want++ {
		got, err := counter.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	current, err := counter.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(5), current)
}

func TestCounterSurvivesReopen(t *testing.T) {
	db, cleanup := htesting.NewTestDB(t, "ledger")
	defer cleanup()

	counter := NewCounter(db.Conn(), zerolog.Nop())
	for i := 0; i < 3; i++ {
		_, err := counter.Next()
		require.NoError(t, err)
	}

	// A second counter over the same database continues the sequence.
	other := NewCounter(db.Conn(), zerolog.Nop())
	got, err := other.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(4), got)
}
