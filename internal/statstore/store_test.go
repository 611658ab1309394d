package statstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Driver: "sqlite3", DSN: "file::memory:?cache=shared"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Lookup_UnknownAddress_ReturnsZeroReputation(t *testing.T) {
	s := newTestStore(t)
	rep, err := s.Lookup(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Equal(t, Reputation{}, rep)
	assert.Equal(t, 0.0, rep.Ratio())
}

func TestStore_RecordSpam_IncrementsCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSpam(ctx, "spammer@example.com"))
	require.NoError(t, s.RecordSpam(ctx, "spammer@example.com"))

	rep, err := s.Lookup(ctx, "SPAMMER@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rep.SpamCount)
	assert.Equal(t, int64(0), rep.HamCount)
}

func TestStore_RecordHam_IncrementsCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordHam(ctx, "friend@example.com"))

	rep, err := s.Lookup(ctx, "friend@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.HamCount)
}

func TestReputation_Ratio(t *testing.T) {
	rep := Reputation{SpamCount: 3, HamCount: 1}
	assert.Equal(t, 0.75, rep.Ratio())
}

func TestStore_MixedSpamAndHam_AffectsRatio(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSpam(ctx, "mixed@example.com"))
	require.NoError(t, s.RecordSpam(ctx, "mixed@example.com"))
	require.NoError(t, s.RecordHam(ctx, "mixed@example.com"))

	rep, err := s.Lookup(ctx, "mixed@example.com")
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, rep.Ratio(), 0.001)
}
